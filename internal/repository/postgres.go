package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mr1hm/disaster-live-feed/internal/models"
)

const insertChannel = "report_inserts"

const (
	listenerMinReconnect = 500 * time.Millisecond
	listenerMaxReconnect = 30 * time.Second
	listenerPingPeriod   = 90 * time.Second
)

// PostgresDB stores reports in Postgres. Inserts fire pg_notify through a
// trigger so subscribers wake without polling.
type PostgresDB struct {
	db  *sqlx.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}

	p := &PostgresDB{db: db, dsn: dsn}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}
	return p, nil
}

func (p *PostgresDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reports (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			text TEXT,
			disaster_type TEXT,
			severity TEXT,
			location_text TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			confidence DOUBLE PRECISION,
			occurred_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_reports_occurred_at ON reports(occurred_at);

		CREATE OR REPLACE FUNCTION notify_report_insert() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + insertChannel + `', NEW.seq::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS reports_notify_insert ON reports;
		CREATE TRIGGER reports_notify_insert AFTER INSERT ON reports
			FOR EACH ROW EXECUTE FUNCTION notify_report_insert();
	`

	_, err := p.db.Exec(schema)
	return err
}

func (p *PostgresDB) Insert(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var occurredAt sql.NullTime
	if !r.Timestamp.IsZero() {
		occurredAt = sql.NullTime{Time: r.Timestamp, Valid: true}
	}

	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO reports (id, text, disaster_type, severity, location_text,
			latitude, longitude, confidence, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		r.ID, nullString(r.Text), nullString(r.DisasterType), nullString(r.Severity),
		nullString(r.LocationText), nullFloat(r.Latitude), nullFloat(r.Longitude),
		r.Confidence, occurredAt, r.CreatedAt,
	).Scan(&r.Seq)
	if err != nil {
		return fmt.Errorf("error inserting report %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresDB) GetByID(ctx context.Context, id string) (*models.Report, error) {
	var row reportRow
	err := p.db.GetContext(ctx, &row, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying report %s: %w", id, err)
	}
	r := row.toReport()
	return &r, nil
}

func (p *PostgresDB) ListRecent(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []reportRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+reportColumns+` FROM reports ORDER BY seq DESC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}

	reports := make([]models.Report, len(rows))
	for i, row := range rows {
		reports[i] = row.toReport()
	}
	return reports, nil
}

func (p *PostgresDB) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting report %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error deleting report %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SubscribeInserts listens on the insert channel and catches up by seq on
// every notification, so a listener reconnect does not lose rows that are
// still stored. BIGSERIAL values are taken at insert time, not commit time,
// so skipped seqs are rechecked until they appear or age out.
func (p *PostgresDB) SubscribeInserts(ctx context.Context, resumeToken string) (InsertStream, error) {
	listener := pq.NewListener(p.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("postgres listener event", "event", ev, "error", err)
			}
		})
	if err := listener.Listen(insertChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("error listening on %s: %w", insertChannel, err)
	}

	after, err := p.startPoint(ctx, resumeToken)
	if err != nil {
		listener.Close()
		return nil, err
	}

	return &tailStream{
		after:    after,
		gaps:     newSeqGaps(maxTrackedGaps),
		fetch:    p.fetchAfter,
		backfill: p.fetchSeqs,
		wait: func(ctx context.Context) error {
			timer := time.NewTimer(listenerPingPeriod)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-listener.Notify:
				// A nil notification means the listener reconnected; the
				// caller re-queries either way.
				if !ok {
					return ErrStreamClosed
				}
				return nil
			case <-timer.C:
				if err := listener.Ping(); err != nil {
					return fmt.Errorf("postgres listener ping: %w", err)
				}
				return nil
			}
		},
		onClose: listener.Close,
	}, nil
}

func (p *PostgresDB) startPoint(ctx context.Context, resumeToken string) (int64, error) {
	if resumeToken != "" {
		return parseResumeToken(resumeToken)
	}
	var seq int64
	if err := p.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM reports`); err != nil {
		return 0, fmt.Errorf("error reading feed position: %w", err)
	}
	return seq, nil
}

func (p *PostgresDB) fetchAfter(ctx context.Context, after int64) ([]reportRow, error) {
	var rows []reportRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+reportColumns+` FROM reports WHERE seq > $1 ORDER BY seq LIMIT $2`, after, fetchBatch)
	if err != nil {
		return nil, fmt.Errorf("error tailing reports: %w", err)
	}
	return rows, nil
}

func (p *PostgresDB) fetchSeqs(ctx context.Context, seqs []int64) ([]reportRow, error) {
	var rows []reportRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+reportColumns+` FROM reports WHERE seq = ANY($1) ORDER BY seq`, pq.Array(seqs))
	if err != nil {
		return nil, fmt.Errorf("error reading late reports: %w", err)
	}
	return rows, nil
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}
