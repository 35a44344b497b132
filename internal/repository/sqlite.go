package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db           *sqlx.DB
	pollInterval time.Duration
}

func NewSQLiteDB(path string, pollInterval time.Duration) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db:           sqlx.NewDb(db, "sqlite"),
		pollInterval: pollInterval,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

// sqliteDSN sets a busy timeout on every connection so writes from other
// processes wait instead of failing with SQLITE_BUSY. File databases also run
// in WAL mode.
func sqliteDSN(path string) string {
	pragmas := "_pragma=busy_timeout(5000)"
	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reports (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			text TEXT,
			disaster_type TEXT,
			severity TEXT,
			location_text TEXT,
			latitude REAL,
			longitude REAL,
			confidence REAL,
			occurred_at TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_occurred_at ON reports(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_reports_disaster_type ON reports(disaster_type);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Insert(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var occurredAt sql.NullString
	if !r.Timestamp.IsZero() {
		occurredAt = nullString(r.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, text, disaster_type, severity, location_text,
			latitude, longitude, confidence, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullString(r.Text), nullString(r.DisasterType), nullString(r.Severity),
		nullString(r.LocationText), nullFloat(r.Latitude), nullFloat(r.Longitude),
		r.Confidence, occurredAt, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("error inserting report %s: %w", r.ID, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		r.Seq = seq
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying report %s: %w", id, err)
	}
	r := row.toReport()
	return &r, nil
}

func (s *SQLiteDB) ListRecent(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+reportColumns+` FROM reports ORDER BY seq DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}

	reports := make([]models.Report, len(rows))
	for i, row := range rows {
		reports[i] = row.toReport()
	}
	return reports, nil
}

func (s *SQLiteDB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
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

// SubscribeInserts tails the reports table by polling for rows past the last
// seen seq.
func (s *SQLiteDB) SubscribeInserts(ctx context.Context, resumeToken string) (InsertStream, error) {
	after, err := s.startPoint(ctx, resumeToken)
	if err != nil {
		return nil, err
	}

	return &tailStream{
		after: after,
		fetch: s.fetchAfter,
		wait: func(ctx context.Context) error {
			timer := time.NewTimer(s.pollInterval)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}, nil
}

func (s *SQLiteDB) startPoint(ctx context.Context, resumeToken string) (int64, error) {
	if resumeToken != "" {
		return parseResumeToken(resumeToken)
	}
	var seq int64
	if err := s.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM reports`); err != nil {
		return 0, fmt.Errorf("error reading feed position: %w", err)
	}
	return seq, nil
}

func (s *SQLiteDB) fetchAfter(ctx context.Context, after int64) ([]reportRow, error) {
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+reportColumns+` FROM reports WHERE seq > ? ORDER BY seq LIMIT ?`, after, fetchBatch)
	if err != nil {
		return nil, fmt.Errorf("error tailing reports: %w", err)
	}
	return rows, nil
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
