package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

const reportColumns = `seq, id, text, disaster_type, severity, location_text,
	latitude, longitude, confidence, occurred_at, created_at`

// reportRow is shared by both SQL backends. Timestamps scan as strings:
// SQLite stores RFC3339 text and database/sql formats Postgres timestamps
// as RFC3339Nano when the destination is a string.
type reportRow struct {
	Seq          int64           `db:"seq"`
	ID           string          `db:"id"`
	Text         sql.NullString  `db:"text"`
	DisasterType sql.NullString  `db:"disaster_type"`
	Severity     sql.NullString  `db:"severity"`
	LocationText sql.NullString  `db:"location_text"`
	Latitude     sql.NullFloat64 `db:"latitude"`
	Longitude    sql.NullFloat64 `db:"longitude"`
	Confidence   sql.NullFloat64 `db:"confidence"`
	OccurredAt   sql.NullString  `db:"occurred_at"`
	CreatedAt    string          `db:"created_at"`
}

func (r reportRow) toReport() models.Report {
	out := models.Report{
		Seq:          r.Seq,
		ID:           r.ID,
		Text:         r.Text.String,
		DisasterType: r.DisasterType.String,
		Severity:     r.Severity.String,
		LocationText: r.LocationText.String,
		Confidence:   r.Confidence.Float64,
		Timestamp:    parseTime(r.OccurredAt.String),
		CreatedAt:    parseTime(r.CreatedAt),
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		lat, lon := r.Latitude.Float64, r.Longitude.Float64
		out.Latitude = &lat
		out.Longitude = &lon
	}
	return out
}

func (r reportRow) toRawRecord() models.RawRecord {
	rep := r.toReport()
	return models.RawRecord{
		ID:           rep.ID,
		DisasterType: rep.DisasterType,
		Severity:     rep.Severity,
		LocationText: rep.LocationText,
		OccurredAt:   rep.Timestamp,
		Text:         rep.Text,
		Confidence:   rep.Confidence,
		Latitude:     rep.Latitude,
		Longitude:    rep.Longitude,
		ResumeToken:  strconv.FormatInt(r.Seq, 10),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func parseResumeToken(token string) (int64, error) {
	seq, err := strconv.ParseInt(token, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid resume token %q", token)
	}
	return seq, nil
}
