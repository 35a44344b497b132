package models

import "time"

// RawRecord is one insert as yielded by a change feed source. Zero values
// mean the field was absent in the stored document.
type RawRecord struct {
	ID           string // Source identifier of the stored report
	DisasterType string
	Severity     string // Free text as written by the classifier
	LocationText string
	OccurredAt   time.Time
	Text         string
	Confidence   float64
	Latitude     *float64
	Longitude    *float64
	Raw          []byte // original document for debugging
	ResumeToken  string // opaque feed position, handed back on resubscribe
}

// Report is a persisted disaster report as seen by the read side.
type Report struct {
	Seq          int64
	ID           string
	Text         string
	DisasterType string
	Severity     string
	LocationText string
	Latitude     *float64
	Longitude    *float64
	Confidence   float64
	Timestamp    time.Time // when the report says the event occurred
	CreatedAt    time.Time // when the row was inserted
}

// HasLocation reports whether the report carries coordinates.
func (r *Report) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}
