package models

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// ParseSeverity matches s against the three known labels, ignoring case and
// surrounding whitespace.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	default:
		return SeverityLow, false
	}
}

// AtLeast orders severities Low < Medium < High. Unknown values rank lowest.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank(s) >= severityRank(min)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AlertEvent is the canonical form of a detected report insert. It is passed
// by value and never modified after the normalizer builds it.
type AlertEvent struct {
	DisasterType string    `json:"disaster_type"`
	LocationText string    `json:"location_text"`
	Severity     Severity  `json:"severity"`
	OccurredAt   time.Time `json:"occurred_at"`
	SourceID     string    `json:"source_id"`
}
