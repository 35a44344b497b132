package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

var ErrMalformedRecord = errors.New("malformed record")

const UnknownLocation = "unknown location"

// Normalize turns a raw insert record into an AlertEvent. Severity is decided
// here once and falls back to Low.
func Normalize(raw models.RawRecord) (models.AlertEvent, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return models.AlertEvent{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	disasterType := strings.TrimSpace(raw.DisasterType)
	if disasterType == "" {
		return models.AlertEvent{}, fmt.Errorf("%w: missing disaster_type", ErrMalformedRecord)
	}
	if raw.OccurredAt.IsZero() {
		return models.AlertEvent{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}

	severity, _ := models.ParseSeverity(raw.Severity)

	location := strings.TrimSpace(raw.LocationText)
	if location == "" {
		location = UnknownLocation
	}

	return models.AlertEvent{
		DisasterType: disasterType,
		LocationText: location,
		Severity:     severity,
		OccurredAt:   raw.OccurredAt.UTC(),
		SourceID:     id,
	}, nil
}
