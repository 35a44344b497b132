package api

import (
	"time"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"` // null when the report has no point
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// alertResponse is the JSON shape of a stored report.
type alertResponse struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	DisasterType string     `json:"disaster_type"`
	Severity     string     `json:"severity"`
	LocationText string     `json:"location_text"`
	Location     *Geometry  `json:"location,omitempty"`
	Confidence   float64    `json:"confidence"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func point(r *models.Report) *Geometry {
	if !r.HasLocation() {
		return nil
	}
	return &Geometry{
		Type:        "Point",
		Coordinates: []float64{*r.Longitude, *r.Latitude},
	}
}

func toAlertResponse(r *models.Report) alertResponse {
	resp := alertResponse{
		ID:           r.ID,
		Text:         r.Text,
		DisasterType: r.DisasterType,
		Severity:     r.Severity,
		LocationText: r.LocationText,
		Location:     point(r),
		Confidence:   r.Confidence,
		CreatedAt:    r.CreatedAt,
	}
	if !r.Timestamp.IsZero() {
		ts := r.Timestamp
		resp.Timestamp = &ts
	}
	return resp
}

func toGeoJSON(reports []models.Report) FeatureCollection {
	features := make([]Feature, 0, len(reports))

	for i := range reports {
		r := &reports[i]
		properties := map[string]any{
			"id":            r.ID,
			"disaster_type": r.DisasterType,
			"severity":      r.Severity,
			"location_text": r.LocationText,
			"confidence":    r.Confidence,
			"text":          r.Text,
		}
		if !r.Timestamp.IsZero() {
			properties["timestamp"] = r.Timestamp
		}
		features = append(features, Feature{
			Type:       "Feature",
			Geometry:   point(r),
			Properties: properties,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
