// Package model defines core domain types shared across the service.
package model

import "fmt"

// Location is a resolved geographic point. It is immutable once
// obtained from the geocoder.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lon)
}

// MetricRecord is the outcome of one source adapter for one location.
// Exactly one of Score or Error is meaningful: a successful record
// carries a score in [0,100] plus opaque metadata, a failed one
// carries an error message.
type MetricRecord struct {
	Score    *float64       `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func Ok(score float64, metadata map[string]any) MetricRecord {
	return MetricRecord{Score: &score, Metadata: metadata}
}

func Errf(format string, args ...any) MetricRecord {
	return MetricRecord{Error: fmt.Sprintf(format, args...)}
}

func (m MetricRecord) Failed() bool {
	return m.Error != ""
}

// CompositeResult is the aggregate produced for one location key. It is
// constructed once per cache miss and never mutated afterwards; it is
// written to the cache atomically as one JSON document.
type CompositeResult struct {
	LocationKey  string                  `json:"zip"`
	Coordinates  [2]float64              `json:"coordinates"`
	Metrics      map[string]MetricRecord `json:"scores"`
	OverallScore *int                    `json:"overall_score"`
}
