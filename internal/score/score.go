// Package score folds per-metric results into one composite score.
package score

import (
	"math"

	"github.com/ecoscore/greenscore/internal/model"
)

// Weights maps metric names to positive weights. Metrics absent from
// the map contribute nothing to the composite even when present in the
// result set.
type Weights map[string]float64

// DefaultWeights returns the standard weighting of the environmental
// metrics. Demographics is informational only and carries no weight.
func DefaultWeights() Weights {
	return Weights{
		"air_quality":         1.2,
		"traffic":             1.0,
		"toxic_sites":         1.1,
		"green_space":         0.9,
		"sea_level_rise":      0.9,
		"transit_access":      0.6,
		"water_availability":  0.6,
		"riverine_flood_risk": 0.9,
	}
}

// Overall computes the weighted geometric mean of the successful metric
// scores, renormalizing weights over the metrics actually present.
// Scores are clamped to [0,100] and floored at 1 so a single zero does
// not collapse the whole composite. Returns nil when no metric has both
// a usable score and a positive weight.
func Overall(metrics map[string]model.MetricRecord, w Weights) *int {
	type term struct {
		s, w float64
	}
	var terms []term
	for name, rec := range metrics {
		if rec.Failed() || rec.Score == nil {
			continue
		}
		weight, ok := w[name]
		if !ok || weight <= 0 {
			continue
		}
		s := clamp(*rec.Score, 0, 100)
		s = math.Max(1, s)
		terms = append(terms, term{s: s, w: weight})
	}
	if len(terms) == 0 {
		return nil
	}

	totalW := 0.0
	for _, t := range terms {
		totalW += t.w
	}
	if totalW <= 0 {
		return nil
	}

	acc := 0.0
	for _, t := range terms {
		acc += (t.w / totalW) * math.Log(t.s/100.0)
	}
	gm := clamp(100.0*math.Exp(acc), 0, 100)
	n := int(math.Round(gm))
	return &n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
