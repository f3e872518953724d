// Package aggregate orchestrates the fan-out over source adapters and
// folds their outcomes into one composite result.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecoscore/greenscore/internal/model"
	"github.com/ecoscore/greenscore/internal/observability"
	"github.com/ecoscore/greenscore/internal/score"
)

// ErrLocationNotFound marks an unresolvable location key. It is
// terminal for the request: never cached, never retried.
var ErrLocationNotFound = errors.New("location key did not resolve to coordinates")

// GeocodeFunc resolves an opaque location key (a postal code) to
// coordinates. A nil location with nil error means the key is unknown.
type GeocodeFunc func(ctx context.Context, locationKey string) (*model.Location, error)

// Source is one named metric producer. Fetch receives both the raw
// location key and the resolved coordinates; most adapters only need
// the coordinates, registry-keyed ones use the key. Fetch must
// represent any failure inside the returned record; the orchestrator
// additionally recovers panics into Err records so one adapter can
// never abort the others.
type Source struct {
	Name  string
	Fetch func(ctx context.Context, key string, loc model.Location) model.MetricRecord
}

type Aggregator struct {
	logger  *slog.Logger
	geocode GeocodeFunc
	sources []Source
	weights score.Weights
}

func New(logger *slog.Logger, geocode GeocodeFunc, sources []Source, weights score.Weights) (*Aggregator, error) {
	if geocode == nil {
		return nil, errors.New("aggregate: geocoder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if weights == nil {
		weights = score.DefaultWeights()
	}
	return &Aggregator{
		logger:  logger,
		geocode: geocode,
		sources: sources,
		weights: weights,
	}, nil
}

// Compute resolves the location key and invokes every source adapter
// concurrently. Each adapter outcome lands in the composite's metric
// map independently; no ordering across metrics is guaranteed or
// needed, the composite is a pure fold over whatever succeeded.
func (a *Aggregator) Compute(ctx context.Context, locationKey string) (model.CompositeResult, error) {
	loc, err := a.geocode(ctx, locationKey)
	if err != nil {
		return model.CompositeResult{}, fmt.Errorf("geocode %q: %w", locationKey, err)
	}
	if loc == nil {
		return model.CompositeResult{}, fmt.Errorf("geocode %q: %w", locationKey, ErrLocationNotFound)
	}

	start := time.Now()
	metrics := make(map[string]model.MetricRecord, len(a.sources))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range a.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := a.fetchOne(ctx, src, locationKey, *loc)
			mu.Lock()
			metrics[src.Name] = rec
			mu.Unlock()
		}()
	}
	wg.Wait()

	failed := 0
	for _, rec := range metrics {
		if rec.Failed() {
			failed++
		}
	}
	a.logger.Debug("fan-out complete",
		"key", locationKey, "sources", len(a.sources), "failed", failed,
		"dur", time.Since(start).String())

	return model.CompositeResult{
		LocationKey:  locationKey,
		Coordinates:  [2]float64{loc.Lat, loc.Lon},
		Metrics:      metrics,
		OverallScore: score.Overall(metrics, a.weights),
	}, nil
}

// fetchOne isolates a single adapter call, converting panics into Err
// records and recording upstream latency.
func (a *Aggregator) fetchOne(ctx context.Context, src Source, key string, loc model.Location) (rec model.MetricRecord) {
	start := time.Now()
	defer func() {
		observability.ObserveUpstreamLatency(src.Name, time.Since(start).Seconds())
		if r := recover(); r != nil {
			a.logger.Error("source adapter panicked", "source", src.Name, "panic", r)
			rec = model.Errf("%s adapter panicked: %v", src.Name, r)
		}
	}()
	return src.Fetch(ctx, key, loc)
}
