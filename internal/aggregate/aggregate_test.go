package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ecoscore/greenscore/internal/model"
	"github.com/ecoscore/greenscore/internal/score"
)

func staticGeocode(loc *model.Location) GeocodeFunc {
	return func(_ context.Context, _ string) (*model.Location, error) {
		return loc, nil
	}
}

func okSource(name string, s float64) Source {
	return Source{Name: name, Fetch: func(context.Context, string, model.Location) model.MetricRecord {
		return model.Ok(s, nil)
	}}
}

func TestCompute_UnresolvableKeyIsTerminal(t *testing.T) {
	agg, err := New(nil, staticGeocode(nil), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = agg.Compute(context.Background(), "00000")
	if !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("err=%v want ErrLocationNotFound", err)
	}
}

func TestCompute_IsolatesAdapterFailures(t *testing.T) {
	loc := &model.Location{Lat: 29.76, Lon: -95.37}
	weights := score.Weights{"a": 1.0, "b": 1.0, "c": 1.0, "d": 1.0}

	sources := []Source{
		okSource("a", 80),
		okSource("b", 60),
		okSource("c", 40),
		{Name: "d", Fetch: func(context.Context, string, model.Location) model.MetricRecord {
			return model.Errf("airnow: 502 bad gateway")
		}},
	}

	agg, err := New(nil, staticGeocode(loc), sources, weights)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := agg.Compute(context.Background(), "77002")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if len(res.Metrics) != 4 {
		t.Fatalf("metrics=%d want 4", len(res.Metrics))
	}
	if !res.Metrics["d"].Failed() {
		t.Errorf("metric d should carry the adapter error")
	}
	if res.OverallScore == nil || *res.OverallScore != 58 {
		t.Errorf("overall=%v want 58 (geometric over the 3 successes)", res.OverallScore)
	}
	if res.Coordinates != [2]float64{29.76, -95.37} {
		t.Errorf("coordinates=%v", res.Coordinates)
	}
}

func TestCompute_RecoversPanickingAdapter(t *testing.T) {
	loc := &model.Location{Lat: 1, Lon: 2}
	sources := []Source{
		{Name: "bad", Fetch: func(context.Context, string, model.Location) model.MetricRecord {
			panic("nil map write")
		}},
		okSource("good", 75),
	}

	agg, err := New(nil, staticGeocode(loc), sources, score.Weights{"good": 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := agg.Compute(context.Background(), "77002")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !res.Metrics["bad"].Failed() {
		t.Errorf("panic was not converted to an Err record: %+v", res.Metrics["bad"])
	}
	if res.OverallScore == nil || *res.OverallScore != 75 {
		t.Errorf("overall=%v want 75", res.OverallScore)
	}
}

func TestCompute_RunsAdaptersConcurrently(t *testing.T) {
	loc := &model.Location{}
	var inFlight, peak atomic.Int32
	slow := func(context.Context, string, model.Location) model.MetricRecord {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return model.Ok(50, nil)
	}

	sources := []Source{
		{Name: "a", Fetch: slow},
		{Name: "b", Fetch: slow},
		{Name: "c", Fetch: slow},
	}
	agg, err := New(nil, staticGeocode(loc), sources, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := agg.Compute(context.Background(), "77002"); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency=%d, adapters ran serially", peak.Load())
	}
}

func TestCompute_Idempotent(t *testing.T) {
	loc := &model.Location{Lat: 29.76, Lon: -95.37}
	sources := []Source{
		okSource("air_quality", 82),
		{Name: "traffic", Fetch: func(context.Context, string, model.Location) model.MetricRecord {
			return model.Ok(64, map[string]any{"weighted_road_length": 12.5})
		}},
	}
	agg, err := New(nil, staticGeocode(loc), sources, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r1, err := agg.Compute(context.Background(), "77002")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	r2, err := agg.Compute(context.Background(), "77002")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !reflect.DeepEqual(r1, r2) {
		t.Errorf("results differ:\n%+v\n%+v", r1, r2)
	}

	b1, _ := json.Marshal(r1)
	b2, _ := json.Marshal(r2)
	if string(b1) != string(b2) {
		t.Errorf("serialized results differ")
	}
}
