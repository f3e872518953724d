package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ecoscore/greenscore/internal/aggregate"
	"github.com/ecoscore/greenscore/internal/cache/rediscache"
	"github.com/ecoscore/greenscore/internal/httpapi"
	"github.com/ecoscore/greenscore/internal/model"
	"github.com/ecoscore/greenscore/internal/ratelimit"
)

func newStack(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, http.Handler, *int) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := rediscache.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("rediscache.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	computes := 0
	geocode := func(_ context.Context, key string) (*model.Location, error) {
		if key == "00000" {
			return nil, nil
		}
		return &model.Location{Lat: 29.76, Lon: -95.37}, nil
	}
	srcs := []aggregate.Source{
		{Name: "air_quality", Fetch: func(context.Context, string, model.Location) model.MetricRecord {
			return model.Ok(82, nil)
		}},
		{Name: "green_space", Fetch: func(context.Context, string, model.Location) model.MetricRecord {
			return model.Ok(64, nil)
		}},
	}
	agg, err := aggregate.New(nil, geocode, srcs, nil)
	if err != nil {
		t.Fatalf("aggregate.New: %v", err)
	}
	counting := computerFunc(func(ctx context.Context, key string) (model.CompositeResult, error) {
		computes++
		return agg.Compute(ctx, key)
	})

	h := httpapi.NewHandler(nil, store, counting, "greenscore:", ttl)
	router := httpapi.NewRouter(nil, h, ratelimit.NewWindow(100, time.Minute))
	return mr, router, &computes
}

type computerFunc func(ctx context.Context, key string) (model.CompositeResult, error)

func (f computerFunc) Compute(ctx context.Context, key string) (model.CompositeResult, error) {
	return f(ctx, key)
}

func get(t *testing.T, router http.Handler, path, etag string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "10.0.0.1:4242"
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func Test_ScoreFlow_MissHitExpiry(t *testing.T) {
	mr, router, computes := newStack(t, time.Minute)

	first := get(t, router, "/green-score?zip=77002", "")
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first: code=%d cache=%s", first.Code, first.Header().Get("X-Cache"))
	}
	var res model.CompositeResult
	if err := json.Unmarshal(first.Body.Bytes(), &res); err != nil {
		t.Fatalf("body: %v", err)
	}
	if res.OverallScore == nil {
		t.Fatal("no overall score")
	}

	second := get(t, router, "/green-score?zip=77002", "")
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second: cache=%s", second.Header().Get("X-Cache"))
	}
	if *computes != 1 {
		t.Fatalf("computes=%d want 1", *computes)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatal("hit served a different body")
	}

	// Conditional revalidation of the cached entity.
	notMod := get(t, router, "/green-score?zip=77002", first.Header().Get("ETag"))
	if notMod.Code != http.StatusNotModified {
		t.Fatalf("revalidation: code=%d want 304", notMod.Code)
	}

	// Past the TTL the entry is gone and the next read recomputes.
	mr.FastForward(2 * time.Minute)
	third := get(t, router, "/green-score?zip=77002", "")
	if third.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("post-expiry: cache=%s", third.Header().Get("X-Cache"))
	}
	if *computes != 2 {
		t.Fatalf("computes=%d want 2", *computes)
	}
}

func Test_ScoreFlow_UnknownZipNeverCached(t *testing.T) {
	mr, router, computes := newStack(t, time.Minute)

	for range 2 {
		rec := get(t, router, "/green-score?zip=00000", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("code=%d want 404", rec.Code)
		}
	}
	if *computes != 2 {
		t.Fatalf("computes=%d: the 404 path must not cache", *computes)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("redis keys=%v want none", mr.Keys())
	}
}
