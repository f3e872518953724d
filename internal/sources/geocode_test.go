package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGeocoder_ResolvesAndMemoizes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.URL.Query().Get("postalcode"); got != "77002" {
			t.Errorf("postalcode=%q", got)
		}
		w.Write([]byte(`[{"lat":"29.7604","lon":"-95.3698"}]`))
	}))
	defer srv.Close()

	g := NewGeocoder(srv.URL, srv.Client())
	for range 3 {
		loc, err := g.Resolve(context.Background(), "77002")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if loc == nil || loc.Lat != 29.7604 || loc.Lon != -95.3698 {
			t.Fatalf("loc=%+v", loc)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, memo did not hold", hits.Load())
	}
}

func TestGeocoder_UnknownCodeIsNilNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGeocoder(srv.URL, srv.Client())
	loc, err := g.Resolve(context.Background(), "00000")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc != nil {
		t.Fatalf("loc=%+v want nil", loc)
	}
}

func TestGeocoder_UpstreamErrorsAreNotMemoized(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"lat":"29.76","lon":"-95.37"}]`))
	}))
	defer srv.Close()

	g := NewGeocoder(srv.URL, srv.Client())
	if _, err := g.Resolve(context.Background(), "77002"); err == nil {
		t.Fatal("first call should fail")
	}
	loc, err := g.Resolve(context.Background(), "77002")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if loc == nil || loc.Lat != 29.76 {
		t.Fatalf("loc=%+v", loc)
	}
}
