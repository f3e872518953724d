package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ecoscore/greenscore/internal/model"
)

func TestScoreFromAQI(t *testing.T) {
	cases := []struct {
		aqi  float64
		want int
	}{
		{-5, 100},
		{0, 100},
		{50, 85},
		{100, 70},
		{150, 50},
		{200, 30},
		{300, 10},
		{500, 0},
		{999, 0},
		{40, 88},
	}
	for _, tc := range cases {
		if got := scoreFromAQI(tc.aqi); got != tc.want {
			t.Errorf("scoreFromAQI(%v)=%d want %d", tc.aqi, got, tc.want)
		}
	}
}

func TestAirQuality_UsesWorstObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("API_KEY") != "k" || q.Get("latitude") == "" {
			t.Errorf("query=%v", q)
		}
		w.Write([]byte(`[
			{"AQI": 42, "ParameterName": "O3", "ReportingArea": "Houston"},
			{"AQI": 61, "ParameterName": "PM2.5", "ReportingArea": "Houston"},
			{"ParameterName": "PM10"}
		]`))
	}))
	defer srv.Close()

	fetch := airQualityFetch(srv.URL, "k", srv.Client())
	rec, err := fetch(context.Background(), "77002", model.Location{Lat: 29.76, Lon: -95.37})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// AQI 61 is the worst reading: 85 - 11/50*15 = 81.7.
	if rec.Score == nil || *rec.Score != 82 {
		t.Errorf("score=%v want 82", rec.Score)
	}
	if rec.Metadata["primary_pollutant"] != "PM2.5" {
		t.Errorf("metadata=%v", rec.Metadata)
	}
}

func TestAirQuality_MissingKeyAndEmptyBodyFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	noKey := airQualityFetch(srv.URL, "", srv.Client())
	if _, err := noKey(context.Background(), "77002", model.Location{}); err == nil {
		t.Error("missing API key should fail")
	}

	withKey := airQualityFetch(srv.URL, "k", srv.Client())
	if _, err := withKey(context.Background(), "77002", model.Location{}); err == nil {
		t.Error("empty observation list should fail")
	}
}
