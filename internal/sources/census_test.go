package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ecoscore/greenscore/internal/model"
)

func TestDemographics_MetadataOnlyRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("for"); got != "zip code tabulation area:77002" {
			t.Errorf("for=%q", got)
		}
		w.Write([]byte(`[
			["DP05_0001E","DP05_0002PE","DP05_0003PE","DP05_0018E","DP05_0037PE","DP05_0038PE","DP05_0073PE","DP03_0062E","DP03_0128PE","zip code tabulation area"],
			["18370","52.1","47.9",null,"40.2","18.9","30.1","84520","12.4","77002"]
		]`))
	}))
	defer srv.Close()

	fetch := demographicsFetch(srv.URL, "", srv.Client())
	rec, err := fetch(context.Background(), "77002", model.Location{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rec.Score != nil {
		t.Errorf("demographics must not carry a score, got %v", *rec.Score)
	}
	if rec.Metadata["total_population"] != 18370.0 {
		t.Errorf("total_population=%v", rec.Metadata["total_population"])
	}
	if _, ok := rec.Metadata["median_age"]; ok {
		t.Errorf("null cell should be omitted: %v", rec.Metadata)
	}
	if rec.Metadata["poverty_rate"] != 12.4 {
		t.Errorf("poverty_rate=%v", rec.Metadata["poverty_rate"])
	}
}

func TestDemographics_EmptyResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	fetch := demographicsFetch(srv.URL, "", srv.Client())
	if _, err := fetch(context.Background(), "99999", model.Location{}); err == nil {
		t.Error("empty response should fail")
	}
}
