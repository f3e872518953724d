package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/ecoscore/greenscore/internal/hedge"
	"github.com/ecoscore/greenscore/internal/model"
)

func defaultOverpassMirrors() []string {
	return []string{
		"https://overpass.kumi.systems/api/interpreter",
		"https://overpass-api.nextzen.org/api/interpreter",
		"https://z.overpass-api.de/api/interpreter",
	}
}

// Search radii and scoring constants per metric. The density scores
// saturate smoothly: score = 100 * (1 - exp(-alpha * features/km2)).
const (
	transitRadiusM = 1500
	transitAlpha   = 0.22

	waterRadiusM = 1000
	waterAlpha   = 0.45

	greenRadiusM        = 5000
	greenDistanceAlphaM = 600 // distance where the proximity subscore ~= 37
	greenDensityK       = 0.8
	greenBlendDistance  = 0.7 // proximity weight; density gets the rest
)

// greenTagFilter selects public green spaces. Private-access features
// are excluded.
const greenTagFilter = `["leisure"="park"]["leisure"="garden"]["leisure"="common"]` +
	`["leisure"="recreation_ground"]["leisure"="nature_reserve"]` +
	`["boundary"="protected_area"]["access"!="private"]`

// Overpass backs the three OSM-derived metrics with one shared hedged
// client, so a single pacing gate covers every Overpass query the
// service makes.
type Overpass struct {
	client *hedge.Client
}

func NewOverpass(cfg hedge.Config, hc *http.Client, logger *slog.Logger) *Overpass {
	do := func(ctx context.Context, mirror, query string) ([]byte, error) {
		form := url.Values{"data": {query}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, mirror, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("overpass %s: status %d", mirror, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	}
	return &Overpass{client: hedge.New(cfg, do, logger)}
}

type osmPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type osmElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Center   *osmPoint         `json:"center"`
	Tags     map[string]string `json:"tags"`
	Geometry []osmPoint        `json:"geometry"`
}

func (o *Overpass) elements(ctx context.Context, query string) ([]osmElement, error) {
	body, err := o.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	var out struct {
		Elements []osmElement `json:"elements"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("overpass: decode: %w", err)
	}
	return out.Elements, nil
}

// transitAccess counts bus stops, rail stations and tram stops around
// the location and scores their density.
func (o *Overpass) transitAccess(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
	q := fmt.Sprintf(`[out:json][timeout:120];
(
  node(around:%d,%f,%f)[public_transport~"platform|stop_position|stop"];
  node(around:%d,%f,%f)[railway~"station|tram_stop|halt"];
  node(around:%d,%f,%f)[highway=bus_stop];
);
out ids;`,
		transitRadiusM, loc.Lat, loc.Lon,
		transitRadiusM, loc.Lat, loc.Lon,
		transitRadiusM, loc.Lat, loc.Lon)

	elems, err := o.elements(ctx, q)
	if err != nil {
		return model.MetricRecord{}, err
	}
	stops := 0
	for _, e := range elems {
		if e.Type == "node" {
			stops++
		}
	}
	return model.Ok(densityScore(stops, transitRadiusM, transitAlpha), map[string]any{
		"stops_count": stops,
		"source":      "OSM via Overpass API",
	}), nil
}

// waterAvailability scores the density of mapped water bodies. Nodes
// are skipped since water features are never single points.
func (o *Overpass) waterAvailability(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
	q := fmt.Sprintf(`[out:json][timeout:120];
(
  way(around:%d,%f,%f)[natural=water];
  relation(around:%d,%f,%f)[type=multipolygon][natural=water];
  way(around:%d,%f,%f)[waterway=riverbank];
);
out ids;`,
		waterRadiusM, loc.Lat, loc.Lon,
		waterRadiusM, loc.Lat, loc.Lon,
		waterRadiusM, loc.Lat, loc.Lon)

	elems, err := o.elements(ctx, q)
	if err != nil {
		return model.MetricRecord{}, err
	}
	features := 0
	for _, e := range elems {
		if e.Type == "way" || e.Type == "relation" {
			features++
		}
	}
	return model.Ok(densityScore(features, waterRadiusM, waterAlpha), map[string]any{
		"water_features": features,
		"source":         "OSM via Overpass API",
	}), nil
}

// greenSpace blends proximity to the nearest public green space with
// how many there are nearby.
func (o *Overpass) greenSpace(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
	q := fmt.Sprintf(`[out:json][timeout:120];
(
  node%[1]s(around:%[2]d,%[3]f,%[4]f);
  way%[1]s(around:%[2]d,%[3]f,%[4]f);
  relation%[1]s(around:%[2]d,%[3]f,%[4]f);
);
out center tags;`,
		greenTagFilter, greenRadiusM, loc.Lat, loc.Lon)

	elems, err := o.elements(ctx, q)
	if err != nil {
		return model.MetricRecord{}, err
	}

	nearest := math.Inf(1)
	count := 0
	seen := make(map[string]struct{}, len(elems))
	for _, e := range elems {
		lat, lon, ok := centroid(e)
		if !ok {
			continue
		}
		id := fmt.Sprintf("%s/%d", e.Type, e.ID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		count++
		if d := haversineM(loc.Lat, loc.Lon, lat, lon); d < nearest {
			nearest = d
		}
	}

	distScore := 0.0
	meta := map[string]any{"num_parks": count}
	if count > 0 {
		distScore = 100 * math.Exp(-nearest/greenDistanceAlphaM)
		meta["nearest_distance_m"] = math.Round(nearest*10) / 10
	}
	densScore := 100 * (1 - 1/(1+greenDensityK*perKm2(count, greenRadiusM)))
	score := math.Round(greenBlendDistance*math.Round(distScore) + (1-greenBlendDistance)*math.Round(densScore))
	return model.Ok(score, meta), nil
}

func centroid(e osmElement) (lat, lon float64, ok bool) {
	switch e.Type {
	case "node":
		return e.Lat, e.Lon, true
	case "way", "relation":
		if e.Center == nil {
			return 0, 0, false
		}
		return e.Center.Lat, e.Center.Lon, true
	}
	return 0, 0, false
}

func perKm2(count, radiusM int) float64 {
	area := math.Pi * math.Pow(float64(radiusM)/1000, 2)
	return float64(count) / area
}

func densityScore(count, radiusM int, alpha float64) float64 {
	if count == 0 {
		return 0
	}
	return math.Round(100 * (1 - math.Exp(-alpha*perKm2(count, radiusM))))
}

// haversineM is the great-circle distance in meters.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dlat, dlon := rad(lat2-lat1), rad(lon2-lon1)
	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Pow(math.Sin(dlon/2), 2)
	return 2 * r * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
