package sources

import (
	"context"
	"fmt"
	"math"

	"github.com/ecoscore/greenscore/internal/model"
)

// Road network density scoring. The logistic midpoint is the weighted
// road density (km per km2) that scores 50.
const (
	trafficRadiusM   = 2000
	trafficMidpoint  = 15.0
	trafficSteepness = 0.12
)

// roadWeights grade how much each highway class contributes to traffic
// burden. Unlisted classes count like service roads.
var roadWeights = map[string]float64{
	"motorway":    1.0,
	"trunk":       0.9,
	"primary":     0.8,
	"secondary":   0.6,
	"tertiary":    0.5,
	"residential": 0.2,
	"service":     0.1,
}

// traffic scores the weighted length of the road network around the
// location: denser high-grade road networks mean more traffic and a
// lower score.
func (o *Overpass) traffic(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
	q := fmt.Sprintf(`[out:json][timeout:180];
way(around:%d,%f,%f)["highway"];
out geom tags;`, trafficRadiusM, loc.Lat, loc.Lon)

	elems, err := o.elements(ctx, q)
	if err != nil {
		return model.MetricRecord{}, err
	}

	weightedM := 0.0
	ways := 0
	for _, e := range elems {
		if e.Type != "way" || len(e.Geometry) < 2 {
			continue
		}
		class := e.Tags["highway"]
		if class == "" {
			continue
		}
		w, ok := roadWeights[class]
		if !ok {
			w = 0.1
		}
		weightedM += wayLengthM(e.Geometry) * w
		ways++
	}

	areaKm2 := math.Pi * math.Pow(float64(trafficRadiusM)/1000, 2)
	densityKmPerKm2 := (weightedM / 1000) / areaKm2
	score := 100 / (1 + math.Exp(trafficSteepness*(densityKmPerKm2-trafficMidpoint)))

	return model.Ok(math.Round(score), map[string]any{
		"weighted_road_length_m": math.Round(weightedM),
		"road_count":             ways,
		"source":                 "OSM via Overpass API",
	}), nil
}

// wayLengthM approximates a polyline's length with a flat-earth degree
// scale; at neighborhood radii the error is far below the scoring
// resolution.
func wayLengthM(geom []osmPoint) float64 {
	length := 0.0
	for i := 1; i < len(geom); i++ {
		dy := geom[i].Lat - geom[i-1].Lat
		dx := geom[i].Lon - geom[i-1].Lon
		length += math.Hypot(dy, dx) * 111000
	}
	return length
}
