package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/ecoscore/greenscore/internal/model"
)

const defaultFloodRiskURL = "https://api.waterdata.usgs.gov/rtfi-api/referencepoints/flooding"

const (
	floodMidpointKm = 50.0
	floodSteepness  = 0.08
)

// floodRiskFetch builds the USGS real-time flooding adapter. The feed
// lists reference points currently flooding nationwide; the score
// decays with distance to the nearest one. An empty or unreachable
// feed means no active flooding signal, which scores clean rather
// than failing the metric.
func floodRiskFetch(endpoint string, client *http.Client) fetchFunc {
	return func(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
		points, err := fetchFloodPoints(ctx, client, endpoint)
		if err != nil {
			return model.Ok(100, map[string]any{
				"degraded": true,
				"detail":   err.Error(),
			}), nil
		}

		nearest := math.Inf(1)
		for _, p := range points {
			if p.Latitude == nil || p.Longitude == nil {
				continue
			}
			if d := haversineM(loc.Lat, loc.Lon, *p.Latitude, *p.Longitude) / 1000; d < nearest {
				nearest = d
			}
		}
		if math.IsInf(nearest, 1) {
			return model.Ok(100, map[string]any{"active_points": 0}), nil
		}

		return model.Ok(floodScore(nearest), map[string]any{
			"active_points":    len(points),
			"nearest_flood_km": math.Round(nearest*10) / 10,
		}), nil
	}
}

type floodPoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func fetchFloodPoints(ctx context.Context, client *http.Client, endpoint string) ([]floodPoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usgs rtfi: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	// The feed has shipped both as a bare array and wrapped in an
	// object keyed by referencePoints.
	var points []floodPoint
	if err := json.Unmarshal(body, &points); err == nil {
		return points, nil
	}
	var wrapped struct {
		ReferencePoints []floodPoint `json:"referencePoints"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("usgs rtfi: decode: %w", err)
	}
	return wrapped.ReferencePoints, nil
}

func floodScore(nearestKm float64) float64 {
	if nearestKm <= 0 {
		return 0
	}
	return math.Round(100 / (1 + math.Exp(-floodSteepness*(nearestKm-floodMidpointKm))))
}
