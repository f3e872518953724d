package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ecoscore/greenscore/internal/model"
)

const defaultEPAFRSURL = "https://ofmpub.epa.gov/frs_public2/frs_rest_services.get_facilities"

// Superfund proximity scoring: distance to the nearest site dominates,
// the site count adds a diminishing penalty on top.
const (
	toxicsRadiusMiles  = 5.0
	toxicsDistMidpoint = 2.5 // miles at which the distance subscore is 50
	toxicsDistSteep    = 1.2
	toxicsCountLambda  = 0.55
	toxicsDistWeight   = 0.65
)

// toxicSitesFetch builds the EPA Facility Registry Service adapter,
// querying for Superfund (SEMS) sites near the location.
func toxicSitesFetch(endpoint string, client *http.Client) fetchFunc {
	return func(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
		q := url.Values{
			"latitude83":     {strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
			"longitude83":    {strconv.FormatFloat(loc.Lon, 'f', 6, 64)},
			"search_radius":  {strconv.FormatFloat(toxicsRadiusMiles, 'f', 1, 64)},
			"pgm_sys_acrnm":  {"SEMS"},
			"output":         {"JSON"},
			"program_output": {"N"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return model.MetricRecord{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return model.MetricRecord{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return model.MetricRecord{}, fmt.Errorf("epa frs: status %d", resp.StatusCode)
		}

		// Coordinates arrive as strings or numbers depending on the
		// facility record.
		var out struct {
			Results struct {
				FRSFacility []struct {
					Latitude83  any `json:"Latitude83"`
					Longitude83 any `json:"Longitude83"`
				} `json:"FRSFacility"`
			} `json:"Results"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
			return model.MetricRecord{}, fmt.Errorf("epa frs: decode: %w", err)
		}

		facilities := out.Results.FRSFacility
		if len(facilities) == 0 {
			return model.Ok(100, map[string]any{"num_sites": 0}), nil
		}

		nearest := math.Inf(1)
		for _, f := range facilities {
			flat, ok1 := anyFloat(f.Latitude83)
			flon, ok2 := anyFloat(f.Longitude83)
			if !ok1 || !ok2 {
				continue
			}
			if d := haversineM(loc.Lat, loc.Lon, flat, flon) / metersPerMile; d < nearest {
				nearest = d
			}
		}
		// Facilities with no usable coordinates still count toward the
		// site total but contribute no distance.
		if math.IsInf(nearest, 1) {
			nearest = toxicsRadiusMiles
		}

		return model.Ok(toxicScore(len(facilities), nearest), map[string]any{
			"num_sites":              len(facilities),
			"nearest_distance_miles": math.Round(nearest*100) / 100,
		}), nil
	}
}

func toxicScore(numSites int, nearestMiles float64) float64 {
	dist := 100 / (1 + math.Exp(-toxicsDistSteep*(nearestMiles-toxicsDistMidpoint)))
	cnt := 100 * math.Exp(-toxicsCountLambda*float64(numSites))
	s := toxicsDistWeight*dist + (1-toxicsDistWeight)*cnt
	return math.Round(math.Max(0, math.Min(100, s)))
}

const metersPerMile = 1609.344

func anyFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
