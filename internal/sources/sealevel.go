package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"

	"github.com/ecoscore/greenscore/internal/model"
)

const defaultSeaLevelURL = "https://coast.noaa.gov/arcgis/rest/services/dc_slr"

const (
	seaLevelMaxFt     = 6
	seaLevelBufferM   = 5000
	seaLevelExponent  = 1.2
	seaLevelPerExtra  = 6.0
	seaLevelMaxExtras = 30.0
)

// seaLevelFetch builds the NOAA sea level rise adapter. It checks the
// 1..6 ft inundation layers around the location; the lowest inundated
// depth sets the base score and the number of inundated depths adds a
// breadth penalty.
func seaLevelFetch(base string, client *http.Client) fetchFunc {
	return func(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
		minFt := 0
		breadth := 0
		checked := 0
		for ft := 1; ft <= seaLevelMaxFt; ft++ {
			hit, err := queryInundation(ctx, client, base, ft, loc)
			if err != nil {
				// Failed layers stay unknown rather than counting
				// as dry or flooded.
				continue
			}
			checked++
			if hit {
				breadth++
				if minFt == 0 {
					minFt = ft
				}
			}
		}
		if checked == 0 {
			return model.MetricRecord{}, fmt.Errorf("noaa slr: all depth layers unavailable")
		}

		score := 100.0
		if minFt > 0 {
			baseScore := 100 * math.Pow(float64(minFt)/seaLevelMaxFt, seaLevelExponent)
			penalty := math.Min(seaLevelMaxExtras, float64(breadth-1)*seaLevelPerExtra)
			score = math.Max(0, math.Round(baseScore-penalty))
		}
		return model.Ok(score, map[string]any{
			"min_inundation_ft": minFt,
			"depths_inundated":  breadth,
			"depths_checked":    checked,
		}), nil
	}
}

func queryInundation(ctx context.Context, client *http.Client, base string, ft int, loc model.Location) (bool, error) {
	q := url.Values{
		"geometry":       {fmt.Sprintf("%f,%f", loc.Lon, loc.Lat)},
		"geometryType":   {"esriGeometryPoint"},
		"inSR":           {"4326"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"distance":       {fmt.Sprintf("%d", seaLevelBufferM)},
		"units":          {"esriSRUnit_Meter"},
		"outFields":      {"OBJECTID"},
		"returnGeometry": {"false"},
		"f":              {"json"},
	}
	endpoint := fmt.Sprintf("%s/slr_%dft/MapServer/0/query", base, ft)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("noaa slr: status %d", resp.StatusCode)
	}
	var out struct {
		Features []json.RawMessage `json:"features"`
		Error    *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return false, fmt.Errorf("noaa slr: decode: %w", err)
	}
	if out.Error != nil {
		return false, fmt.Errorf("noaa slr: service error %d", out.Error.Code)
	}
	return len(out.Features) > 0, nil
}
