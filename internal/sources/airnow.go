package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ecoscore/greenscore/internal/model"
)

const defaultAirNowURL = "https://www.airnowapi.org/aq/observation/latLong/current/"

// airQualityFetch builds the AirNow adapter. The score derives from the
// worst current AQI observation within 25 miles of the location.
func airQualityFetch(endpoint, apiKey string, client *http.Client) fetchFunc {
	return func(ctx context.Context, _ string, loc model.Location) (model.MetricRecord, error) {
		if apiKey == "" {
			return model.MetricRecord{}, errors.New("AIRNOW_API_KEY is not set")
		}

		q := url.Values{
			"format":    {"application/json"},
			"latitude":  {strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
			"longitude": {strconv.FormatFloat(loc.Lon, 'f', 6, 64)},
			"distance":  {"25"},
			"API_KEY":   {apiKey},
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
			return model.MetricRecord{}, fmt.Errorf("airnow: status %d", resp.StatusCode)
		}

		var obs []struct {
			AQI           *float64 `json:"AQI"`
			ParameterName string   `json:"ParameterName"`
			ReportingArea string   `json:"ReportingArea"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&obs); err != nil {
			return model.MetricRecord{}, fmt.Errorf("airnow: decode: %w", err)
		}
		if len(obs) == 0 {
			return model.MetricRecord{}, errors.New("airnow: no observations for location")
		}

		var maxAQI *float64
		var pollutant, area string
		for _, o := range obs {
			if o.AQI == nil {
				continue
			}
			if maxAQI == nil || *o.AQI > *maxAQI {
				maxAQI = o.AQI
				pollutant = o.ParameterName
				area = o.ReportingArea
			}
		}
		if maxAQI == nil {
			return model.MetricRecord{}, errors.New("airnow: no valid AQI values")
		}

		return model.Ok(float64(scoreFromAQI(*maxAQI)), map[string]any{
			"max_aqi":           *maxAQI,
			"primary_pollutant": pollutant,
			"reporting_area":    area,
		}), nil
	}
}

// scoreFromAQI maps an AQI reading onto 0..100, higher is greener. The
// breakpoints follow the EPA category boundaries with a steeper penalty
// once air turns unhealthy.
func scoreFromAQI(aqi float64) int {
	lerp := func(hi float64, span, drop, off float64) int {
		return int(math.Round(hi - (aqi-off)/span*drop))
	}
	switch {
	case aqi <= 0:
		return 100
	case aqi <= 50:
		return lerp(100, 50, 15, 0)
	case aqi <= 100:
		return lerp(85, 50, 15, 50)
	case aqi <= 150:
		return lerp(70, 50, 20, 100)
	case aqi <= 200:
		return lerp(50, 50, 20, 150)
	case aqi <= 300:
		return lerp(30, 100, 20, 200)
	case aqi <= 500:
		return lerp(10, 200, 10, 300)
	default:
		return 0
	}
}
