package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ecoscore/greenscore/internal/model"
)

const defaultCensusURL = "https://api.census.gov/data/2022/acs/acs5/profile"

// ACS profile variables, in request order.
var censusVariables = []struct{ code, name string }{
	{"DP05_0001E", "total_population"},
	{"DP05_0002PE", "percent_male"},
	{"DP05_0003PE", "percent_female"},
	{"DP05_0018E", "median_age"},
	{"DP05_0037PE", "percent_white"},
	{"DP05_0038PE", "percent_black"},
	{"DP05_0073PE", "percent_hispanic"},
	{"DP03_0062E", "median_income"},
	{"DP03_0128PE", "poverty_rate"},
}

// demographicsFetch builds the Census ACS adapter. It produces a
// metadata-only record keyed by the ZIP Code Tabulation Area; it never
// carries a score and the default weights give it none.
func demographicsFetch(endpoint, apiKey string, client *http.Client) fetchFunc {
	return func(ctx context.Context, key string, _ model.Location) (model.MetricRecord, error) {
		get := make([]string, len(censusVariables))
		for i, v := range censusVariables {
			get[i] = v.code
		}
		q := url.Values{
			"get": {strings.Join(get, ",")},
			"for": {fmt.Sprintf("zip code tabulation area:%s", key)},
		}
		if apiKey != "" {
			q.Set("key", apiKey)
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
			return model.MetricRecord{}, fmt.Errorf("census: status %d", resp.StatusCode)
		}

		// The Census API returns a header row then one value row, all
		// strings.
		var rows [][]*string
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rows); err != nil {
			return model.MetricRecord{}, fmt.Errorf("census: decode: %w", err)
		}
		if len(rows) < 2 || len(rows[1]) < len(censusVariables) {
			return model.MetricRecord{}, errors.New("census: no data for this ZCTA")
		}

		meta := make(map[string]any, len(censusVariables))
		for i, v := range censusVariables {
			cell := rows[1][i]
			if cell == nil || *cell == "" {
				continue
			}
			if f, err := strconv.ParseFloat(*cell, 64); err == nil {
				meta[v.name] = f
			}
		}
		return model.MetricRecord{Metadata: meta}, nil
	}
}
