package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ecoscore/greenscore/internal/memo"
	"github.com/ecoscore/greenscore/internal/model"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// Geocoder resolves US postal codes to coordinates via Nominatim.
// Nominatim's usage policy discourages repeat lookups, so results are
// memoized for a day, including the "no such postal code" answer.
type Geocoder struct {
	url    string
	client *http.Client
	memo   *memo.Cache[string, *model.Location]
}

func NewGeocoder(endpoint string, client *http.Client) *Geocoder {
	return &Geocoder{
		url:    endpoint,
		client: client,
		memo:   memo.New[string, *model.Location](geocodeTTL),
	}
}

// Resolve returns the coordinates for a postal code, or (nil, nil) when
// the code does not exist.
func (g *Geocoder) Resolve(ctx context.Context, postalCode string) (*model.Location, error) {
	return g.memo.Do(postalCode, func() (*model.Location, error) {
		return g.lookup(ctx, postalCode)
	})
}

func (g *Geocoder) lookup(ctx context.Context, postalCode string) (*model.Location, error) {
	q := url.Values{
		"postalcode": {postalCode},
		"country":    {"USA"},
		"format":     {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}
	req.Header.Set("User-Agent", "greenscore/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}

	// Nominatim returns lat/lon as strings.
	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&hits); err != nil {
		return nil, fmt.Errorf("nominatim: decode: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: bad lat %q", hits[0].Lat)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: bad lon %q", hits[0].Lon)
	}
	return &model.Location{Lat: lat, Lon: lon}, nil
}
