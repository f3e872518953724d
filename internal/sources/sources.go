// Package sources holds the thin adapters around the external data
// providers that feed the composite score. Each adapter memoizes its
// upstream answers in process so repeated composites for the same
// location key do not re-query slow or rate-limited services.
package sources

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecoscore/greenscore/internal/aggregate"
	"github.com/ecoscore/greenscore/internal/hedge"
	"github.com/ecoscore/greenscore/internal/memo"
	"github.com/ecoscore/greenscore/internal/model"
)

// Metric names as they appear in composite results and weight tables.
const (
	MetricAirQuality   = "air_quality"
	MetricTraffic      = "traffic"
	MetricToxicSites   = "toxic_sites"
	MetricTransit      = "transit_access"
	MetricWater        = "water_availability"
	MetricGreenSpace   = "green_space"
	MetricSeaLevel     = "sea_level_rise"
	MetricFloodRisk    = "riverine_flood_risk"
	MetricDemographics = "demographics"
)

// Memo horizons per upstream. Geocoding and demographics barely change,
// OSM extracts and inundation layers drift slowly, air quality is
// hourly and active flooding changes by the hour too.
const (
	geocodeTTL      = 24 * time.Hour
	airQualityTTL   = time.Hour
	overpassTTL     = 7 * 24 * time.Hour
	toxicSitesTTL   = 24 * time.Hour
	seaLevelTTL     = 24 * time.Hour
	floodRiskTTL    = time.Hour
	demographicsTTL = 30 * 24 * time.Hour
)

type Config struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	NominatimURL string
	AirNowURL    string
	AirNowAPIKey string
	CensusURL    string
	CensusAPIKey string
	EPAFRSURL    string
	SeaLevelURL  string
	FloodRiskURL string

	Overpass hedge.Config
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NominatimURL == "" {
		c.NominatimURL = defaultNominatimURL
	}
	if c.AirNowURL == "" {
		c.AirNowURL = defaultAirNowURL
	}
	if c.CensusURL == "" {
		c.CensusURL = defaultCensusURL
	}
	if c.EPAFRSURL == "" {
		c.EPAFRSURL = defaultEPAFRSURL
	}
	if c.SeaLevelURL == "" {
		c.SeaLevelURL = defaultSeaLevelURL
	}
	if c.FloodRiskURL == "" {
		c.FloodRiskURL = defaultFloodRiskURL
	}
	if c.Overpass.Upstream == "" {
		c.Overpass.Upstream = "overpass"
	}
	if len(c.Overpass.Mirrors) == 0 {
		c.Overpass.Mirrors = defaultOverpassMirrors()
	}
}

// Build wires the full adapter set: the geocoder plus one source per
// metric. The three Overpass adapters share a single hedged client so
// its pacing gate covers all of them.
func Build(cfg Config) (aggregate.GeocodeFunc, []aggregate.Source) {
	cfg.defaults()

	geo := NewGeocoder(cfg.NominatimURL, cfg.HTTPClient)
	ovp := NewOverpass(cfg.Overpass, cfg.HTTPClient, cfg.Logger)

	sources := []aggregate.Source{
		memoSource(MetricAirQuality, airQualityTTL, airQualityFetch(cfg.AirNowURL, cfg.AirNowAPIKey, cfg.HTTPClient)),
		memoSource(MetricTraffic, overpassTTL, ovp.traffic),
		memoSource(MetricTransit, overpassTTL, ovp.transitAccess),
		memoSource(MetricWater, overpassTTL, ovp.waterAvailability),
		memoSource(MetricGreenSpace, overpassTTL, ovp.greenSpace),
		memoSource(MetricToxicSites, toxicSitesTTL, toxicSitesFetch(cfg.EPAFRSURL, cfg.HTTPClient)),
		memoSource(MetricSeaLevel, seaLevelTTL, seaLevelFetch(cfg.SeaLevelURL, cfg.HTTPClient)),
		memoSource(MetricFloodRisk, floodRiskTTL, floodRiskFetch(cfg.FloodRiskURL, cfg.HTTPClient)),
		memoSource(MetricDemographics, demographicsTTL, demographicsFetch(cfg.CensusURL, cfg.CensusAPIKey, cfg.HTTPClient)),
	}
	return geo.Resolve, sources
}

type fetchFunc func(ctx context.Context, key string, loc model.Location) (model.MetricRecord, error)

// memoSource wraps fetch in a per-key TTL memo. Errors pass through
// uncached so a transient upstream failure is retried on the next
// request instead of being pinned for the whole TTL.
func memoSource(name string, ttl time.Duration, fetch fetchFunc) aggregate.Source {
	cache := memo.New[string, model.MetricRecord](ttl)
	return aggregate.Source{
		Name: name,
		Fetch: func(ctx context.Context, key string, loc model.Location) model.MetricRecord {
			rec, err := cache.Do(key, func() (model.MetricRecord, error) {
				return fetch(ctx, key, loc)
			})
			if err != nil {
				return model.Errf("%s: %v", name, err)
			}
			return rec
		},
	}
}
