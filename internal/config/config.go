// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type HedgeCfg struct {
	// Mirror overrides the default mirror pool with a single operator
	// configured endpoint.
	Mirror        string
	HedgeWidth    int
	MaxRetries    int
	MinInterval   time.Duration
	BackoffStart  time.Duration
	BackoffCap    time.Duration
	BackoffFactor float64
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr   string
	RedisDB     int
	CachePrefix string
	CacheTTL    time.Duration

	RateLimitPerMin int

	RewarmEnabled    bool
	RewarmWorkers    int
	RewarmQueue      int
	RewarmRetryDelay time.Duration

	PrewarmZips        []string
	PrewarmConcurrency int
	PrewarmSpacing     time.Duration

	Overpass HedgeCfg

	AirNowAPIKey string
	CensusAPIKey string
	NominatimURL string
	EPAFRSURL    string
	SeaLevelURL  string
	FloodRiskURL string

	MetricWeights map[string]float64

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getint("REDIS_DB", 0),
		CachePrefix: getenv("ZIP_CACHE_PREFIX", "greenscore:"),
		CacheTTL:    getduration("ZIP_CACHE_TTL", 30*24*time.Hour),

		RateLimitPerMin: getint("RATE_LIMIT_PER_MIN", 30),

		RewarmEnabled:    getbool("REWARM_ENABLED", true),
		RewarmWorkers:    getint("REWARM_WORKERS", 3),
		RewarmQueue:      getint("REWARM_QUEUE", 64),
		RewarmRetryDelay: getduration("REWARM_RETRY_DELAY", 30*time.Second),

		PrewarmZips:        splitCSV(getenv("PREWARM_ZIPS", "")),
		PrewarmConcurrency: getint("PREWARM_CONCURRENCY", 3),
		PrewarmSpacing:     getduration("PREWARM_SPACING", 2500*time.Millisecond),

		Overpass: HedgeCfg{
			Mirror:        getenv("OVERPASS_URL", ""),
			HedgeWidth:    getint("OVERPASS_HEDGE_MIRRORS", 2),
			MaxRetries:    getint("OVERPASS_MAX_RETRIES", 4),
			MinInterval:   getduration("OVERPASS_MIN_INTERVAL", 1200*time.Millisecond),
			BackoffStart:  getduration("OVERPASS_BACKOFF_START", 1500*time.Millisecond),
			BackoffCap:    getduration("OVERPASS_BACKOFF_CAP", 12*time.Second),
			BackoffFactor: getfloat("OVERPASS_BACKOFF_FACTOR", 1.8),
		},

		AirNowAPIKey: getenv("AIRNOW_API_KEY", ""),
		CensusAPIKey: getenv("CENSUS_API_KEY", ""),
		NominatimURL: getenv("NOMINATIM_URL", "https://nominatim.openstreetmap.org/search"),
		EPAFRSURL:    getenv("EPA_FRS_URL", ""),
		SeaLevelURL:  getenv("NOAA_SLR_URL", ""),
		FloodRiskURL: getenv("USGS_RTFI_URL", ""),

		MetricWeights: parseFloatMap(getenv("METRIC_WEIGHTS", "")),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "greenscore-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "greenscore-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "air_quality=1.2,traffic=1.0" into map
func parseFloatMap(s string) map[string]float64 {
	out := map[string]float64{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		if k == "" {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64); err == nil {
			out[k] = f
		}
	}
	return out
}
