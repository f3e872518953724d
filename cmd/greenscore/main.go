package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecoscore/greenscore/internal/aggregate"
	"github.com/ecoscore/greenscore/internal/cache/rediscache"
	"github.com/ecoscore/greenscore/internal/config"
	"github.com/ecoscore/greenscore/internal/hedge"
	"github.com/ecoscore/greenscore/internal/httpapi"
	"github.com/ecoscore/greenscore/internal/httpclient"
	"github.com/ecoscore/greenscore/internal/invalidation/kafkaconsumer"
	"github.com/ecoscore/greenscore/internal/logger"
	"github.com/ecoscore/greenscore/internal/observability"
	"github.com/ecoscore/greenscore/internal/ratelimit"
	"github.com/ecoscore/greenscore/internal/rewarm"
	"github.com/ecoscore/greenscore/internal/score"
	"github.com/ecoscore/greenscore/internal/server"
	"github.com/ecoscore/greenscore/internal/sources"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "greenscore",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting greenscore",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"prefix", cfg.CachePrefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := rediscache.New(ctx, cfg.RedisAddr, rediscache.WithDB(cfg.RedisDB))
	if err != nil {
		appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer store.Close()

	hedgeCfg := hedge.Config{
		Upstream:      "overpass",
		HedgeWidth:    cfg.Overpass.HedgeWidth,
		MaxRetries:    cfg.Overpass.MaxRetries,
		MinInterval:   cfg.Overpass.MinInterval,
		BackoffStart:  cfg.Overpass.BackoffStart,
		BackoffCap:    cfg.Overpass.BackoffCap,
		BackoffFactor: cfg.Overpass.BackoffFactor,
	}
	if cfg.Overpass.Mirror != "" {
		hedgeCfg.Mirrors = []string{cfg.Overpass.Mirror}
	}

	geocode, srcs := sources.Build(sources.Config{
		HTTPClient:   httpclient.NewOutbound(),
		Logger:       appLog,
		NominatimURL: cfg.NominatimURL,
		AirNowAPIKey: cfg.AirNowAPIKey,
		CensusAPIKey: cfg.CensusAPIKey,
		EPAFRSURL:    cfg.EPAFRSURL,
		SeaLevelURL:  cfg.SeaLevelURL,
		FloodRiskURL: cfg.FloodRiskURL,
		Overpass:     hedgeCfg,
	})

	var weights score.Weights
	if len(cfg.MetricWeights) > 0 {
		weights = score.Weights(cfg.MetricWeights)
	}
	agg, err := aggregate.New(appLog, geocode, srcs, weights)
	if err != nil {
		appLog.Error("aggregator setup failed", "err", err)
		return 1
	}

	if cfg.RewarmEnabled {
		loop, err := rewarm.New(rewarm.Config{
			Prefix:     cfg.CachePrefix,
			TTL:        cfg.CacheTTL,
			Workers:    cfg.RewarmWorkers,
			QueueSize:  cfg.RewarmQueue,
			RetryDelay: cfg.RewarmRetryDelay,
		}, appLog, store, agg.Compute)
		if err != nil {
			appLog.Error("rewarm setup failed", "err", err)
			return 1
		}
		go func() {
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				appLog.Error("rewarm loop exited", "err", err)
			}
		}()
		if len(cfg.PrewarmZips) > 0 {
			go rewarm.Prewarm(ctx, loop, cfg.PrewarmZips, cfg.PrewarmConcurrency, cfg.PrewarmSpacing)
		}
	}

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Invalidation.Brokers,
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
			Prefix:  cfg.CachePrefix,
		}, appLog, store)
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	handler := httpapi.NewHandler(appLog, store, agg, cfg.CachePrefix, cfg.CacheTTL)
	router := httpapi.NewRouter(appLog, handler, ratelimit.NewWindow(cfg.RateLimitPerMin, time.Minute))

	if err := server.Run(ctx, cfg.Addr, appLog, router); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}
