// Package hedge implements a paced, retrying, mirror-racing client for
// abuse-sensitive upstreams that expose interchangeable endpoints.
package hedge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/ecoscore/greenscore/internal/observability"
)

type Config struct {
	// Upstream names the logical service, used in errors and metrics.
	Upstream      string
	Mirrors       []string
	HedgeWidth    int
	MaxRetries    int
	MinInterval   time.Duration
	BackoffStart  time.Duration
	BackoffCap    time.Duration
	BackoffFactor float64
}

func (c *Config) defaults() {
	if c.HedgeWidth <= 0 {
		c.HedgeWidth = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 1200 * time.Millisecond
	}
	if c.BackoffStart <= 0 {
		c.BackoffStart = 1500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 12 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 1.8
	}
}

// DoFunc performs one query against one mirror.
type DoFunc func(ctx context.Context, mirror, query string) ([]byte, error)

// Client serializes rounds through a shared pacing gate and races the
// first HedgeWidth mirrors inside each round. The pacing gate limits
// how often a round starts; hedging limits how long a round takes.
type Client struct {
	cfg    Config
	pacer  *rate.Limiter
	do     DoFunc
	logger *slog.Logger
}

func New(cfg Config, do DoFunc, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		// Burst 1: at most one round per MinInterval across all callers.
		pacer:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		do:     do,
		logger: logger,
	}
}

// Query performs one logical query, retrying full hedge rounds with
// exponential backoff plus jitter until a mirror succeeds or the retry
// budget is exhausted.
func (c *Client) Query(ctx context.Context, q string) ([]byte, error) {
	mirrors := c.cfg.Mirrors
	if len(mirrors) > c.cfg.HedgeWidth {
		mirrors = mirrors[:c.cfg.HedgeWidth]
	}
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("%s: no mirrors configured", c.cfg.Upstream)
	}

	backoff := c.cfg.BackoffStart
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: pacing wait: %w", c.cfg.Upstream, err)
		}

		body, err := c.race(ctx, mirrors, q)
		observability.ObserveHedgeRound(c.cfg.Upstream, err)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", c.cfg.Upstream, ctx.Err())
		}

		c.logger.Warn("hedge round failed",
			"upstream", c.cfg.Upstream, "attempt", attempt,
			"mirrors", len(mirrors), "err", err)

		if attempt == c.cfg.MaxRetries {
			break
		}
		if err := sleep(ctx, jitter(backoff)); err != nil {
			return nil, fmt.Errorf("%s: backoff wait: %w", c.cfg.Upstream, err)
		}
		backoff = min(time.Duration(float64(backoff)*c.cfg.BackoffFactor), c.cfg.BackoffCap)
	}

	return nil, fmt.Errorf("%s: all mirrors failed after %d attempts", c.cfg.Upstream, c.cfg.MaxRetries)
}

type mirrorResult struct {
	body []byte
	err  error
}

// race issues the query to every mirror concurrently and returns the
// first success. Losing goroutines finish into the buffered channel and
// their results are discarded; the reads are idempotent so no
// cancellation propagation is needed.
func (c *Client) race(ctx context.Context, mirrors []string, q string) ([]byte, error) {
	results := make(chan mirrorResult, len(mirrors))
	for _, m := range mirrors {
		go func() {
			body, err := c.do(ctx, m, q)
			results <- mirrorResult{body: body, err: err}
		}()
	}

	var errs []error
	for range mirrors {
		select {
		case r := <-results:
			if r.err == nil {
				return r.body, nil
			}
			errs = append(errs, r.err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errors.Join(errs...)
}

// up to +50% of the base delay, desynchronizing concurrent retriers
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*0.5*float64(d))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
