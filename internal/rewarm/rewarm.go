// Package rewarm keeps hot cache entries warm: it listens for key
// expiration events and recomputes the expired composites in the
// background, so steady-state reads rarely pay the full fan-out cost.
package rewarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ecoscore/greenscore/internal/cache/keys"
	"github.com/ecoscore/greenscore/internal/cache/rediscache"
	"github.com/ecoscore/greenscore/internal/model"
	"github.com/ecoscore/greenscore/internal/observability"
)

// ComputeFunc recomputes the composite for one location key. It is the
// orchestrator's Compute in production.
type ComputeFunc func(ctx context.Context, locationKey string) (model.CompositeResult, error)

type Config struct {
	Prefix     string
	TTL        time.Duration
	Workers    int
	QueueSize  int
	RetryDelay time.Duration
	// GuardWindow suppresses a second rewarm of the same key arriving
	// within the window (duplicated event deliveries).
	GuardWindow time.Duration
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = keys.DefaultPrefix
	}
	if c.TTL <= 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.GuardWindow <= 0 {
		c.GuardWindow = 5 * time.Second
	}
}

// Loop owns the expiration subscription for its lifetime. The caller
// spawns Run explicitly and stops it through context cancellation.
type Loop struct {
	cfg     Config
	logger  *slog.Logger
	store   *rediscache.Client
	compute ComputeFunc

	now   func() time.Time
	guard *lru.Cache[string, time.Time]
}

func New(cfg Config, logger *slog.Logger, store *rediscache.Client, compute ComputeFunc) (*Loop, error) {
	if store == nil || compute == nil {
		return nil, fmt.Errorf("rewarm: store and compute are required")
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	guard, err := lru.New[string, time.Time](4096)
	if err != nil {
		return nil, fmt.Errorf("rewarm: guard lru: %w", err)
	}
	return &Loop{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		compute: compute,
		now:     time.Now,
		guard:   guard,
	}, nil
}

// Run blocks until ctx is canceled. Subscription failures are treated
// as transient: back off a fixed delay and resubscribe, forever.
func (l *Loop) Run(ctx context.Context) error {
	jobs := make(chan string, l.cfg.QueueSize)

	var wg sync.WaitGroup
	wg.Add(l.cfg.Workers)
	for range l.cfg.Workers {
		go func() {
			defer wg.Done()
			for locKey := range jobs {
				l.rewarmOne(ctx, locKey)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	l.logger.Info("rewarm listener starting",
		"prefix", l.cfg.Prefix, "workers", l.cfg.Workers, "ttl", l.cfg.TTL.String())

	for {
		if err := l.listenOnce(ctx, jobs); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("rewarm listener shutting down")
				return nil
			}
			l.logger.Warn("rewarm subscription lost, retrying",
				"delay", l.cfg.RetryDelay.String(), "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.cfg.RetryDelay):
			}
		}
	}
}

// listenOnce holds one subscription until it fails or ctx ends.
func (l *Loop) listenOnce(ctx context.Context, jobs chan<- string) error {
	ps := l.store.SubscribeExpired(ctx)
	defer func() { _ = ps.Close() }()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive expiration event: %w", err)
		}
		locKey, ok := keys.LocationKey(l.cfg.Prefix, msg.Payload)
		if !ok {
			continue // some other tenant's key
		}
		if !l.admit(locKey) {
			l.logger.Debug("duplicate expiration event suppressed", "key", locKey)
			continue
		}
		select {
		case jobs <- locKey:
		case <-ctx.Done():
			return ctx.Err()
		default:
			observability.IncRewarm("dropped")
			l.logger.Warn("rewarm queue full, dropping key", "key", locKey)
		}
	}
}

// admit reports whether this key has not been queued within the guard
// window, and records it.
func (l *Loop) admit(locKey string) bool {
	n := l.now()
	if last, ok := l.guard.Get(locKey); ok && n.Sub(last) < l.cfg.GuardWindow {
		return false
	}
	l.guard.Add(locKey, n)
	return true
}

func (l *Loop) rewarmOne(ctx context.Context, locKey string) {
	start := time.Now()
	res, err := l.compute(ctx, locKey)
	if err != nil {
		observability.IncRewarm("compute_error")
		l.logger.Warn("rewarm compute failed", "key", locKey, "err", err)
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		observability.IncRewarm("encode_error")
		l.logger.Error("rewarm encode failed", "key", locKey, "err", err)
		return
	}
	if err := l.store.Set(ctx, keys.Key(l.cfg.Prefix, locKey), body, l.cfg.TTL); err != nil {
		observability.IncRewarm("set_error")
		l.logger.Warn("rewarm cache write failed", "key", locKey, "err", err)
		return
	}
	observability.IncRewarm("ok")
	l.logger.Info("rewarmed key", "key", locKey, "dur", time.Since(start).String())
}

// Prewarm computes and caches a fixed set of location keys with bounded
// concurrency and gentle spacing between launches, lining up with the
// pacing of the slowest upstream so startup does not trip its quota.
func Prewarm(ctx context.Context, l *Loop, locationKeys []string, concurrency int, spacing time.Duration) {
	if concurrency <= 0 {
		concurrency = 3
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, k := range locationKeys {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			l.rewarmOne(ctx, k)
		}()
		if spacing > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-time.After(spacing):
			}
		}
	}
	wg.Wait()
}
