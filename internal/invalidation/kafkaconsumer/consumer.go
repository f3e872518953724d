// Package kafkaconsumer consumes invalidation events and deletes the
// affected cache entries.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/ecoscore/greenscore/internal/cache/keys"
	"github.com/ecoscore/greenscore/internal/invalidation"
)

// Deleter is the cache slice the consumer needs.
type Deleter interface {
	Del(ctx context.Context, keys ...string) error
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	Prefix              string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = keys.DefaultPrefix
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Deleter
}

func New(cfg Config, logger *slog.Logger, cache Deleter) *Consumer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: cache}
}

// Start consumes invalidation events until ctx is canceled. Consume
// errors are transient: log, pause briefly, rejoin the group.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// process a single invalidation event message
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	delKeys := make([]string, 0, len(ev.LocationKeys))
	for _, loc := range ev.LocationKeys {
		delKeys = append(delKeys, keys.Key(c.cfg.Prefix, loc))
	}

	if err := c.cache.Del(ctx, delKeys...); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}

	c.logger.Debug("invalidated keys",
		"source", ev.Source, "keys", len(delKeys))
	return nil
}
