// Package kafkaconsumer drains invalidation events from Kafka and
// purges the affected tiles from the cache store.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/invalidation"
	"github.com/geoply/mvtserver/internal/observability"
	"github.com/geoply/mvtserver/internal/projection"
	"github.com/geoply/mvtserver/internal/tileserver"
)

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  cache.Store
}

func New(cfg Config, logger *slog.Logger, store cache.Store) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg.Defaults(), logger: logger, store: store}
}

// Start consumes invalidation events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing cache store")
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

// ProcessOne handles a single invalidation message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncConsumerError("decode")
		c.logger.Error("event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		observability.IncConsumerError("validate")
		c.logger.Error("event rejected",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("validate: %w", err)
	}

	switch ev.Op {
	case invalidation.OpSource:
		if err := c.store.PurgeSource(ctx, ev.Source); err != nil {
			observability.IncConsumerError("purge")
			observability.ObserveInvalidation(ev.Op, 0, time.Since(start).Seconds(), err)
			return fmt.Errorf("purge source %s: %w", ev.Source, err)
		}
		observability.ObserveInvalidation(ev.Op, 0, time.Since(start).Seconds(), nil)
		c.logger.Info("invalidated source", "source", ev.Source)
		return nil

	case invalidation.OpTiles:
		keys := keysForEvent(ev)
		if err := c.store.PurgeTiles(ctx, keys); err != nil {
			observability.IncConsumerError("purge")
			observability.ObserveInvalidation(ev.Op, 0, time.Since(start).Seconds(), err)
			return fmt.Errorf("purge %d tiles: %w", len(keys), err)
		}
		observability.ObserveInvalidation(ev.Op, len(keys), time.Since(start).Seconds(), nil)
		c.logger.Info("invalidated tiles",
			"source", ev.Source, "tiles", len(ev.Tiles), "depth", ev.Depth, "keys", len(keys))
		return nil
	}
	// Validate rejects unknown ops before we get here
	return nil
}

// keysForEvent expands every named tile into its pyramid and maps the
// result to cache keys, deduplicated across overlapping pyramids.
func keysForEvent(ev invalidation.Event) []string {
	seen := map[string]bool{}
	var keys []string
	for _, tile := range ev.Tiles {
		for _, t := range projection.TilePyramid(tile, ev.Depth) {
			k := tileserver.TileKey(ev.Source, t)
			if seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
