// Package consumer drains the ingest queue into the entity store.
package consumer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mtnfog/entitydb/internal/indexer"
	"github.com/mtnfog/entitydb/pkg/acl"
	"github.com/mtnfog/entitydb/pkg/audit"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/logger"
	"github.com/mtnfog/entitydb/pkg/queue"
	"github.com/mtnfog/entitydb/pkg/storage"
	"github.com/mtnfog/entitydb/pkg/telemetry"
)

// DefaultPollBatch bounds how many messages one consume cycle drains.
const DefaultPollBatch = 10

// Consumer polls the ingest queue, stores entities, audits the outcome and
// hands stored entities to the indexer cache. Delivery is at-least-once: a
// redelivered message is absorbed by the store's id-based dedup and audited
// as SKIPPED.
type Consumer struct {
	queue   queue.IngestQueue
	store   storage.EntityStore
	cache   *indexer.Cache
	sink    audit.Sink
	logger  logger.Logger
	metrics *telemetry.Metrics
}

// New creates a consumer. The cache and sink are optional.
func New(q queue.IngestQueue, store storage.EntityStore, cache *indexer.Cache, sink audit.Sink, log logger.Logger, metrics *telemetry.Metrics) *Consumer {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Consumer{
		queue:   q,
		store:   store,
		cache:   cache,
		sink:    sink,
		logger:  log,
		metrics: metrics,
	}
}

// Consume runs one poll cycle and returns how many messages it processed.
// A message that fails to store is logged and audited but does not abort
// the cycle; the remaining messages still get their chance.
func (c *Consumer) Consume(ctx context.Context) (int, error) {
	messages, err := c.queue.Poll(ctx, DefaultPollBatch)
	if err != nil {
		return 0, fmt.Errorf("poll queue: %w", err)
	}
	c.metrics.QueueDepth.Set(float64(c.queue.Size()))
	if len(messages) == 0 {
		return 0, nil
	}

	for _, msg := range messages {
		c.consumeMessage(ctx, msg)
	}

	return len(messages), nil
}

func (c *Consumer) consumeMessage(ctx context.Context, msg queue.IngestMessage) {
	now := time.Now()

	// The ACL was validated at publish time, but the queue boundary is
	// not trusted: a malformed ACL here would otherwise poison the index.
	if err := acl.Validate(msg.ACL); err != nil {
		c.logger.Error("dropping message with malformed acl",
			zap.String("message_id", msg.ID),
			zap.String("acl", msg.ACL),
			zap.Error(err),
		)
		c.auditAll(ctx, msg, now, audit.ActionStoreFailure)
		c.metrics.StoreFailures.Inc()
		return
	}

	result, err := c.store.StoreEntities(ctx, msg.Entities, msg.ACL)
	if err != nil {
		c.logger.Error("failed to store entities",
			zap.String("message_id", msg.ID),
			zap.Int("count", len(msg.Entities)),
			zap.Error(err),
		)
		c.auditAll(ctx, msg, now, audit.ActionStoreFailure)
		c.metrics.StoreFailures.Inc()
		return
	}

	for _, stored := range result.Stored {
		c.sink.AuditEntity(ctx, stored.ID, now, msg.APIKey, audit.ActionStored)
	}
	for _, id := range result.SkippedIDs {
		c.sink.AuditEntity(ctx, id, now, msg.APIKey, audit.ActionSkipped)
	}
	for _, id := range result.FailedIDs {
		c.sink.AuditEntity(ctx, id, now, msg.APIKey, audit.ActionStoreFailure)
	}

	if len(result.FailedIDs) > 0 {
		c.logger.Warn("some entities failed to store",
			zap.String("message_id", msg.ID),
			zap.Strings("entity_ids", result.FailedIDs),
		)
	}

	c.metrics.EntitiesStored.Add(float64(len(result.Stored)))
	c.metrics.EntitiesSkipped.Add(float64(len(result.SkippedIDs)))
	c.metrics.StoreFailures.Add(float64(len(result.FailedIDs)))

	if c.cache != nil && len(result.Stored) > 0 {
		c.cache.Put(result.Stored)
	}

	c.logger.Debug("consumed message",
		zap.String("message_id", msg.ID),
		zap.Int("stored", len(result.Stored)),
		zap.Int("skipped", len(result.SkippedIDs)),
		zap.Int("failed", len(result.FailedIDs)),
	)
}

// auditAll records an outcome for every entity in a message using derived
// ids, so failures are attributable even though nothing was stored.
func (c *Consumer) auditAll(ctx context.Context, msg queue.IngestMessage, now time.Time, action audit.Action) {
	for idx := range msg.Entities {
		e := msg.Entities[idx]
		e.SanitizeMetadata()
		id := entity.DeriveID(&e, msg.ACL)
		c.sink.AuditEntity(ctx, id, now, msg.APIKey, action)
	}
}

// Task adapts the consumer to the scheduler.
func (c *Consumer) Task() func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		n, err := c.Consume(ctx)
		return n > 0, err
	}
}
