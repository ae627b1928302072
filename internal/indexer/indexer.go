// Package indexer moves stored entities into the search index.
package indexer

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/index"
	"github.com/mtnfog/entitydb/pkg/logger"
	"github.com/mtnfog/entitydb/pkg/storage"
	"github.com/mtnfog/entitydb/pkg/telemetry"
)

// DefaultBatchLimit bounds how many entities one indexing cycle handles.
const DefaultBatchLimit = 100

// Indexer drains the cache and the store's non-indexed backlog into the
// search index, then marks the successfully indexed entities in the store.
// Entities that fail to index stay non-indexed and are retried on later
// cycles without bound.
type Indexer struct {
	store   storage.EntityStore
	idx     index.SearchIndex
	cache   *Cache
	logger  logger.Logger
	metrics *telemetry.Metrics
}

// New creates an indexer. The cache is optional; without one every cycle
// reads the backlog from the store.
func New(store storage.EntityStore, idx index.SearchIndex, cache *Cache, log logger.Logger, metrics *telemetry.Metrics) *Indexer {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Indexer{
		store:   store,
		idx:     idx,
		cache:   cache,
		logger:  log,
		metrics: metrics,
	}
}

// IndexEntities runs one indexing cycle over at most limit entities and
// returns how many were indexed and marked. The cache is the fast path; when
// it is empty the store scan is the slow path and the safety net for
// anything the cache missed.
func (i *Indexer) IndexEntities(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	var batch []*entity.StoredEntity
	if i.cache != nil {
		batch = i.cache.Drain(limit)
	}
	if len(batch) == 0 {
		var err error
		batch, err = i.store.GetNonIndexedEntities(ctx, limit)
		if err != nil {
			return 0, fmt.Errorf("get non-indexed entities: %w", err)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}

	transactionID := ulid.Make().String()

	indexed := make([]*index.IndexedEntity, 0, len(batch))
	for _, stored := range batch {
		ie, err := index.NewIndexedEntity(stored, transactionID)
		if err != nil {
			// An unparseable ACL cannot be enforced at query time, so
			// the entity is never indexed. It stays queryable only
			// through the store's own audit trail.
			i.logger.Error("skipping entity with unparseable acl",
				zap.String("entity_id", stored.ID),
				zap.Error(err),
			)
			i.metrics.IndexFailures.Inc()
			continue
		}
		indexed = append(indexed, ie)
	}
	if len(indexed) == 0 {
		return 0, nil
	}

	failedIDs, err := i.idx.IndexBatch(ctx, indexed)
	if err != nil {
		return 0, fmt.Errorf("index batch: %w", err)
	}

	failed := make(map[string]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
		i.metrics.IndexFailures.Inc()
	}
	if len(failedIDs) > 0 {
		i.logger.Warn("some entities failed to index and will be retried",
			zap.Int("failed", len(failedIDs)),
			zap.String("transaction_id", transactionID),
		)
	}

	successful := make([]string, 0, len(indexed))
	for _, ie := range indexed {
		if _, ok := failed[ie.EntityID]; !ok {
			successful = append(successful, ie.EntityID)
		}
	}
	if len(successful) == 0 {
		return 0, nil
	}

	marked, err := i.store.MarkEntitiesAsIndexed(ctx, successful)
	if err != nil {
		// The index already holds these entities. Leaving them unmarked
		// means a later cycle re-indexes them, which the index absorbs
		// as an overwrite.
		return 0, fmt.Errorf("mark entities as indexed: %w", err)
	}

	i.metrics.EntitiesIndexed.Add(float64(len(successful)))
	i.logger.Debug("indexing cycle complete",
		zap.Int("indexed", len(successful)),
		zap.Int("marked", marked),
		zap.String("transaction_id", transactionID),
	)

	return len(successful), nil
}

// Task adapts the indexer to the scheduler.
func (i *Indexer) Task(limit int) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		n, err := i.IndexEntities(ctx, limit)
		return n > 0, err
	}
}
