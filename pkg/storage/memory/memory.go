// Package memory provides an ephemeral, in-process entity store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/storage"
)

var tracer = otel.Tracer("entitydb/pkg/storage/memory")

// MemoryBackend provides an ephemeral memory-backed implementation of
// storage.EntityStore. Instances may be safely shared by multiple
// goroutines.
type MemoryBackend struct {
	mu       sync.RWMutex
	entities map[string]*entity.StoredEntity
}

var _ storage.EntityStore = (*MemoryBackend)(nil)

// New creates a new empty MemoryBackend.
func New() *MemoryBackend {
	return &MemoryBackend{
		entities: make(map[string]*entity.StoredEntity),
	}
}

// Close does not do anything for MemoryBackend.
func (m *MemoryBackend) Close() {}

// StoreEntities see storage.EntityStore.StoreEntities.
func (m *MemoryBackend) StoreEntities(ctx context.Context, entities []entity.Entity, acl string) (*storage.StoreResult, error) {
	_, span := tracer.Start(ctx, "memory.StoreEntities")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	result := &storage.StoreResult{}
	for _, e := range entities {
		stored := entity.NewStoredEntity(e, acl)
		if _, exists := m.entities[stored.ID]; exists {
			result.SkippedIDs = append(result.SkippedIDs, stored.ID)
			continue
		}
		m.entities[stored.ID] = stored
		result.Stored = append(result.Stored, copyStored(stored))
	}

	return result, nil
}

// Query see storage.EntityStore.Query.
func (m *MemoryBackend) Query(ctx context.Context, query *storage.EntityQuery) (*storage.QueryResult, error) {
	_, span := tracer.Start(ctx, "memory.Query")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*entity.StoredEntity
	for _, s := range m.entities {
		if storage.Matches(query, target(s)) {
			matched = append(matched, s)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return storage.Less(query.Order, query.SortOrder, target(matched[i]), target(matched[j]))
	})

	matched = storage.Page(matched, query.Offset, query.Limit)

	result := &storage.QueryResult{
		QueryID: ulid.Make().String(),
	}
	for _, s := range matched {
		result.Entities = append(result.Entities, copyStored(s))
	}

	return result, nil
}

// GetNonIndexedEntities see storage.EntityStore.GetNonIndexedEntities.
func (m *MemoryBackend) GetNonIndexedEntities(ctx context.Context, limit int) ([]*entity.StoredEntity, error) {
	_, span := tracer.Start(ctx, "memory.GetNonIndexedEntities")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*entity.StoredEntity
	for _, s := range m.entities {
		if s.Indexed == 0 {
			pending = append(pending, s)
		}
	}

	// Oldest first so indexing is roughly FIFO.
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Timestamp != pending[j].Timestamp {
			return pending[i].Timestamp < pending[j].Timestamp
		}
		return pending[i].ID < pending[j].ID
	})

	if limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}

	out := make([]*entity.StoredEntity, 0, len(pending))
	for _, s := range pending {
		out = append(out, copyStored(s))
	}

	return out, nil
}

// MarkEntitiesAsIndexed see storage.EntityStore.MarkEntitiesAsIndexed.
func (m *MemoryBackend) MarkEntitiesAsIndexed(ctx context.Context, ids []string) (int, error) {
	_, span := tracer.Start(ctx, "memory.MarkEntitiesAsIndexed")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()

	marked := 0
	for _, id := range ids {
		s, ok := m.entities[id]
		if !ok || s.Indexed != 0 {
			continue
		}
		s.Indexed = now
		marked++
	}

	return marked, nil
}

// GetEntityCount see storage.EntityStore.GetEntityCount.
func (m *MemoryBackend) GetEntityCount(ctx context.Context) (int64, error) {
	_, span := tracer.Start(ctx, "memory.GetEntityCount")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.entities)), nil
}

// GetContexts see storage.EntityStore.GetContexts.
func (m *MemoryBackend) GetContexts(ctx context.Context) ([]string, error) {
	_, span := tracer.Start(ctx, "memory.GetContexts")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range m.entities {
		seen[s.Context] = struct{}{}
	}

	contexts := make([]string, 0, len(seen))
	for c := range seen {
		contexts = append(contexts, c)
	}
	sort.Strings(contexts)

	return contexts, nil
}

// DeleteContext see storage.EntityStore.DeleteContext.
func (m *MemoryBackend) DeleteContext(ctx context.Context, entityContext string) error {
	_, span := tracer.Start(ctx, "memory.DeleteContext")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.entities {
		if s.Context == entityContext {
			delete(m.entities, id)
		}
	}

	return nil
}

// DeleteDocument see storage.EntityStore.DeleteDocument.
func (m *MemoryBackend) DeleteDocument(ctx context.Context, documentID string) error {
	_, span := tracer.Start(ctx, "memory.DeleteDocument")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.entities {
		if s.DocumentID == documentID {
			delete(m.entities, id)
		}
	}

	return nil
}

func target(s *entity.StoredEntity) storage.Target {
	return storage.Target{
		Entity:    &s.Entity,
		ID:        s.ID,
		Timestamp: s.Timestamp,
	}
}

func copyStored(s *entity.StoredEntity) *entity.StoredEntity {
	dup := *s
	if s.Metadata != nil {
		dup.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
