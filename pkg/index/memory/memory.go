// Package memory provides an ephemeral, in-process search index.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/mtnfog/entitydb/pkg/index"
	"github.com/mtnfog/entitydb/pkg/storage"
)

var tracer = otel.Tracer("entitydb/pkg/index/memory")

// MemoryIndex provides an ephemeral memory-backed implementation of
// index.SearchIndex. Instances may be safely shared by multiple goroutines.
type MemoryIndex struct {
	mu      sync.RWMutex
	docs    map[string]*index.IndexedEntity
	closed  bool
	backend string
}

var _ index.SearchIndex = (*MemoryIndex)(nil)

// New creates a new empty MemoryIndex.
func New() *MemoryIndex {
	return &MemoryIndex{
		docs:    make(map[string]*index.IndexedEntity),
		backend: "memory",
	}
}

// Index see index.SearchIndex.Index.
func (m *MemoryIndex) Index(ctx context.Context, e *index.IndexedEntity) error {
	_, span := tracer.Start(ctx, "memory.Index")
	defer span.End()

	if e == nil || e.EntityID == "" {
		return errors.New("indexed entity requires an entity id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[e.EntityID] = copyIndexed(e)
	return nil
}

// IndexBatch see index.SearchIndex.IndexBatch.
func (m *MemoryIndex) IndexBatch(ctx context.Context, es []*index.IndexedEntity) ([]string, error) {
	ctx, span := tracer.Start(ctx, "memory.IndexBatch")
	defer span.End()

	var failed []string
	for _, e := range es {
		if err := m.Index(ctx, e); err != nil {
			if e != nil {
				failed = append(failed, e.EntityID)
			}
		}
	}

	return failed, nil
}

// Get see index.SearchIndex.Get.
func (m *MemoryIndex) Get(ctx context.Context, entityID string) (*index.IndexedEntity, error) {
	_, span := tracer.Start(ctx, "memory.Get")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[entityID]
	if !ok {
		return nil, index.ErrNotFound
	}

	return copyIndexed(doc), nil
}

// Delete see index.SearchIndex.Delete.
func (m *MemoryIndex) Delete(ctx context.Context, entityID string) error {
	_, span := tracer.Start(ctx, "memory.Delete")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, entityID)
	return nil
}

// Update see index.SearchIndex.Update.
func (m *MemoryIndex) Update(ctx context.Context, e *index.IndexedEntity) (bool, error) {
	_, span := tracer.Start(ctx, "memory.Update")
	defer span.End()

	if e == nil || e.EntityID == "" {
		return false, errors.New("indexed entity requires an entity id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.docs[e.EntityID]
	if !ok {
		return false, nil
	}
	if current.DocumentVersion != e.DocumentVersion {
		return false, nil
	}

	updated := copyIndexed(e)
	updated.DocumentVersion++
	m.docs[e.EntityID] = updated

	return true, nil
}

// Query see index.SearchIndex.Query.
func (m *MemoryIndex) Query(ctx context.Context, query *storage.EntityQuery) ([]*index.IndexedEntity, error) {
	_, span := tracer.Start(ctx, "memory.Query")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*index.IndexedEntity
	for _, doc := range m.docs {
		if storage.Matches(query, target(doc)) {
			matched = append(matched, doc)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return storage.Less(query.Order, query.SortOrder, target(matched[i]), target(matched[j]))
	})

	matched = storage.Page(matched, query.Offset, query.Limit)

	out := make([]*index.IndexedEntity, 0, len(matched))
	for _, doc := range matched {
		out = append(out, copyIndexed(doc))
	}

	return out, nil
}

// GetCount see index.SearchIndex.GetCount.
func (m *MemoryIndex) GetCount(ctx context.Context) (int64, error) {
	_, span := tracer.Start(ctx, "memory.GetCount")
	defer span.End()

	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.docs)), nil
}

// GetStatus see index.SearchIndex.GetStatus.
func (m *MemoryIndex) GetStatus(ctx context.Context) (*index.Status, error) {
	count, err := m.GetCount(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return &index.Status{
		Backend: m.backend,
		Count:   count,
		Healthy: !m.closed,
	}, nil
}

// Close marks the index closed. It is idempotent.
func (m *MemoryIndex) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
}

func target(e *index.IndexedEntity) storage.Target {
	return storage.Target{
		Entity:    &e.Entity,
		ID:        e.EntityID,
		Timestamp: e.Timestamp,
	}
}

func copyIndexed(e *index.IndexedEntity) *index.IndexedEntity {
	dup := *e
	if e.Metadata != nil {
		dup.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}
