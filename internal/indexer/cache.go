package indexer

import (
	"sync"

	"github.com/mtnfog/entitydb/pkg/entity"
)

// Cache hands freshly stored entities to the indexer without a store
// round-trip. It is a hint, not a source of truth: an entity dropped from
// the cache is still picked up by the store scan. Multiple consumers put,
// one indexer drains.
type Cache struct {
	mu      sync.Mutex
	pending []*entity.StoredEntity
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Put appends stored entities to the cache.
func (c *Cache) Put(entities []*entity.StoredEntity) {
	if len(entities) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, entities...)
}

// Drain removes and returns up to limit entities, oldest first. A
// non-positive limit drains everything.
func (c *Cache) Drain(limit int) []*entity.StoredEntity {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}

	n := len(c.pending)
	if limit > 0 && limit < n {
		n = limit
	}

	drained := c.pending[:n]
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return drained
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
