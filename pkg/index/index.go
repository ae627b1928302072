// Package index contains the search index contract shared by every index
// backend.
package index

import (
	"context"
	"errors"

	"github.com/mtnfog/entitydb/pkg/acl"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/storage"
)

// ErrNotFound indicates the requested entity is not in the index.
var ErrNotFound = errors.New("entity not in index")

// IndexedEntity is an entity's projection inside the search index. It is
// created by the indexer from a stored entity and deleted with it.
type IndexedEntity struct {
	entity.Entity

	EntityID string
	Acl      acl.Acl
	// Timestamp mirrors the stored entity's receipt time so date clauses
	// can be evaluated by the index.
	Timestamp int64
	// DocumentVersion is the optimistic-concurrency token for updates.
	DocumentVersion int64
	TransactionID   string
}

// NewIndexedEntity projects a stored entity into its indexed form. It fails
// if the stored ACL does not parse; such an entity must be skipped, not
// indexed.
func NewIndexedEntity(stored *entity.StoredEntity, transactionID string) (*IndexedEntity, error) {
	parsed, err := acl.Parse(stored.ACL)
	if err != nil {
		return nil, err
	}

	return &IndexedEntity{
		Entity:          stored.Entity,
		EntityID:        stored.ID,
		Acl:             parsed,
		Timestamp:       stored.Timestamp,
		DocumentVersion: stored.Timestamp,
		TransactionID:   transactionID,
	}, nil
}

// Status reports index health for the status poller.
type Status struct {
	Backend string
	Count   int64
	Healthy bool
}

// SearchIndex is the pluggable full-text/structured index. The index applies
// the compiled query's filters itself; ACL visibility filtering is the
// caller's responsibility, keeping authorization logic centralized and
// backend-independent.
type SearchIndex interface {
	// Index adds or replaces a single entity in the index.
	Index(ctx context.Context, e *IndexedEntity) error

	// IndexBatch indexes a batch and reports partial failure as the set
	// of entity ids that did not get indexed. It does not return an
	// error for partial failure.
	IndexBatch(ctx context.Context, es []*IndexedEntity) ([]string, error)

	// Get returns one indexed entity by id, or ErrNotFound.
	Get(ctx context.Context, entityID string) (*IndexedEntity, error)

	// Delete removes an entity from the index. Deleting an absent id is
	// a no-op.
	Delete(ctx context.Context, entityID string) error

	// Update replaces an indexed entity if the given DocumentVersion
	// matches the indexed one. It returns false, not an error, on a
	// version conflict.
	Update(ctx context.Context, e *IndexedEntity) (bool, error)

	// Query evaluates a compiled query and returns matching entities,
	// ordered and paged. Visibility is not filtered here.
	Query(ctx context.Context, query *storage.EntityQuery) ([]*IndexedEntity, error)

	// GetCount returns the number of indexed entities.
	GetCount(ctx context.Context) (int64, error)

	// GetStatus reports index health.
	GetStatus(ctx context.Context) (*Status, error)

	// Close releases index resources. It is idempotent.
	Close()
}
