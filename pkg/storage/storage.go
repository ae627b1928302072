// Package storage contains the entity store contract and the compiled
// query model shared by every backend.
package storage

import (
	"context"

	"github.com/mtnfog/entitydb/pkg/entity"
)

const (
	// DefaultQueryLimit is the page size applied when a query does not
	// request one.
	DefaultQueryLimit = 25

	// DefaultNonIndexedLimit bounds a single indexer slow-path read.
	DefaultNonIndexedLimit = 100
)

// StoreResult reports the per-entity outcome of a StoreEntities call. A
// duplicate submission is not an error: it is recorded in SkippedIDs and the
// existing row is left untouched. An entity whose write failed is recorded
// in FailedIDs; entities committed before it stay committed.
type StoreResult struct {
	Stored     []*entity.StoredEntity
	SkippedIDs []string
	FailedIDs  []string
}

// QueryResult is a page of stored entities matching a query.
type QueryResult struct {
	Entities []*entity.StoredEntity
	QueryID  string
}

// EntityStore is the durable, pluggable storage abstraction for entities.
// Backend choice is a deployment concern: every implementation must satisfy
// the same contract, verified by the shared conformance suite in
// pkg/storage/test.
type EntityStore interface {
	// StoreEntities persists the given entities under one ACL. Entities
	// whose derived id already exists are skipped, never overwritten. A
	// write failure on one entity does not abort the rest: the failing
	// id is recorded in the result's FailedIDs and the batch continues.
	// An error is returned only when the call as a whole cannot proceed.
	StoreEntities(ctx context.Context, entities []entity.Entity, acl string) (*StoreResult, error)

	// Query executes a compiled query against the store, honoring text
	// prefix wildcards, confidence and date ranges, metadata filters,
	// ordering, limit and offset.
	Query(ctx context.Context, query *EntityQuery) (*QueryResult, error)

	// GetNonIndexedEntities returns up to limit entities that have not
	// yet been indexed, oldest first.
	GetNonIndexedEntities(ctx context.Context, limit int) ([]*entity.StoredEntity, error)

	// MarkEntitiesAsIndexed flips the indexed marker for the given ids
	// and returns how many rows changed. Marking an already indexed id
	// is a no-op counted as zero. The call is idempotent.
	MarkEntitiesAsIndexed(ctx context.Context, ids []string) (int, error)

	// GetEntityCount returns the number of stored entities.
	GetEntityCount(ctx context.Context) (int64, error)

	// GetContexts returns the distinct context values present in the
	// store. Backends that cannot support this return ErrUnsupported,
	// never a silent empty result.
	GetContexts(ctx context.Context) ([]string, error)

	// DeleteContext purges every entity belonging to a context.
	DeleteContext(ctx context.Context, context string) error

	// DeleteDocument purges every entity belonging to a document.
	DeleteDocument(ctx context.Context, documentID string) error

	// Close releases any resources held by the store.
	Close()
}
