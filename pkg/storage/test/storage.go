// Package test contains the conformance suite every entity store backend
// must pass.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/storage"
)

const worldACL = "::1"

// RunAllTests runs the conformance suite against the given store. The store
// must be empty when the suite starts.
func RunAllTests(t *testing.T, ds storage.EntityStore) {
	t.Run("TestStoreEntities", func(t *testing.T) { StoreEntitiesTest(t, ds) })
	t.Run("TestQuery", func(t *testing.T) { QueryTest(t, ds) })
	t.Run("TestIndexingLifecycle", func(t *testing.T) { IndexingLifecycleTest(t, ds) })
	t.Run("TestContexts", func(t *testing.T) { ContextsTest(t, ds) })
	t.Run("TestDeletes", func(t *testing.T) { DeletesTest(t, ds) })
}

func newEntity(text, entityType, entityContext, documentID string, confidence float64) entity.Entity {
	return entity.Entity{
		Text:       text,
		Type:       entityType,
		Confidence: confidence,
		Context:    entityContext,
		DocumentID: documentID,
	}
}

// StoreEntitiesTest verifies dedup by derived id.
func StoreEntitiesTest(t *testing.T, ds storage.EntityStore) {
	ctx := context.Background()

	e := newEntity("George Washington", "PER", "store-ctx", "store-doc", 97.0)

	result, err := ds.StoreEntities(ctx, []entity.Entity{e}, worldACL)
	require.NoError(t, err)
	require.Len(t, result.Stored, 1)
	require.Empty(t, result.SkippedIDs)
	require.NotEmpty(t, result.Stored[0].ID)
	require.Equal(t, worldACL, result.Stored[0].ACL)
	require.Zero(t, result.Stored[0].Indexed)
	require.NotZero(t, result.Stored[0].Timestamp)

	id := result.Stored[0].ID

	// The same entity under the same ACL is a duplicate.
	result, err = ds.StoreEntities(ctx, []entity.Entity{e}, worldACL)
	require.NoError(t, err)
	require.Empty(t, result.Stored)
	require.Equal(t, []string{id}, result.SkippedIDs)

	// The same content under a different ACL is a distinct entity.
	result, err = ds.StoreEntities(ctx, []entity.Entity{e}, "alice::0")
	require.NoError(t, err)
	require.Len(t, result.Stored, 1)
	require.NotEqual(t, id, result.Stored[0].ID)

	count, err := ds.GetEntityCount(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, int64(2))
}

// QueryTest verifies filtering, ordering and paging.
func QueryTest(t *testing.T, ds storage.EntityStore) {
	ctx := context.Background()

	entities := []entity.Entity{
		newEntity("George Washington", "PER", "query-ctx", "query-doc-1", 97.0),
		newEntity("George Washington Carver", "PER", "query-ctx", "query-doc-1", 50.0),
		newEntity("Mount Vernon", "LOC", "query-ctx", "query-doc-2", 80.0),
	}
	entities[2].Metadata = map[string]string{"state": "Virginia"}

	_, err := ds.StoreEntities(ctx, entities, worldACL)
	require.NoError(t, err)

	q := storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Text = "George Washington"
	result, err := ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Equal(t, "George Washington", result.Entities[0].Text)
	require.NotEmpty(t, result.QueryID)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Text = "George Washington*"
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Type = "LOC"
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Equal(t, "Mount Vernon", result.Entities[0].Text)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Confidence = &storage.ConfidenceRange{
		HasMin: true, Min: 75.0, MinInclusive: true,
		HasMax: true, Max: 100.0, MaxInclusive: true,
	}
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Metadata = []storage.EntityMetadataFilter{{
		Name:          "state",
		Value:         "Virginia",
		CaseSensitive: true,
		Comparator:    storage.ComparatorEquals,
	}}
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Equal(t, "Mount Vernon", result.Entities[0].Text)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Order = storage.OrderConfidence
	q.SortOrder = storage.SortDescending
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 3)
	require.Equal(t, 97.0, result.Entities[0].Confidence)
	require.Equal(t, 50.0, result.Entities[2].Confidence)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Order = storage.OrderConfidence
	q.SortOrder = storage.SortDescending
	q.Limit = 1
	q.Offset = 1
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Equal(t, 80.0, result.Entities[0].Confidence)

	q = storage.NewEntityQuery()
	q.Context = "query-ctx"
	q.Text = "No Such Entity"
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Empty(t, result.Entities)
}

// IndexingLifecycleTest verifies oldest-first non-indexed reads and the
// idempotent indexed marker.
func IndexingLifecycleTest(t *testing.T, ds storage.EntityStore) {
	ctx := context.Background()

	first, err := ds.StoreEntities(ctx, []entity.Entity{
		newEntity("Thomas Jefferson", "PER", "index-ctx", "index-doc", 90.0),
	}, worldACL)
	require.NoError(t, err)
	require.Len(t, first.Stored, 1)

	// Distinct timestamps so oldest-first ordering is observable.
	time.Sleep(5 * time.Millisecond)

	second, err := ds.StoreEntities(ctx, []entity.Entity{
		newEntity("Monticello", "LOC", "index-ctx", "index-doc", 90.0),
	}, worldACL)
	require.NoError(t, err)
	require.Len(t, second.Stored, 1)

	nonIndexed, err := ds.GetNonIndexedEntities(ctx, storage.DefaultNonIndexedLimit)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(nonIndexed), 2)
	for i := 1; i < len(nonIndexed); i++ {
		require.LessOrEqual(t, nonIndexed[i-1].Timestamp, nonIndexed[i].Timestamp)
	}

	marked, err := ds.MarkEntitiesAsIndexed(ctx, []string{first.Stored[0].ID})
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	// Marking again changes nothing.
	marked, err = ds.MarkEntitiesAsIndexed(ctx, []string{first.Stored[0].ID})
	require.NoError(t, err)
	require.Zero(t, marked)

	// An unknown id changes nothing.
	marked, err = ds.MarkEntitiesAsIndexed(ctx, []string{"ffffffffffffffff"})
	require.NoError(t, err)
	require.Zero(t, marked)

	nonIndexed, err = ds.GetNonIndexedEntities(ctx, storage.DefaultNonIndexedLimit)
	require.NoError(t, err)
	for _, e := range nonIndexed {
		require.NotEqual(t, first.Stored[0].ID, e.ID)
	}
}

// ContextsTest verifies distinct context listing, tolerating backends that
// signal the operation as unsupported.
func ContextsTest(t *testing.T, ds storage.EntityStore) {
	ctx := context.Background()

	_, err := ds.StoreEntities(ctx, []entity.Entity{
		newEntity("Benjamin Franklin", "PER", "contexts-ctx", "contexts-doc", 90.0),
	}, worldACL)
	require.NoError(t, err)

	contexts, err := ds.GetContexts(ctx)
	if errors.Is(err, storage.ErrUnsupported) {
		t.Skip("backend does not support context listing")
	}
	require.NoError(t, err)
	require.Contains(t, contexts, "contexts-ctx")
}

// DeletesTest verifies purging by context and by document.
func DeletesTest(t *testing.T, ds storage.EntityStore) {
	ctx := context.Background()

	_, err := ds.StoreEntities(ctx, []entity.Entity{
		newEntity("John Adams", "PER", "delete-ctx", "delete-doc-1", 90.0),
		newEntity("Abigail Adams", "PER", "delete-ctx", "delete-doc-2", 90.0),
		newEntity("Quincy", "LOC", "delete-ctx-2", "delete-doc-2", 90.0),
	}, worldACL)
	require.NoError(t, err)

	require.NoError(t, ds.DeleteContext(ctx, "delete-ctx"))

	q := storage.NewEntityQuery()
	q.Context = "delete-ctx"
	result, err := ds.Query(ctx, q)
	require.NoError(t, err)
	require.Empty(t, result.Entities)

	// The other context is untouched.
	q = storage.NewEntityQuery()
	q.Context = "delete-ctx-2"
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)

	require.NoError(t, ds.DeleteDocument(ctx, "delete-doc-2"))

	q = storage.NewEntityQuery()
	q.DocumentID = "delete-doc-2"
	result, err = ds.Query(ctx, q)
	require.NoError(t, err)
	require.Empty(t, result.Entities)

	// Deleting an absent context or document is a no-op.
	require.NoError(t, ds.DeleteContext(ctx, "never-existed"))
	require.NoError(t, ds.DeleteDocument(ctx, "never-existed"))
}
