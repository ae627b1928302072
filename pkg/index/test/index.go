// Package test contains the conformance suite every search index backend
// must pass.
package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/index"
	"github.com/mtnfog/entitydb/pkg/storage"
)

const worldACL = "::1"

// RunAllTests runs the conformance suite against the given index. The index
// must be empty when the suite starts.
func RunAllTests(t *testing.T, idx index.SearchIndex) {
	t.Run("TestIndexAndGet", func(t *testing.T) { IndexAndGetTest(t, idx) })
	t.Run("TestReindex", func(t *testing.T) { ReindexTest(t, idx) })
	t.Run("TestUpdate", func(t *testing.T) { UpdateTest(t, idx) })
	t.Run("TestDelete", func(t *testing.T) { DeleteTest(t, idx) })
	t.Run("TestQuery", func(t *testing.T) { QueryTest(t, idx) })
	t.Run("TestStatus", func(t *testing.T) { StatusTest(t, idx) })
}

func makeIndexed(t *testing.T, text, entityType, entityContext, documentID string, confidence float64, aclString string) *index.IndexedEntity {
	t.Helper()

	stored := entity.NewStoredEntity(entity.Entity{
		Text:       text,
		Type:       entityType,
		Confidence: confidence,
		Context:    entityContext,
		DocumentID: documentID,
	}, aclString)

	ie, err := index.NewIndexedEntity(stored, "test-transaction")
	require.NoError(t, err)
	return ie
}

// IndexAndGetTest verifies single writes and reads by entity id.
func IndexAndGetTest(t *testing.T, idx index.SearchIndex) {
	ctx := context.Background()

	ie := makeIndexed(t, "James Madison", "PER", "get-ctx", "get-doc", 93.0, worldACL)
	require.NoError(t, idx.Index(ctx, ie))

	got, err := idx.Get(ctx, ie.EntityID)
	require.NoError(t, err)
	require.Equal(t, ie.EntityID, got.EntityID)
	require.Equal(t, "James Madison", got.Text)
	require.Equal(t, "PER", got.Type)
	require.Equal(t, ie.Timestamp, got.Timestamp)
	require.Equal(t, worldACL, got.Acl.String())

	_, err = idx.Get(ctx, "ffffffffffffffff")
	require.ErrorIs(t, err, index.ErrNotFound)

	// A batch of valid entities indexes completely.
	batch := []*index.IndexedEntity{
		makeIndexed(t, "Dolley Madison", "PER", "get-ctx", "get-doc", 91.0, worldACL),
		makeIndexed(t, "Montpelier", "LOC", "get-ctx", "get-doc", 88.0, worldACL),
	}
	failed, err := idx.IndexBatch(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, failed)
}

// ReindexTest verifies that indexing the same entity again converges. The
// indexer retries an entity whose indexed marker never got flipped, so a
// write carrying an unchanged document version must land as an overwrite,
// not a conflict.
func ReindexTest(t *testing.T, idx index.SearchIndex) {
	ctx := context.Background()

	ie := makeIndexed(t, "John Jay", "PER", "reindex-ctx", "reindex-doc", 92.0, worldACL)
	require.NoError(t, idx.Index(ctx, ie))
	require.NoError(t, idx.Index(ctx, ie))

	failed, err := idx.IndexBatch(ctx, []*index.IndexedEntity{ie})
	require.NoError(t, err)
	require.Empty(t, failed)

	got, err := idx.Get(ctx, ie.EntityID)
	require.NoError(t, err)
	require.Equal(t, "John Jay", got.Text)
}

// UpdateTest verifies optimistic concurrency on the document version.
func UpdateTest(t *testing.T, idx index.SearchIndex) {
	ctx := context.Background()

	ie := makeIndexed(t, "Alexander Hamilton", "PER", "update-ctx", "update-doc", 95.0, worldACL)
	require.NoError(t, idx.Index(ctx, ie))

	current, err := idx.Get(ctx, ie.EntityID)
	require.NoError(t, err)

	current.Confidence = 99.0
	ok, err := idx.Update(ctx, current)
	require.NoError(t, err)
	require.True(t, ok)

	// The first writer won; the same stale version must lose.
	ok, err = idx.Update(ctx, current)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := idx.Get(ctx, ie.EntityID)
	require.NoError(t, err)
	require.Equal(t, 99.0, got.Confidence)
	require.Greater(t, got.DocumentVersion, ie.DocumentVersion)
}

// DeleteTest verifies removal and that deleting an absent id is a no-op.
func DeleteTest(t *testing.T, idx index.SearchIndex) {
	ctx := context.Background()

	ie := makeIndexed(t, "Aaron Burr", "PER", "delete-ctx", "delete-doc", 90.0, worldACL)
	require.NoError(t, idx.Index(ctx, ie))

	require.NoError(t, idx.Delete(ctx, ie.EntityID))

	_, err := idx.Get(ctx, ie.EntityID)
	require.ErrorIs(t, err, index.ErrNotFound)

	require.NoError(t, idx.Delete(ctx, ie.EntityID))
}

// QueryTest verifies filtering, ordering and paging against the index.
func QueryTest(t *testing.T, idx index.SearchIndex) {
	ctx := context.Background()

	batch := []*index.IndexedEntity{
		makeIndexed(t, "George Washington", "PER", "search-ctx", "search-doc-1", 97.0, worldACL),
		makeIndexed(t, "George Washington Carver", "PER", "search-ctx", "search-doc-1", 50.0, worldACL),
		makeIndexed(t, "Mount Vernon", "LOC", "search-ctx", "search-doc-2", 80.0, worldACL),
	}
	failed, err := idx.IndexBatch(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, failed)

	q := storage.NewEntityQuery()
	q.Context = "search-ctx"
	q.Text = "George Washington"
	matches, err := idx.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "George Washington", matches[0].Text)

	q = storage.NewEntityQuery()
	q.Context = "search-ctx"
	q.Text = "George Washington*"
	matches, err = idx.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	q = storage.NewEntityQuery()
	q.Context = "search-ctx"
	q.Type = "LOC"
	matches, err = idx.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "Mount Vernon", matches[0].Text)

	q = storage.NewEntityQuery()
	q.Context = "search-ctx"
	q.Confidence = &storage.ConfidenceRange{
		HasMin: true, Min: 75.0, MinInclusive: true,
		HasMax: true, Max: 100.0, MaxInclusive: true,
	}
	q.Order = storage.OrderConfidence
	q.SortOrder = storage.SortDescending
	matches, err = idx.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, 97.0, matches[0].Confidence)
	require.Equal(t, 80.0, matches[1].Confidence)

	q = storage.NewEntityQuery()
	q.Context = "search-ctx"
	q.Order = storage.OrderConfidence
	q.SortOrder = storage.SortDescending
	q.Limit = 1
	q.Offset = 1
	matches, err = idx.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 80.0, matches[0].Confidence)
}

// StatusTest verifies the count and health reporting.
func StatusTest(t *testing.T, idx index.SearchIndex) {
	ctx := context.Background()

	count, err := idx.GetCount(ctx)
	require.NoError(t, err)
	require.Greater(t, count, int64(0))

	status, err := idx.GetStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.Healthy)
	require.NotEmpty(t, status.Backend)
	require.Equal(t, count, status.Count)
}
