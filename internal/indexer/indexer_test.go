package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/index"
	indexmemory "github.com/mtnfog/entitydb/pkg/index/memory"
	"github.com/mtnfog/entitydb/pkg/storage"
	storagememory "github.com/mtnfog/entitydb/pkg/storage/memory"
)

func storeOne(t *testing.T, ds storage.EntityStore, text string) *entity.StoredEntity {
	t.Helper()

	result, err := ds.StoreEntities(context.Background(), []entity.Entity{
		{Text: text, Type: "PER", Context: "ctx", DocumentID: "doc", Confidence: 90},
	}, "::1")
	require.NoError(t, err)
	require.Len(t, result.Stored, 1)
	return result.Stored[0]
}

func TestIndexEntitiesFastPath(t *testing.T) {
	ctx := context.Background()
	ds := storagememory.New()
	idx := indexmemory.New()
	cache := NewCache()

	stored := storeOne(t, ds, "George Washington")
	cache.Put([]*entity.StoredEntity{stored})

	ixr := New(ds, idx, cache, nil, nil)

	n, err := ixr.IndexEntities(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, cache.Len())

	got, err := idx.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, "George Washington", got.Text)
	require.NotEmpty(t, got.TransactionID)

	nonIndexed, err := ds.GetNonIndexedEntities(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, nonIndexed)
}

func TestIndexEntitiesSlowPath(t *testing.T) {
	ctx := context.Background()
	ds := storagememory.New()
	idx := indexmemory.New()

	stored := storeOne(t, ds, "Thomas Jefferson")

	// No cache at all: the store scan is the only source.
	ixr := New(ds, idx, nil, nil, nil)

	n, err := ixr.IndexEntities(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = idx.Get(ctx, stored.ID)
	require.NoError(t, err)

	// Nothing left to do.
	n, err = ixr.IndexEntities(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)
}

// failingIndex fails every entity whose id is in the fail set.
type failingIndex struct {
	*indexmemory.MemoryIndex
	fail map[string]struct{}
}

func (f *failingIndex) IndexBatch(ctx context.Context, es []*index.IndexedEntity) ([]string, error) {
	var failed []string
	var rest []*index.IndexedEntity
	for _, e := range es {
		if _, ok := f.fail[e.EntityID]; ok {
			failed = append(failed, e.EntityID)
			continue
		}
		rest = append(rest, e)
	}

	more, err := f.MemoryIndex.IndexBatch(ctx, rest)
	return append(failed, more...), err
}

func TestIndexEntitiesPartialFailure(t *testing.T) {
	ctx := context.Background()
	ds := storagememory.New()

	good := storeOne(t, ds, "George Washington")
	bad := storeOne(t, ds, "Benedict Arnold")

	idx := &failingIndex{
		MemoryIndex: indexmemory.New(),
		fail:        map[string]struct{}{bad.ID: {}},
	}

	ixr := New(ds, idx, nil, nil, nil)

	n, err := ixr.IndexEntities(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = idx.Get(ctx, good.ID)
	require.NoError(t, err)
	_, err = idx.Get(ctx, bad.ID)
	require.ErrorIs(t, err, index.ErrNotFound)

	// The failed entity stays non-indexed for the next cycle.
	nonIndexed, err := ds.GetNonIndexedEntities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, nonIndexed, 1)
	require.Equal(t, bad.ID, nonIndexed[0].ID)
}

func TestIndexEntitiesSkipsUnparseableACL(t *testing.T) {
	ctx := context.Background()
	ds := storagememory.New()
	idx := indexmemory.New()
	cache := NewCache()

	poisoned := &entity.StoredEntity{
		Entity:    entity.Entity{Text: "Poisoned", Type: "PER"},
		ID:        "00000000000000ff",
		ACL:       "not an acl",
		Timestamp: 1,
	}
	cache.Put([]*entity.StoredEntity{poisoned})

	ixr := New(ds, idx, cache, nil, nil)

	n, err := ixr.IndexEntities(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = idx.Get(ctx, poisoned.ID)
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestCacheDrainLimit(t *testing.T) {
	cache := NewCache()
	cache.Put([]*entity.StoredEntity{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	})

	first := cache.Drain(2)
	require.Len(t, first, 2)
	require.Equal(t, "a", first[0].ID)
	require.Equal(t, 1, cache.Len())

	rest := cache.Drain(0)
	require.Len(t, rest, 1)
	require.Equal(t, "c", rest[0].ID)
	require.Zero(t, cache.Len())

	require.Nil(t, cache.Drain(10))
}
