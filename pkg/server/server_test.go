package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/internal/consumer"
	"github.com/mtnfog/entitydb/internal/indexer"
	"github.com/mtnfog/entitydb/pkg/authn"
	"github.com/mtnfog/entitydb/pkg/entity"
	indexmemory "github.com/mtnfog/entitydb/pkg/index/memory"
	queuememory "github.com/mtnfog/entitydb/pkg/queue/memory"
	serverErrors "github.com/mtnfog/entitydb/pkg/server/errors"
	storagememory "github.com/mtnfog/entitydb/pkg/storage/memory"
)

type pipeline struct {
	service  *QueryService
	consumer *consumer.Consumer
	indexer  *indexer.Indexer
}

// newPipeline wires the whole platform on in-memory backends, with the
// consumer and indexer driven manually instead of by schedulers.
func newPipeline(t *testing.T, users []entity.User) *pipeline {
	t.Helper()

	q := queuememory.New(100)
	ds := storagememory.New()
	idx := indexmemory.New()
	cache := indexer.NewCache()

	directory, err := authn.NewStaticUserDirectory(users)
	require.NoError(t, err)

	return &pipeline{
		service:  NewQueryService(directory, idx, q, nil, nil, nil),
		consumer: consumer.New(q, ds, cache, nil, nil, nil),
		indexer:  indexer.New(ds, idx, cache, nil, nil),
	}
}

// settle runs consume and index cycles until both go idle.
func (p *pipeline) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for {
		consumed, err := p.consumer.Consume(ctx)
		require.NoError(t, err)

		indexed, err := p.indexer.IndexEntities(ctx, 100)
		require.NoError(t, err)

		if consumed == 0 && indexed == 0 {
			return
		}
	}
}

func TestEqlEndToEnd(t *testing.T) {
	ctx := context.Background()

	p := newPipeline(t, []entity.User{
		{ID: "alice", Groups: []string{"finance"}, APIKey: "alice-key"},
		{ID: "bob", Groups: []string{"hr"}, APIKey: "bob-key"},
	})

	require.NoError(t, p.service.Ingest(ctx, []entity.Entity{
		{Text: "George Washington", Type: "PER", Context: "ctx", DocumentID: "doc", Confidence: 97},
		{Text: "Mount Vernon", Type: "LOC", Context: "ctx", DocumentID: "doc", Confidence: 80},
	}, "::1", "alice-key"))
	require.NoError(t, p.service.Ingest(ctx, []entity.Entity{
		{Text: "Payroll Ledger", Type: "DOC", Context: "ctx", DocumentID: "doc", Confidence: 88},
	}, ":finance:0", "alice-key"))

	p.settle(t)

	// Alice sees the world-readable entities and the finance entity.
	result, err := p.service.Eql(ctx, "select * from entities order by confidence desc", "alice-key", 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Entities, 3)
	require.NotEmpty(t, result.QueryID)
	require.Equal(t, "George Washington", result.Entities[0].Text)

	// Bob is not in finance, so the ledger is filtered out of his view.
	result, err = p.service.Eql(ctx, "select * from entities order by confidence desc", "bob-key", 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	for _, e := range result.Entities {
		require.NotEqual(t, "Payroll Ledger", e.Text)
	}

	// Filters and explicit paging compose with visibility.
	result, err = p.service.Eql(ctx, `select * from entities where text = "George*"`, "alice-key", 0, 1)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	require.Equal(t, "George Washington", result.Entities[0].Text)

	// Every query execution gets its own id.
	second, err := p.service.Eql(ctx, "select * from entities", "alice-key", 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, result.QueryID, second.QueryID)
}

func TestEqlRejectsUnknownAPIKey(t *testing.T) {
	p := newPipeline(t, []entity.User{{ID: "alice", APIKey: "alice-key"}})

	_, err := p.service.Eql(context.Background(), "select * from entities", "wrong-key", 0, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, authn.ErrUnauthorized)
	require.Equal(t, serverErrors.KindUnauthenticated, serverErrors.KindOf(err))
}

func TestEqlRejectsMalformedQuery(t *testing.T) {
	p := newPipeline(t, []entity.User{{ID: "alice", APIKey: "alice-key"}})

	_, err := p.service.Eql(context.Background(), "select * from nowhere", "alice-key", 0, 0)
	require.Error(t, err)
	require.Equal(t, serverErrors.KindInvalidQuery, serverErrors.KindOf(err))
}

func TestIngestValidatesACLBeforeEnqueue(t *testing.T) {
	p := newPipeline(t, []entity.User{{ID: "alice", APIKey: "alice-key"}})

	err := p.service.Ingest(context.Background(), []entity.Entity{{Text: "x"}}, "not an acl", "alice-key")
	require.Error(t, err)
	require.Equal(t, serverErrors.KindInvalidQuery, serverErrors.KindOf(err))

	err = p.service.Ingest(context.Background(), []entity.Entity{{Text: "x"}}, "::1", "wrong-key")
	require.Error(t, err)
	require.Equal(t, serverErrors.KindUnauthenticated, serverErrors.KindOf(err))
}
