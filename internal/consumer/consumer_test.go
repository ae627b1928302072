package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/internal/indexer"
	"github.com/mtnfog/entitydb/pkg/audit"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/queue"
	queuememory "github.com/mtnfog/entitydb/pkg/queue/memory"
	"github.com/mtnfog/entitydb/pkg/storage"
	storagememory "github.com/mtnfog/entitydb/pkg/storage/memory"
)

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu      sync.Mutex
	actions map[string][]audit.Action
}

func newRecordingSink() *recordingSink {
	return &recordingSink{actions: make(map[string][]audit.Action)}
}

func (s *recordingSink) AuditEntity(ctx context.Context, entityID string, timestamp time.Time, userIdentifier string, action audit.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[entityID] = append(s.actions[entityID], action)
	return true
}

func (s *recordingSink) AuditQuery(ctx context.Context, queryText string, timestamp time.Time, userIdentifier string) bool {
	return true
}

func (s *recordingSink) Close() {}

func (s *recordingSink) actionsFor(entityID string) []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[entityID]
}

func TestConsumeStoresAndCaches(t *testing.T) {
	ctx := context.Background()
	q := queuememory.New(10)
	ds := storagememory.New()
	cache := indexer.NewCache()
	sink := newRecordingSink()

	require.NoError(t, q.Publish(ctx, queue.IngestMessage{
		Entities: []entity.Entity{
			{Text: "George Washington", Type: "PER", Context: "ctx", DocumentID: "doc", Confidence: 97},
			{Text: "Mount Vernon", Type: "LOC", Context: "ctx", DocumentID: "doc", Confidence: 80},
		},
		ACL:    "::1",
		APIKey: "key",
	}))

	c := New(q, ds, cache, sink, nil, nil)

	n, err := c.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := ds.GetEntityCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	cached := cache.Drain(0)
	require.Len(t, cached, 2)
	for _, stored := range cached {
		require.Equal(t, []audit.Action{audit.ActionStored}, sink.actionsFor(stored.ID))
	}

	// An empty queue is an idle cycle.
	n, err = c.Consume(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConsumeRedeliveryIsSkipped(t *testing.T) {
	ctx := context.Background()
	q := queuememory.New(10)
	ds := storagememory.New()
	sink := newRecordingSink()

	msg := queue.IngestMessage{
		Entities: []entity.Entity{{Text: "George Washington", Type: "PER", Confidence: 97}},
		ACL:      "::1",
		APIKey:   "key",
	}

	// The same message delivered twice, as an at-least-once queue may do.
	require.NoError(t, q.Publish(ctx, msg))
	require.NoError(t, q.Publish(ctx, msg))

	c := New(q, ds, nil, sink, nil, nil)

	n, err := c.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	count, err := ds.GetEntityCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	id := entity.NewStoredEntity(msg.Entities[0], msg.ACL).ID
	require.Equal(t, []audit.Action{audit.ActionStored, audit.ActionSkipped}, sink.actionsFor(id))
}

// partialFailureStore commits entities through the memory backend except
// the one text it is configured to fail, which it reports in FailedIDs.
type partialFailureStore struct {
	*storagememory.MemoryBackend
	failText string
}

func (s *partialFailureStore) StoreEntities(ctx context.Context, entities []entity.Entity, aclString string) (*storage.StoreResult, error) {
	result := &storage.StoreResult{}
	for i := range entities {
		e := entities[i]
		if e.Text == s.failText {
			e.SanitizeMetadata()
			result.FailedIDs = append(result.FailedIDs, entity.DeriveID(&e, aclString))
			continue
		}
		partial, err := s.MemoryBackend.StoreEntities(ctx, []entity.Entity{e}, aclString)
		if err != nil {
			return nil, err
		}
		result.Stored = append(result.Stored, partial.Stored...)
		result.SkippedIDs = append(result.SkippedIDs, partial.SkippedIDs...)
	}
	return result, nil
}

func TestConsumePartialStoreFailureAuditsPerEntity(t *testing.T) {
	ctx := context.Background()
	q := queuememory.New(10)
	ds := &partialFailureStore{MemoryBackend: storagememory.New(), failText: "Aaron Burr"}
	cache := indexer.NewCache()
	sink := newRecordingSink()

	msg := queue.IngestMessage{
		Entities: []entity.Entity{
			{Text: "George Washington", Type: "PER", Confidence: 97},
			{Text: "Aaron Burr", Type: "PER", Confidence: 90},
		},
		ACL:    "::1",
		APIKey: "key",
	}
	require.NoError(t, q.Publish(ctx, msg))

	c := New(q, ds, cache, sink, nil, nil)

	n, err := c.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The entity committed before the failure stays committed and is
	// audited by its real outcome, not swept into the failure.
	count, err := ds.GetEntityCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	storedID := entity.NewStoredEntity(msg.Entities[0], msg.ACL).ID
	failedID := entity.NewStoredEntity(msg.Entities[1], msg.ACL).ID
	require.Equal(t, []audit.Action{audit.ActionStored}, sink.actionsFor(storedID))
	require.Equal(t, []audit.Action{audit.ActionStoreFailure}, sink.actionsFor(failedID))

	cached := cache.Drain(0)
	require.Len(t, cached, 1)
	require.Equal(t, storedID, cached[0].ID)
}

func TestConsumeDropsMalformedACL(t *testing.T) {
	ctx := context.Background()
	q := queuememory.New(10)
	ds := storagememory.New()
	sink := newRecordingSink()

	// Bypass publish validation to simulate a corrupted message crossing
	// the queue boundary.
	c := New(q, ds, nil, sink, nil, nil)
	c.consumeMessage(ctx, queue.IngestMessage{
		Entities: []entity.Entity{{Text: "Poisoned", Type: "PER"}},
		ACL:      "not an acl",
		APIKey:   "key",
	})

	count, err := ds.GetEntityCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	id := entity.DeriveID(&entity.Entity{Text: "Poisoned", Type: "PER"}, "not an acl")
	require.Equal(t, []audit.Action{audit.ActionStoreFailure}, sink.actionsFor(id))
}
