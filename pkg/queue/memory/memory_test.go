package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/acl"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/queue"
)

func message(text, aclString string) queue.IngestMessage {
	return queue.IngestMessage{
		Entities: []entity.Entity{{Text: text, Type: "PER"}},
		ACL:      aclString,
		APIKey:   "key",
	}
}

func TestPublishAndPoll(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, message("one", "::1")))
	require.NoError(t, q.Publish(ctx, message("two", "::1")))
	require.Equal(t, 2, q.Size())

	messages, err := q.Poll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "one", messages[0].Entities[0].Text)
	require.NotEmpty(t, messages[0].ID)
	require.Equal(t, 1, q.Size())

	messages, err = q.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "two", messages[0].Entities[0].Text)

	// Polling an empty queue does not block.
	messages, err = q.Poll(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestPublishRejectsMalformedACL(t *testing.T) {
	q := New(10)

	err := q.Publish(context.Background(), message("one", "not an acl"))
	require.ErrorIs(t, err, acl.ErrMalformedAcl)
	require.Zero(t, q.Size())
}

func TestPublishToFullQueue(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, message("one", "::1")))
	require.ErrorIs(t, q.Publish(ctx, message("two", "::1")), ErrFull)
}

func TestClosedQueueStillDrains(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, message("one", "::1")))
	q.Close()

	require.ErrorIs(t, q.Publish(ctx, message("two", "::1")), queue.ErrClosed)

	// Already queued messages remain consumable after close.
	messages, err := q.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}
