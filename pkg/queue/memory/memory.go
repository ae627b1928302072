// Package memory provides a bounded, in-process ingest queue.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mtnfog/entitydb/pkg/queue"
)

const defaultCapacity = 10000

// ErrFull is returned when the queue cannot accept another message.
var ErrFull = errors.New("queue is full")

// MemoryQueue is a channel-backed implementation of queue.IngestQueue.
// It is safe for concurrent publishers and pollers.
type MemoryQueue struct {
	mu       sync.RWMutex
	messages chan queue.IngestMessage
	closed   bool
}

var _ queue.IngestQueue = (*MemoryQueue)(nil)

// New creates a MemoryQueue holding at most capacity messages. A
// non-positive capacity selects the default.
func New(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &MemoryQueue{
		messages: make(chan queue.IngestMessage, capacity),
	}
}

// Publish see queue.IngestQueue.Publish.
func (q *MemoryQueue) Publish(ctx context.Context, msg queue.IngestMessage) error {
	if err := queue.ValidateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return queue.ErrClosed
	}

	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

// Poll see queue.IngestQueue.Poll.
func (q *MemoryQueue) Poll(ctx context.Context, max int) ([]queue.IngestMessage, error) {
	if max <= 0 {
		return nil, nil
	}

	var msgs []queue.IngestMessage
	for len(msgs) < max {
		select {
		case msg, ok := <-q.messages:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, msg)
		case <-ctx.Done():
			return msgs, ctx.Err()
		default:
			return msgs, nil
		}
	}

	return msgs, nil
}

// Size see queue.IngestQueue.Size.
func (q *MemoryQueue) Size() int {
	return len(q.messages)
}

// Close stops the queue from accepting new messages. Messages already
// enqueued remain pollable.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}
