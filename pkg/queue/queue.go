// Package queue contains the asynchronous ingestion channel contract.
package queue

import (
	"context"
	"errors"

	"github.com/mtnfog/entitydb/pkg/acl"
	"github.com/mtnfog/entitydb/pkg/entity"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue is closed")

// IngestMessage is the unit of work crossing the queue boundary.
type IngestMessage struct {
	// ID identifies one delivery for logging and audit correlation.
	// Implementations assign it at publish time when it is empty.
	ID string

	Entities []entity.Entity
	ACL      string
	APIKey   string
}

// IngestQueue is the pluggable ingestion channel. Delivery is at-least-once;
// dedup correctness is the entity store's responsibility, not the queue's.
type IngestQueue interface {
	// Publish enqueues a message. Implementations must validate the ACL
	// string first and fail with acl.ErrMalformedAcl without enqueueing.
	Publish(ctx context.Context, msg IngestMessage) error

	// Poll returns up to max available messages without blocking for
	// more.
	Poll(ctx context.Context, max int) ([]IngestMessage, error)

	// Size returns the number of messages waiting.
	Size() int

	// Close stops the queue from accepting new messages.
	Close()
}

// ValidateMessage applies the publish-time checks shared by queue
// implementations.
func ValidateMessage(msg IngestMessage) error {
	return acl.Validate(msg.ACL)
}
