// Package audit contains the audit event sink contract and the standard
// sinks.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mtnfog/entitydb/pkg/logger"
)

// Action identifies the audited pipeline outcome.
type Action string

const (
	ActionStored       Action = "STORED"
	ActionSkipped      Action = "SKIPPED"
	ActionStoreFailure Action = "STORE_FAILURE"
	ActionQuery        Action = "QUERY"
	ActionSearchResult Action = "SEARCH_RESULT"
)

// Sink receives audit events. It is called synchronously on the hot path:
// callers tolerate a false return and continue, so implementations must not
// block for long and must not panic.
type Sink interface {
	// AuditEntity records an action taken on one entity. It reports
	// whether the event was recorded.
	AuditEntity(ctx context.Context, entityID string, timestamp time.Time, userIdentifier string, action Action) bool

	// AuditQuery records an executed query string.
	AuditQuery(ctx context.Context, queryText string, timestamp time.Time, userIdentifier string) bool

	// Close releases sink resources.
	Close()
}

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger logger.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a Sink writing to the given logger.
func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) AuditEntity(ctx context.Context, entityID string, timestamp time.Time, userIdentifier string, action Action) bool {
	s.logger.Info("audit",
		zap.String("entityId", entityID),
		zap.Time("timestamp", timestamp),
		zap.String("user", userIdentifier),
		zap.String("action", string(action)),
	)
	return true
}

func (s *LogSink) AuditQuery(ctx context.Context, queryText string, timestamp time.Time, userIdentifier string) bool {
	s.logger.Info("audit",
		zap.String("query", queryText),
		zap.Time("timestamp", timestamp),
		zap.String("user", userIdentifier),
		zap.String("action", string(ActionQuery)),
	)
	return true
}

func (s *LogSink) Close() {}

// NoopSink discards audit events.
type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

func (NoopSink) AuditEntity(ctx context.Context, entityID string, timestamp time.Time, userIdentifier string, action Action) bool {
	return true
}

func (NoopSink) AuditQuery(ctx context.Context, queryText string, timestamp time.Time, userIdentifier string) bool {
	return true
}

func (NoopSink) Close() {}
