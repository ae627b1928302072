// Package server orchestrates the EQL query path end to end.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	aclpkg "github.com/mtnfog/entitydb/pkg/acl"
	"github.com/mtnfog/entitydb/pkg/audit"
	"github.com/mtnfog/entitydb/pkg/authn"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/eql"
	"github.com/mtnfog/entitydb/pkg/index"
	"github.com/mtnfog/entitydb/pkg/logger"
	"github.com/mtnfog/entitydb/pkg/queue"
	serverErrors "github.com/mtnfog/entitydb/pkg/server/errors"
	"github.com/mtnfog/entitydb/pkg/storage"
	"github.com/mtnfog/entitydb/pkg/telemetry"
)

// QueryService is the authenticated front door: it accepts EQL queries,
// runs them against the search index and filters results down to what the
// caller's ACLs allow.
type QueryService struct {
	users   authn.UserDirectory
	idx     index.SearchIndex
	queue   queue.IngestQueue
	sink    audit.Sink
	logger  logger.Logger
	metrics *telemetry.Metrics
}

// NewQueryService creates the service. The sink is optional.
func NewQueryService(users authn.UserDirectory, idx index.SearchIndex, q queue.IngestQueue, sink audit.Sink, log logger.Logger, metrics *telemetry.Metrics) *QueryService {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &QueryService{
		users:   users,
		idx:     idx,
		queue:   q,
		sink:    sink,
		logger:  log,
		metrics: metrics,
	}
}

// Eql authenticates the caller, compiles and executes the query, and
// returns only the entities the caller may see. A positive limit and a
// positive offset override any paging compiled from the query string.
func (s *QueryService) Eql(ctx context.Context, queryString, apiKey string, offset, limit int) (*storage.QueryResult, error) {
	started := time.Now()

	user, err := s.users.Authenticate(ctx, apiKey)
	if err != nil {
		s.metrics.QueriesRejected.Inc()
		return nil, serverErrors.New(serverErrors.KindUnauthenticated, "invalid api key", err)
	}

	query, err := eql.Compile(queryString)
	if err != nil {
		s.metrics.QueriesRejected.Inc()
		return nil, serverErrors.New(serverErrors.KindInvalidQuery, "malformed query", err)
	}

	if limit > 0 {
		query.Limit = limit
	}
	if offset > 0 {
		query.Offset = offset
	}

	s.sink.AuditQuery(ctx, queryString, started, user.ID)

	matches, err := s.idx.Query(ctx, query)
	if err != nil {
		s.metrics.QueriesRejected.Inc()
		return nil, serverErrors.New(serverErrors.KindUnavailable, "query execution failed", err)
	}

	result := &storage.QueryResult{
		QueryID:  ulid.Make().String(),
		Entities: make([]*entity.StoredEntity, 0, len(matches)),
	}
	now := time.Now()
	for _, m := range matches {
		if !m.Acl.IsVisible(user) {
			continue
		}
		result.Entities = append(result.Entities, &entity.StoredEntity{
			Entity:    m.Entity,
			ID:        m.EntityID,
			ACL:       m.Acl.String(),
			Visible:   true,
			Timestamp: m.Timestamp,
			Indexed:   m.Timestamp,
		})
		s.sink.AuditEntity(ctx, m.EntityID, now, user.ID, audit.ActionSearchResult)
	}

	s.metrics.QueriesExecuted.Inc()
	s.metrics.QueryDuration.Observe(time.Since(started).Seconds())
	s.logger.Debug("eql query executed",
		zap.String("query_id", result.QueryID),
		zap.String("user", user.ID),
		zap.Int("matches", len(matches)),
		zap.Int("visible", len(result.Entities)),
	)

	return result, nil
}

// Ingest authenticates the caller and publishes entities onto the ingest
// queue under the given ACL. Storage and indexing happen asynchronously.
func (s *QueryService) Ingest(ctx context.Context, entities []entity.Entity, acl, apiKey string) error {
	if _, err := s.users.Authenticate(ctx, apiKey); err != nil {
		return serverErrors.New(serverErrors.KindUnauthenticated, "invalid api key", err)
	}
	if len(entities) == 0 {
		return nil
	}

	err := s.queue.Publish(ctx, queue.IngestMessage{
		Entities: entities,
		ACL:      acl,
		APIKey:   apiKey,
	})
	if err != nil {
		if errors.Is(err, aclpkg.ErrMalformedAcl) {
			return serverErrors.New(serverErrors.KindInvalidQuery, "malformed acl", err)
		}
		return serverErrors.New(serverErrors.KindUnavailable, "ingest rejected", err)
	}
	return nil
}
