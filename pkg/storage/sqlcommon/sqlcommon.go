// Package sqlcommon contains the SQL entity store shared by the postgres
// and mysql backends. The backends differ only in driver, placeholder
// format, and the duplicate-insert clause.
package sqlcommon

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mtnfog/entitydb/internal/build"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/logger"
	"github.com/mtnfog/entitydb/pkg/storage"
)

var tracer = otel.Tracer("entitydb/pkg/storage/sqlcommon")

// Dialect selects the SQL flavor of the backing database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Config defines the configuration parameters for setting up and managing
// a sql connection.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ExportMetrics bool
}

// DatastoreOption defines a function type used for configuring a Config
// object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that sets the username in the Config.
func WithUsername(username string) DatastoreOption {
	return func(cfg *Config) {
		cfg.Username = username
	}
}

// WithPassword returns a DatastoreOption that sets the password in the Config.
func WithPassword(password string) DatastoreOption {
	return func(cfg *Config) {
		cfg.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the maximum number of
// open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the maximum number of
// idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets the maximum idle
// time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets the maximum
// lifetime for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithMetrics returns a DatastoreOption that enables the export of
// connection pool metrics.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values and applies
// any provided DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// SQLStore implements storage.EntityStore over a database/sql connection.
// It is embedded by the postgres and mysql backends.
type SQLStore struct {
	db               *sql.DB
	stbl             sq.StatementBuilderType
	dialect          Dialect
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
}

var _ storage.EntityStore = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle. It waits for the database to
// become reachable, applying the connection pool settings from cfg.
func NewSQLStore(db *sql.DB, dialect Dialect, cfg *Config) (*SQLStore, error) {
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, err
		}
	}

	stbl := sq.StatementBuilder.RunWith(db)
	if dialect == DialectPostgres {
		stbl = stbl.PlaceholderFormat(sq.Dollar)
	}

	return &SQLStore{
		db:               db,
		stbl:             stbl,
		dialect:          dialect,
		logger:           cfg.Logger,
		dbStatsCollector: collector,
	}, nil
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close releases the database connection pool.
func (s *SQLStore) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database", zap.Error(err))
	}
}

// StoreEntities see storage.EntityStore.StoreEntities.
func (s *SQLStore) StoreEntities(ctx context.Context, entities []entity.Entity, acl string) (*storage.StoreResult, error) {
	ctx, span := tracer.Start(ctx, "sql.StoreEntities")
	defer span.End()

	result := &storage.StoreResult{}

	for _, e := range entities {
		stored := entity.NewStoredEntity(e, acl)

		inserted, err := s.insertEntity(ctx, stored)
		if err != nil {
			// One failing entity must not take down the rest of the
			// batch. Entities already committed stay committed.
			s.logger.Warn("failed to store entity",
				zap.String("entityId", stored.ID), zap.Error(err))
			result.FailedIDs = append(result.FailedIDs, stored.ID)
			continue
		}
		if inserted {
			result.Stored = append(result.Stored, stored)
		} else {
			result.SkippedIDs = append(result.SkippedIDs, stored.ID)
		}
	}

	return result, nil
}

func (s *SQLStore) insertEntity(ctx context.Context, stored *entity.StoredEntity) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	visible := 0
	if stored.Visible {
		visible = 1
	}

	insert := s.stbl.
		Insert("entities").
		Columns(
			"id", "text", "type", "confidence", "context", "document_id",
			"uri", "language_code", "acl", "visible", "timestamp", "indexed",
		).
		Values(
			stored.ID, stored.Text, stored.Type, stored.Confidence,
			stored.Context, stored.DocumentID, stored.URI, stored.LanguageCode,
			stored.ACL, visible, stored.Timestamp, stored.Indexed,
		).
		RunWith(tx)

	// Duplicate ids are skipped, never overwritten.
	if s.dialect == DialectPostgres {
		insert = insert.Suffix("ON CONFLICT (id) DO NOTHING")
	} else {
		insert = insert.Options("IGNORE")
	}

	res, err := insert.ExecContext(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	for name, value := range stored.Metadata {
		_, err := s.stbl.
			Insert("entity_metadata").
			Columns("entity_id", "name", "value").
			Values(stored.ID, name, value).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return false, err
		}
	}

	return true, tx.Commit()
}

// Query see storage.EntityStore.Query.
func (s *SQLStore) Query(ctx context.Context, query *storage.EntityQuery) (*storage.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "sql.Query")
	defer span.End()

	sb := s.selectEntities().
		OrderBy(orderColumn(query.Order)+" "+direction(query.SortOrder), "id ASC")

	if query.Limit > 0 {
		sb = sb.Limit(uint64(query.Limit))
	}
	if query.Offset > 0 {
		sb = sb.Offset(uint64(query.Offset))
	}

	sb = s.applyFilters(sb, query)

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities, err := s.scanEntities(ctx, rows)
	if err != nil {
		return nil, err
	}

	return &storage.QueryResult{
		Entities: entities,
		QueryID:  ulid.Make().String(),
	}, nil
}

func (s *SQLStore) selectEntities() sq.SelectBuilder {
	return s.stbl.
		Select(
			"id", "text", "type", "confidence", "context", "document_id",
			"uri", "language_code", "acl", "visible", "timestamp", "indexed",
		).
		From("entities")
}

func (s *SQLStore) applyFilters(sb sq.SelectBuilder, query *storage.EntityQuery) sq.SelectBuilder {
	if query.ID != "" {
		sb = sb.Where(sq.Eq{"id": query.ID})
	}
	if query.Text != "" {
		if prefix, ok := strings.CutSuffix(query.Text, "*"); ok {
			sb = sb.Where(sq.Like{"text": escapeLike(prefix) + "%"})
		} else {
			sb = sb.Where(s.textEquals("text", query.Text))
		}
	}
	if query.Type != "" {
		sb = sb.Where(sq.Eq{"type": query.Type})
	}
	if query.Context != "" {
		sb = sb.Where(sq.Eq{"context": query.Context})
	}
	if query.DocumentID != "" {
		sb = sb.Where(sq.Eq{"document_id": query.DocumentID})
	}
	if query.URI != "" {
		sb = sb.Where(sq.Eq{"uri": query.URI})
	}
	if query.LanguageCode != "" {
		sb = sb.Where(sq.Eq{"language_code": query.LanguageCode})
	}

	if r := query.Confidence; r != nil {
		if r.HasMin {
			if r.MinInclusive {
				sb = sb.Where(sq.GtOrEq{"confidence": r.Min})
			} else {
				sb = sb.Where(sq.Gt{"confidence": r.Min})
			}
		}
		if r.HasMax {
			if r.MaxInclusive {
				sb = sb.Where(sq.LtOrEq{"confidence": r.Max})
			} else {
				sb = sb.Where(sq.Lt{"confidence": r.Max})
			}
		}
	}

	if d := query.Date; d != nil {
		switch d.Comparator {
		case storage.DateBefore:
			sb = sb.Where(sq.Lt{"timestamp": d.Start})
		case storage.DateAfter:
			sb = sb.Where(sq.Gt{"timestamp": d.Start})
		case storage.DateBetween:
			sb = sb.Where(sq.GtOrEq{"timestamp": d.Start})
			sb = sb.Where(sq.LtOrEq{"timestamp": d.End})
		}
	}

	for _, f := range query.Metadata {
		sb = sb.Where(s.metadataExists(f))
	}

	return sb
}

// textEquals compares exactly. MySQL's default collation is
// case-insensitive, so equality is forced to a binary comparison there.
func (s *SQLStore) textEquals(column, value string) sq.Sqlizer {
	if s.dialect == DialectMySQL {
		return sq.Expr("BINARY "+column+" = ?", value)
	}
	return sq.Eq{column: value}
}

// metadataExists builds an EXISTS subquery for one metadata filter.
func (s *SQLStore) metadataExists(f storage.EntityMetadataFilter) sq.Sqlizer {
	name := entity.SanitizeMetadataKey(f.Name)

	valueExpr := "m.value"
	if s.dialect == DialectMySQL && f.CaseSensitive {
		valueExpr = "BINARY m.value"
	}

	wrap := func(v string) any { return v }
	if !f.CaseSensitive {
		valueExpr = "LOWER(m.value)"
		wrap = func(v string) any { return strings.ToLower(v) }
	}

	prefix := "EXISTS (SELECT 1 FROM entity_metadata m WHERE m.entity_id = entities.id AND m.name = ? AND "
	switch f.Comparator {
	case storage.ComparatorNotEquals:
		return sq.Expr(prefix+valueExpr+" <> ?)", name, wrap(f.Value))
	case storage.ComparatorLess:
		return sq.Expr(prefix+valueExpr+" < ?)", name, wrap(f.Value))
	case storage.ComparatorLessOrEquals:
		return sq.Expr(prefix+valueExpr+" <= ?)", name, wrap(f.Value))
	case storage.ComparatorGreater:
		return sq.Expr(prefix+valueExpr+" > ?)", name, wrap(f.Value))
	case storage.ComparatorGreaterOrEquals:
		return sq.Expr(prefix+valueExpr+" >= ?)", name, wrap(f.Value))
	case storage.ComparatorBetween:
		return sq.Expr(prefix+valueExpr+" BETWEEN ? AND ?)", name, wrap(f.Value), wrap(f.ValueTo))
	default:
		return sq.Expr(prefix+valueExpr+" = ?)", name, wrap(f.Value))
	}
}

func (s *SQLStore) scanEntities(ctx context.Context, rows *sql.Rows) ([]*entity.StoredEntity, error) {
	var entities []*entity.StoredEntity
	var ids []string

	for rows.Next() {
		var stored entity.StoredEntity
		var uri, languageCode sql.NullString
		var visible int

		err := rows.Scan(
			&stored.ID, &stored.Text, &stored.Type, &stored.Confidence,
			&stored.Context, &stored.DocumentID, &uri, &languageCode,
			&stored.ACL, &visible, &stored.Timestamp, &stored.Indexed,
		)
		if err != nil {
			return nil, err
		}

		stored.URI = uri.String
		stored.LanguageCode = languageCode.String
		stored.Visible = visible != 0

		entities = append(entities, &stored)
		ids = append(ids, stored.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadMetadata(ctx, entities, ids); err != nil {
		return nil, err
	}

	return entities, nil
}

func (s *SQLStore) loadMetadata(ctx context.Context, entities []*entity.StoredEntity, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	byID := make(map[string]*entity.StoredEntity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	rows, err := s.stbl.
		Select("entity_id", "name", "value").
		From("entity_metadata").
		Where(sq.Eq{"entity_id": ids}).
		QueryContext(ctx)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var entityID, name, value string
		if err := rows.Scan(&entityID, &name, &value); err != nil {
			return err
		}
		e, ok := byID[entityID]
		if !ok {
			continue
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[name] = value
	}

	return rows.Err()
}

// GetNonIndexedEntities see storage.EntityStore.GetNonIndexedEntities.
func (s *SQLStore) GetNonIndexedEntities(ctx context.Context, limit int) ([]*entity.StoredEntity, error) {
	ctx, span := tracer.Start(ctx, "sql.GetNonIndexedEntities")
	defer span.End()

	if limit <= 0 {
		limit = storage.DefaultNonIndexedLimit
	}

	rows, err := s.selectEntities().
		Where(sq.Eq{"indexed": 0}).
		OrderBy("timestamp ASC", "id ASC").
		Limit(uint64(limit)).
		QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanEntities(ctx, rows)
}

// MarkEntitiesAsIndexed see storage.EntityStore.MarkEntitiesAsIndexed.
func (s *SQLStore) MarkEntitiesAsIndexed(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracer.Start(ctx, "sql.MarkEntitiesAsIndexed")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.stbl.
		Update("entities").
		Set("indexed", time.Now().UnixMilli()).
		Where(sq.Eq{"id": ids}).
		Where(sq.Eq{"indexed": 0}).
		ExecContext(ctx)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

// GetEntityCount see storage.EntityStore.GetEntityCount.
func (s *SQLStore) GetEntityCount(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "sql.GetEntityCount")
	defer span.End()

	var count int64
	err := s.stbl.
		Select("COUNT(*)").
		From("entities").
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// GetContexts see storage.EntityStore.GetContexts.
func (s *SQLStore) GetContexts(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "sql.GetContexts")
	defer span.End()

	rows, err := s.stbl.
		Select("DISTINCT context").
		From("entities").
		OrderBy("context ASC").
		QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contexts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		contexts = append(contexts, c)
	}

	return contexts, rows.Err()
}

// DeleteContext see storage.EntityStore.DeleteContext.
func (s *SQLStore) DeleteContext(ctx context.Context, entityContext string) error {
	ctx, span := tracer.Start(ctx, "sql.DeleteContext")
	defer span.End()

	return s.deleteWhere(ctx, "context", entityContext)
}

// DeleteDocument see storage.EntityStore.DeleteDocument.
func (s *SQLStore) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "sql.DeleteDocument")
	defer span.End()

	return s.deleteWhere(ctx, "document_id", documentID)
}

func (s *SQLStore) deleteWhere(ctx context.Context, column, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = s.stbl.
		Delete("entity_metadata").
		Where(sq.Expr("entity_id IN (SELECT id FROM entities WHERE "+column+" = ?)", value)).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return err
	}

	_, err = s.stbl.
		Delete("entities").
		Where(sq.Eq{column: value}).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func orderColumn(order string) string {
	switch order {
	case storage.OrderText:
		return "text"
	case storage.OrderType:
		return "type"
	case storage.OrderConfidence:
		return "confidence"
	case storage.OrderTimestamp:
		return "timestamp"
	default:
		return "id"
	}
}

func direction(o storage.SortOrder) string {
	if o == storage.SortDescending {
		return "DESC"
	}
	return "ASC"
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
