// Package postgres provides a PostgreSQL backed entity store.
package postgres

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.

	"github.com/mtnfog/entitydb/pkg/storage"
	"github.com/mtnfog/entitydb/pkg/storage/sqlcommon"
)

// Datastore provides a PostgreSQL based implementation of
// storage.EntityStore.
type Datastore struct {
	*sqlcommon.SQLStore
}

var _ storage.EntityStore = (*Datastore)(nil)

// New creates a new Datastore backed by the database at uri.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	db, err := initDB(uri, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	return NewWithDB(db, cfg)
}

// NewWithDB creates a new Datastore over an already opened handle.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Datastore, error) {
	store, err := sqlcommon.NewSQLStore(db, sqlcommon.DialectPostgres, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure postgres connection: %w", err)
	}

	return &Datastore{SQLStore: store}, nil
}

func initDB(uri string, cfg *sqlcommon.Config) (*sql.DB, error) {
	if cfg.Username != "" || cfg.Password != "" {
		parsed, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse postgres connection uri: %w", err)
		}

		username := cfg.Username
		if username == "" && parsed.User != nil {
			username = parsed.User.Username()
		}

		if cfg.Password != "" {
			parsed.User = url.UserPassword(username, cfg.Password)
		} else if parsed.User != nil {
			if password, ok := parsed.User.Password(); ok {
				parsed.User = url.UserPassword(username, password)
			} else {
				parsed.User = url.User(username)
			}
		} else {
			parsed.User = url.User(username)
		}

		uri = parsed.String()
	}

	return sql.Open("pgx", uri)
}
