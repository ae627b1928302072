// Package mysql provides a MySQL backed entity store.
package mysql

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/mtnfog/entitydb/pkg/storage"
	"github.com/mtnfog/entitydb/pkg/storage/sqlcommon"
)

// Datastore provides a MySQL based implementation of storage.EntityStore.
type Datastore struct {
	*sqlcommon.SQLStore
}

var _ storage.EntityStore = (*Datastore)(nil)

// New creates a new Datastore backed by the database at uri.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	dsnCfg, err := mysql.ParseDSN(uri)
	if err != nil {
		return nil, fmt.Errorf("parse mysql connection dsn: %w", err)
	}

	if cfg.Username != "" {
		dsnCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		dsnCfg.Passwd = cfg.Password
	}
	dsnCfg.ParseTime = true

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("initialize mysql connection: %w", err)
	}

	return NewWithDB(db, cfg)
}

// NewWithDB creates a new Datastore over an already opened handle.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Datastore, error) {
	store, err := sqlcommon.NewSQLStore(db, sqlcommon.DialectMySQL, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure mysql connection: %w", err)
	}

	return &Datastore{SQLStore: store}, nil
}
