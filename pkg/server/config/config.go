// Package config defines the server configuration and its defaults.
package config

import (
	"fmt"
	"time"
)

// DefaultMaxOpenConns is the default number of open database connections.
const DefaultMaxOpenConns = 30

// UserConfig declares one caller of the query service.
type UserConfig struct {
	// ID identifies the user inside ACL user lists.
	ID string `mapstructure:"id"`

	// Groups lists the user's group memberships for ACL group checks.
	Groups []string `mapstructure:"groups"`

	// APIKey authenticates the user.
	APIKey string `mapstructure:"apiKey"`
}

// DatastoreConfig selects and tunes the entity store backend.
type DatastoreConfig struct {
	// Engine is one of "memory", "postgres", "mysql" or "dynamodb".
	Engine string `mapstructure:"engine"`

	// URI is the backend connection string. For dynamodb it is the
	// table name.
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn-max-idle-time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`

	// Metrics enables the database connection pool collector.
	Metrics bool `mapstructure:"metrics"`
}

// IndexConfig selects the search index backend.
type IndexConfig struct {
	// Engine is one of "memory" or "elasticsearch".
	Engine string `mapstructure:"engine"`

	// Addresses are the elasticsearch node URLs.
	Addresses []string `mapstructure:"addresses"`

	// IndexName is the elasticsearch index holding entities.
	IndexName string `mapstructure:"index-name"`
}

// PipelineConfig tunes the consumer and indexer loops.
type PipelineConfig struct {
	// BaseInterval is the delay between productive cycles.
	BaseInterval time.Duration `mapstructure:"base-interval"`

	// MaxInterval caps the backoff between unproductive cycles.
	MaxInterval time.Duration `mapstructure:"max-interval"`

	// IndexBatchLimit bounds how many entities one indexing cycle moves.
	IndexBatchLimit int `mapstructure:"index-batch-limit"`

	// QueueCapacity bounds the in-memory queue.
	QueueCapacity int `mapstructure:"queue-capacity"`
}

// Config is the complete server configuration.
type Config struct {
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Index     IndexConfig     `mapstructure:"index"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`

	// Users are the callers known to the query service.
	Users []UserConfig `mapstructure:"users"`

	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log-format"`

	// LogLevel is one of the zap levels, e.g. "info" or "debug".
	LogLevel string `mapstructure:"log-level"`

	// MetricsAddr is the listen address of the prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `mapstructure:"metrics-addr"`

	// AuditEnabled turns the audit sink on.
	AuditEnabled bool `mapstructure:"audit-enabled"`
}

// DefaultConfig returns the config used when no flags or files override it.
func DefaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxOpenConns: DefaultMaxOpenConns,
		},
		Index: IndexConfig{
			Engine:    "memory",
			IndexName: "entities",
		},
		Pipeline: PipelineConfig{
			BaseInterval:    2 * time.Second,
			MaxInterval:     180 * time.Second,
			IndexBatchLimit: 100,
			QueueCapacity:   10000,
		},
		LogFormat:    "text",
		LogLevel:     "info",
		MetricsAddr:  "0.0.0.0:2112",
		AuditEnabled: true,
	}
}

// Verify checks the configuration for contradictions before startup.
func (cfg *Config) Verify() error {
	switch cfg.Datastore.Engine {
	case "memory", "postgres", "mysql", "dynamodb":
	default:
		return fmt.Errorf("unknown datastore engine %q", cfg.Datastore.Engine)
	}
	if cfg.Datastore.Engine != "memory" && cfg.Datastore.URI == "" {
		return fmt.Errorf("datastore engine %q requires a uri", cfg.Datastore.Engine)
	}

	switch cfg.Index.Engine {
	case "memory", "elasticsearch":
	default:
		return fmt.Errorf("unknown index engine %q", cfg.Index.Engine)
	}
	if cfg.Index.Engine == "elasticsearch" && len(cfg.Index.Addresses) == 0 {
		return fmt.Errorf("index engine elasticsearch requires addresses")
	}

	if cfg.Pipeline.BaseInterval <= 0 {
		return fmt.Errorf("pipeline base-interval must be positive")
	}
	if cfg.Pipeline.MaxInterval < cfg.Pipeline.BaseInterval {
		return fmt.Errorf("pipeline max-interval must be at least the base-interval")
	}

	seen := make(map[string]struct{}, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.ID == "" || u.APIKey == "" {
			return fmt.Errorf("every user needs an id and an apiKey")
		}
		if _, ok := seen[u.APIKey]; ok {
			return fmt.Errorf("duplicate apiKey for user %q", u.ID)
		}
		seen[u.APIKey] = struct{}{}
	}

	return nil
}
