package run

import (
	"github.com/spf13/cobra"

	"github.com/mtnfog/entitydb/cmd/util"
	"github.com/mtnfog/entitydb/pkg/server/config"
)

const (
	datastoreEngineFlag          = "datastore-engine"
	datastoreURIFlag             = "datastore-uri"
	datastoreUsernameFlag        = "datastore-username"
	datastorePasswordFlag        = "datastore-password"
	datastoreMaxOpenConnsFlag    = "datastore-max-open-conns"
	datastoreMaxIdleConnsFlag    = "datastore-max-idle-conns"
	datastoreConnMaxIdleTimeFlag = "datastore-conn-max-idle-time"
	datastoreConnMaxLifetimeFlag = "datastore-conn-max-lifetime"
	datastoreMetricsFlag         = "datastore-metrics"

	indexEngineFlag    = "index-engine"
	indexAddressesFlag = "index-addresses"
	indexNameFlag      = "index-name"

	pipelineBaseIntervalFlag    = "pipeline-base-interval"
	pipelineMaxIntervalFlag     = "pipeline-max-interval"
	pipelineIndexBatchLimitFlag = "pipeline-index-batch-limit"
	pipelineQueueCapacityFlag   = "pipeline-queue-capacity"

	logFormatFlag    = "log-format"
	logLevelFlag     = "log-level"
	metricsAddrFlag  = "metrics-addr"
	auditEnabledFlag = "audit-enabled"
)

func bindRunFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()

	flags := cmd.Flags()

	flags.String(datastoreEngineFlag, defaults.Datastore.Engine, "the datastore engine that will be used for persistence ('memory', 'postgres', 'mysql', 'dynamodb')")
	util.MustBindPFlag("datastore.engine", flags.Lookup(datastoreEngineFlag))
	util.MustBindEnv("datastore.engine", "ENTITYDB_DATASTORE_ENGINE")

	flags.String(datastoreURIFlag, defaults.Datastore.URI, "the connection uri to use to connect to the datastore (for dynamodb, the table name)")
	util.MustBindPFlag("datastore.uri", flags.Lookup(datastoreURIFlag))
	util.MustBindEnv("datastore.uri", "ENTITYDB_DATASTORE_URI")

	flags.String(datastoreUsernameFlag, "", "the connection username to connect to the datastore (overwrites any username provided in the connection uri)")
	util.MustBindPFlag("datastore.username", flags.Lookup(datastoreUsernameFlag))
	util.MustBindEnv("datastore.username", "ENTITYDB_DATASTORE_USERNAME")

	flags.String(datastorePasswordFlag, "", "the connection password to connect to the datastore (overwrites any password provided in the connection uri)")
	util.MustBindPFlag("datastore.password", flags.Lookup(datastorePasswordFlag))
	util.MustBindEnv("datastore.password", "ENTITYDB_DATASTORE_PASSWORD")

	flags.Int(datastoreMaxOpenConnsFlag, defaults.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	util.MustBindPFlag("datastore.max-open-conns", flags.Lookup(datastoreMaxOpenConnsFlag))
	util.MustBindEnv("datastore.max-open-conns", "ENTITYDB_DATASTORE_MAX_OPEN_CONNS")

	flags.Int(datastoreMaxIdleConnsFlag, defaults.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	util.MustBindPFlag("datastore.max-idle-conns", flags.Lookup(datastoreMaxIdleConnsFlag))
	util.MustBindEnv("datastore.max-idle-conns", "ENTITYDB_DATASTORE_MAX_IDLE_CONNS")

	flags.Duration(datastoreConnMaxIdleTimeFlag, defaults.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")
	util.MustBindPFlag("datastore.conn-max-idle-time", flags.Lookup(datastoreConnMaxIdleTimeFlag))
	util.MustBindEnv("datastore.conn-max-idle-time", "ENTITYDB_DATASTORE_CONN_MAX_IDLE_TIME")

	flags.Duration(datastoreConnMaxLifetimeFlag, defaults.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")
	util.MustBindPFlag("datastore.conn-max-lifetime", flags.Lookup(datastoreConnMaxLifetimeFlag))
	util.MustBindEnv("datastore.conn-max-lifetime", "ENTITYDB_DATASTORE_CONN_MAX_LIFETIME")

	flags.Bool(datastoreMetricsFlag, defaults.Datastore.Metrics, "enable datastore connection pool metrics")
	util.MustBindPFlag("datastore.metrics", flags.Lookup(datastoreMetricsFlag))
	util.MustBindEnv("datastore.metrics", "ENTITYDB_DATASTORE_METRICS")

	flags.String(indexEngineFlag, defaults.Index.Engine, "the search index engine ('memory', 'elasticsearch')")
	util.MustBindPFlag("index.engine", flags.Lookup(indexEngineFlag))
	util.MustBindEnv("index.engine", "ENTITYDB_INDEX_ENGINE")

	flags.StringSlice(indexAddressesFlag, defaults.Index.Addresses, "the elasticsearch node addresses")
	util.MustBindPFlag("index.addresses", flags.Lookup(indexAddressesFlag))
	util.MustBindEnv("index.addresses", "ENTITYDB_INDEX_ADDRESSES")

	flags.String(indexNameFlag, defaults.Index.IndexName, "the name of the search index holding entities")
	util.MustBindPFlag("index.index-name", flags.Lookup(indexNameFlag))
	util.MustBindEnv("index.index-name", "ENTITYDB_INDEX_NAME")

	flags.Duration(pipelineBaseIntervalFlag, defaults.Pipeline.BaseInterval, "the delay between consumer and indexer cycles that did work")
	util.MustBindPFlag("pipeline.base-interval", flags.Lookup(pipelineBaseIntervalFlag))
	util.MustBindEnv("pipeline.base-interval", "ENTITYDB_PIPELINE_BASE_INTERVAL")

	flags.Duration(pipelineMaxIntervalFlag, defaults.Pipeline.MaxInterval, "the maximum backoff between idle consumer and indexer cycles")
	util.MustBindPFlag("pipeline.max-interval", flags.Lookup(pipelineMaxIntervalFlag))
	util.MustBindEnv("pipeline.max-interval", "ENTITYDB_PIPELINE_MAX_INTERVAL")

	flags.Int(pipelineIndexBatchLimitFlag, defaults.Pipeline.IndexBatchLimit, "the maximum number of entities moved into the search index per cycle")
	util.MustBindPFlag("pipeline.index-batch-limit", flags.Lookup(pipelineIndexBatchLimitFlag))
	util.MustBindEnv("pipeline.index-batch-limit", "ENTITYDB_PIPELINE_INDEX_BATCH_LIMIT")

	flags.Int(pipelineQueueCapacityFlag, defaults.Pipeline.QueueCapacity, "the capacity of the in-memory ingest queue")
	util.MustBindPFlag("pipeline.queue-capacity", flags.Lookup(pipelineQueueCapacityFlag))
	util.MustBindEnv("pipeline.queue-capacity", "ENTITYDB_PIPELINE_QUEUE_CAPACITY")

	flags.String(logFormatFlag, defaults.LogFormat, "the log format to output logs in ('text', 'json')")
	util.MustBindPFlag("log-format", flags.Lookup(logFormatFlag))
	util.MustBindEnv("log-format", "ENTITYDB_LOG_FORMAT")

	flags.String(logLevelFlag, defaults.LogLevel, "the log level ('debug', 'info', 'warn', 'error')")
	util.MustBindPFlag("log-level", flags.Lookup(logLevelFlag))
	util.MustBindEnv("log-level", "ENTITYDB_LOG_LEVEL")

	flags.String(metricsAddrFlag, defaults.MetricsAddr, "the listen address of the prometheus metrics endpoint (empty disables it)")
	util.MustBindPFlag("metrics-addr", flags.Lookup(metricsAddrFlag))
	util.MustBindEnv("metrics-addr", "ENTITYDB_METRICS_ADDR")

	flags.Bool(auditEnabledFlag, defaults.AuditEnabled, "write audit events for stores, skips, queries and search results")
	util.MustBindPFlag("audit-enabled", flags.Lookup(auditEnabledFlag))
	util.MustBindEnv("audit-enabled", "ENTITYDB_AUDIT_ENABLED")

	// Users have structure (id, groups, apiKey) so they only come from the
	// config file, not from flags.
}
