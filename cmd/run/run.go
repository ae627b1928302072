// Package run contains the command to run an EntityDB server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mtnfog/entitydb/internal/consumer"
	"github.com/mtnfog/entitydb/internal/indexer"
	"github.com/mtnfog/entitydb/internal/scheduler"
	"github.com/mtnfog/entitydb/pkg/audit"
	"github.com/mtnfog/entitydb/pkg/authn"
	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/index"
	"github.com/mtnfog/entitydb/pkg/index/elasticsearch"
	indexmemory "github.com/mtnfog/entitydb/pkg/index/memory"
	"github.com/mtnfog/entitydb/pkg/logger"
	queuememory "github.com/mtnfog/entitydb/pkg/queue/memory"
	"github.com/mtnfog/entitydb/pkg/server"
	serverconfig "github.com/mtnfog/entitydb/pkg/server/config"
	"github.com/mtnfog/entitydb/pkg/storage"
	"github.com/mtnfog/entitydb/pkg/storage/dynamodb"
	storagememory "github.com/mtnfog/entitydb/pkg/storage/memory"
	"github.com/mtnfog/entitydb/pkg/storage/mysql"
	"github.com/mtnfog/entitydb/pkg/storage/postgres"
	"github.com/mtnfog/entitydb/pkg/storage/sqlcommon"
	"github.com/mtnfog/entitydb/pkg/telemetry"
)

// NewRunCommand returns the command to run the EntityDB server.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the EntityDB server",
		Long:  "Run the EntityDB server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	bindRunFlags(cmd)

	return cmd
}

// ReadConfig returns the EntityDB server configuration based on the values
// provided in the server's 'config.yaml' file. The 'config.yaml' file is
// loaded from '/etc/entitydb', '$HOME/.entitydb', or the current working
// directory. If no configuration file is present, the default values are
// returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	log := logger.MustNewLogger(config.LogFormat, config.LogLevel)

	ctx := context.Background()
	serverCtx := &ServerContext{Logger: log}
	if err := serverCtx.Run(ctx, config); err != nil {
		panic(err)
	}
}

// ServerContext holds the dependencies shared by the running server.
type ServerContext struct {
	Logger logger.Logger

	// Service is the query service, populated once Run has wired the
	// pipeline. Embedding callers use it to issue EQL queries and
	// ingest entities.
	Service *server.QueryService
}

func (s *ServerContext) datastoreConfig(config *serverconfig.Config) (storage.EntityStore, error) {
	opts := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Datastore.Username),
		sqlcommon.WithPassword(config.Datastore.Password),
		sqlcommon.WithLogger(s.Logger),
		sqlcommon.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Datastore.ConnMaxLifetime),
	}
	if config.Datastore.Metrics {
		opts = append(opts, sqlcommon.WithMetrics())
	}
	dsCfg := sqlcommon.NewConfig(opts...)

	switch config.Datastore.Engine {
	case "memory":
		return storagememory.New(), nil
	case "postgres":
		return postgres.New(config.Datastore.URI, dsCfg)
	case "mysql":
		return mysql.New(config.Datastore.URI, dsCfg)
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awsdynamodb.NewFromConfig(awsCfg)
		return dynamodb.New(client, config.Datastore.URI, "pending-ts"), nil
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}
}

func (s *ServerContext) indexConfig(config *serverconfig.Config) (index.SearchIndex, error) {
	switch config.Index.Engine {
	case "memory":
		return indexmemory.New(), nil
	case "elasticsearch":
		return elasticsearch.New(config.Index.Addresses, config.Index.IndexName, s.Logger)
	default:
		return nil, fmt.Errorf("index engine '%s' is unsupported", config.Index.Engine)
	}
}

// Run starts the ingest pipeline and the query service and blocks until the
// process receives a termination signal.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, os.Kill, syscall.SIGTERM)
	defer stop()

	store, err := s.datastoreConfig(config)
	if err != nil {
		return err
	}

	idx, err := s.indexConfig(config)
	if err != nil {
		return err
	}

	ingestQueue := queuememory.New(config.Pipeline.QueueCapacity)

	var sink audit.Sink = audit.NoopSink{}
	if config.AuditEnabled {
		sink = audit.NewLogSink(s.Logger)
	}

	users := make([]entity.User, 0, len(config.Users))
	for _, u := range config.Users {
		users = append(users, entity.User{ID: u.ID, Groups: u.Groups, APIKey: u.APIKey})
	}
	var directory authn.UserDirectory = authn.DenyAllDirectory{}
	if len(users) > 0 {
		directory, err = authn.NewStaticUserDirectory(users)
		if err != nil {
			return err
		}
	} else {
		s.Logger.Warn("no users configured, every query will be rejected")
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	cache := indexer.NewCache()
	cons := consumer.New(ingestQueue, store, cache, sink, s.Logger, metrics)
	idxr := indexer.New(store, idx, cache, s.Logger, metrics)

	s.Service = server.NewQueryService(directory, idx, ingestQueue, sink, s.Logger, metrics)

	var metricsServer *http.Server
	if config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: config.MetricsAddr, Handler: mux}

		go func() {
			s.Logger.Info(fmt.Sprintf("starting prometheus metrics server on '%s'", config.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					s.Logger.Fatal("failed to start prometheus metrics server", zap.Error(err))
				}
			}
			s.Logger.Info("metrics server shut down.")
		}()
	}

	// The consumer polls the queue at a fixed interval; only the indexer
	// backs off when its cycles are idle.
	consumerInterval := scheduler.NewBackoff(config.Pipeline.BaseInterval, config.Pipeline.BaseInterval)
	indexerBackoff := scheduler.NewBackoff(config.Pipeline.BaseInterval, config.Pipeline.MaxInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.New("consumer", cons.Task(), consumerInterval, nil, s.Logger).Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.New("indexer", idxr.Task(config.Pipeline.IndexBatchLimit), indexerBackoff, nil, s.Logger).Run(gctx)
		return nil
	})

	s.Logger.Info("entitydb server running",
		zap.String("datastore", config.Datastore.Engine),
		zap.String("index", config.Index.Engine),
	)

	<-ctx.Done()
	s.Logger.Info("attempting to shutdown gracefully...")

	if err := g.Wait(); err != nil {
		s.Logger.Error("pipeline shutdown error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
		}
	}

	// Release order matters: stop accepting work first, then the index,
	// then the audit sink. A failed release is logged and the next one
	// still runs.
	ingestQueue.Close()
	idx.Close()
	sink.Close()

	store.Close()

	s.Logger.Info("server exited. goodbye")

	return nil
}
