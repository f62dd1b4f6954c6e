/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, environment, flags)
  2. Build the root logger
  3. Open the store (memory, sqlite or postgres)
  4. Load the allocation policy file
  5. Assemble audit sinks and the casbin authorizer
  6. Create the leave service, handler and router
  7. Start server with graceful shutdown

FLAGS (override environment, see config/config.go):
  -addr -store -db -database-url -policy -log-format

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (ShutdownTimeout)
  3. Close the audit writer and the store
  4. Exit

EXAMPLES:
  LEAVE_JWT_SECRET=dev ./server -store=memory
  LEAVE_JWT_SECRET=dev ./server -db=./data/leave.db -log-format=console
  LEAVE_JWT_SECRET=dev LEAVE_AUDIT_SINK=store,kafka LEAVE_KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/audit"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	memstore "github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

// backend is what every store implementation provides.
type backend interface {
	generic.TxStore
	generic.EmployeeStore
	generic.AuditLog
	generic.AuditReader
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	store, ping, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer closeStore()
	logger.Info("store ready", zap.String("store", cfg.Store))

	policy, err := factory.NewPolicyFactory().ParsePolicyFile(cfg.PolicyFile)
	if err != nil {
		return err
	}

	sinks, closeSinks := auditSinks(cfg, store, logger)
	defer closeSinks()

	authorizer, err := authz.New(authz.DefaultRules())
	if err != nil {
		return err
	}

	svc, err := timeoff.NewLeaveService(store, policy,
		timeoff.WithAuthorizer(authorizer),
		timeoff.WithAuditLog(sinks),
		timeoff.WithDirectory(store),
		timeoff.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	handler := api.NewHandler(svc, store, logger)
	handler.Ping = ping
	if cfg.HasSink(config.SinkStore) {
		handler.Audit = store
	}
	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (backend, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memstore.NewTxMemory(), nil, func() {}, nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, func() { s.Close() }, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, func() { s.Close() }, nil
	}
}

func auditSinks(cfg config.Config, store generic.AuditLog, logger *zap.Logger) (generic.AuditLog, func()) {
	var (
		sinks   audit.Multi
		closers []io.Closer
	)
	if cfg.HasSink(config.SinkStore) {
		sinks = append(sinks, store)
	}
	if cfg.HasSink(config.SinkLog) {
		sinks = append(sinks, audit.NewLog(logger))
	}
	if cfg.HasSink(config.SinkKafka) {
		w := audit.NewKafkaWriter(cfg.KafkaBrokers)
		closers = append(closers, w)
		sinks = append(sinks, audit.NewKafka(w, cfg.KafkaTopic))
		logger.Info("kafka audit sink enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}
	return sinks, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close audit sink", zap.Error(err))
			}
		}
	}
}
