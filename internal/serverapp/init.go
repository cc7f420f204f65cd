package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"soqlrestore/internal/config"
	"soqlrestore/internal/describe"
	"soqlrestore/internal/restore"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if metrics.meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return metrics.meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	var (
		transport  describe.Transport
		db         *sql.DB
		dbStatsReg interface{ Unregister() error }
	)
	switch a.cfg.Describe.Source {
	case config.SourceREST:
		transport, err = buildRESTTransport(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize REST describe source: %w", err)
		}
	case config.SourceFile:
		transport, err = buildFileTransport(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to load describe fixture: %w", err)
		}
	case config.SourceSQL:
		database, err := a.cfg.Describe.SQL.DatabaseName()
		if err != nil {
			return err
		}
		a.logger.Info("connecting to database",
			slog.String("host", a.cfg.Describe.SQL.Host),
			slog.Int("port", a.cfg.Describe.SQL.Port),
			slog.String("database", database),
		)

		db, dbStatsReg, err = connectDB(a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			if dbStatsReg != nil {
				if err := dbStatsReg.Unregister(); err != nil {
					a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
				}
			}
			return db.Close()
		})

		if err := configureDatabase(ctx, a.cfg, a.logger, db, database); err != nil {
			return fmt.Errorf("failed to verify database connection: %w", err)
		}
		transport = describe.NewSQLTransport(db, database)
	}

	store, closeStore, err := buildStore(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize describe store: %w", err)
	}
	if closeStore != nil {
		cleanup.push("describe store", closeStore)
	}
	var storeTransport *describe.StoreTransport
	if store != nil {
		storeTransport = describe.NewStoreTransport(transport, store,
			describe.WithStorePrefix(a.cfg.Cache.Prefix),
			describe.WithStoreTTL(a.cfg.Cache.TTL),
			describe.WithStoreLogger(a.logger),
			describe.WithStoreMetrics(metrics.describeMetrics),
		)
		transport = storeTransport
	}

	restorer := restore.NewRestorer(transport,
		restore.WithLogger(a.logger),
		restore.WithMetrics(metrics.restoreMetrics, metrics.describeMetrics),
	)

	router, err := buildRouter(a.cfg, a.logger, restorer, transport, storeTransport, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}
	handler := wrapHTTPHandler(a.cfg, a.logger, router)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = metrics.meterProvider
	a.restoreMetrics = metrics.restoreMetrics
	a.describeMetrics = metrics.describeMetrics
	a.adminMetrics = metrics.adminMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.transport = transport
	a.storeTransport = storeTransport
	a.restorer = restorer
	a.router = router
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
