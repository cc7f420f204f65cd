package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"soqlrestore/internal/config"
	"soqlrestore/internal/describe"
	"soqlrestore/internal/logging"
	"soqlrestore/internal/observability"
	"soqlrestore/internal/restore"
)

// App owns runtime resources for the restore server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider   *observability.MeterProvider
	restoreMetrics  *observability.RestoreMetrics
	describeMetrics *observability.DescribeMetrics
	adminMetrics    *observability.AdminMetrics
	tracerProvider  *observability.TracerProvider

	// db is set for the sql describe source only.
	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	transport      describe.Transport
	storeTransport *describe.StoreTransport
	restorer       *restore.Restorer

	router  http.Handler
	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	switch cfg.Describe.Source {
	case config.SourceREST, config.SourceSQL, config.SourceFile:
	default:
		return nil, fmt.Errorf("unknown describe source %q", cfg.Describe.Source)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}

// Restorer returns the restorer built by Init.
func (a *App) Restorer() *restore.Restorer {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.restorer
}

// Refresh drops stored describes, all of them when no names are given. It is
// a no-op when the describe store is disabled.
func (a *App) Refresh(ctx context.Context, names ...string) error {
	a.stateMu.Lock()
	store := a.storeTransport
	a.stateMu.Unlock()
	if store == nil {
		return nil
	}
	if len(names) == 0 {
		return store.InvalidateAll(ctx)
	}
	return store.Invalidate(ctx, names...)
}
