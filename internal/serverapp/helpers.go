package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"soqlrestore/internal/config"
	"soqlrestore/internal/describe"
	"soqlrestore/internal/logging"
	"soqlrestore/internal/middleware"
	"soqlrestore/internal/observability"
	"soqlrestore/internal/restore"
	"soqlrestore/internal/restoreapi"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider it mirrors records to.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          logsConfig.Endpoint,
			Protocol:          logsConfig.Protocol,
			Insecure:          logsConfig.Insecure,
			TLSCertFile:       logsConfig.TLSCertFile,
			TLSClientCertFile: logsConfig.TLSClientCertFile,
			TLSClientKeyFile:  logsConfig.TLSClientKeyFile,
			Headers:           logsConfig.Headers,
			Timeout:           logsConfig.Timeout,
			Compression:       logsConfig.Compression,
			RetryEnabled:      logsConfig.RetryEnabled,
			RetryMaxAttempts:  logsConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

type metricsSet struct {
	meterProvider   *observability.MeterProvider
	restoreMetrics  *observability.RestoreMetrics
	describeMetrics *observability.DescribeMetrics
	adminMetrics    *observability.AdminMetrics
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (metricsSet, error) {
	if !cfg.Observability.MetricsEnabled {
		return metricsSet{}, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     observability.OTLPExporterConfig{},
	})
	if err != nil {
		return metricsSet{}, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")

	restoreMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return metricsSet{}, err
	}

	describeMetrics, err := observability.InitDescribeMetrics(logger.Logger)
	if err != nil {
		return metricsSet{}, err
	}

	adminMetrics, err := observability.InitAdminMetrics()
	if err != nil {
		return metricsSet{}, err
	}

	return metricsSet{
		meterProvider:   meterProvider,
		restoreMetrics:  restoreMetrics,
		describeMetrics: describeMetrics,
		adminMetrics:    adminMetrics,
	}, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          tracesConfig.Endpoint,
			Protocol:          tracesConfig.Protocol,
			Insecure:          tracesConfig.Insecure,
			TLSCertFile:       tracesConfig.TLSCertFile,
			TLSClientCertFile: tracesConfig.TLSClientCertFile,
			TLSClientKeyFile:  tracesConfig.TLSClientKeyFile,
			Headers:           tracesConfig.Headers,
			Timeout:           tracesConfig.Timeout,
			Compression:       tracesConfig.Compression,
			RetryEnabled:      tracesConfig.RetryEnabled,
			RetryMaxAttempts:  tracesConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

func buildRESTTransport(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*describe.RESTTransport, error) {
	rest := cfg.Describe.REST
	auth := "access_token"
	if rest.ClientID != "" {
		auth = "client_credentials"
	}
	logger.Info("using REST describe source",
		slog.String("instance_url", rest.InstanceURL),
		slog.String("api_version", rest.APIVersion),
		slog.String("auth", auth),
	)
	return describe.NewRESTTransport(ctx, describe.RESTConfig{
		InstanceURL:  rest.InstanceURL,
		APIVersion:   rest.APIVersion,
		AccessToken:  rest.AccessToken,
		ClientID:     rest.ClientID,
		ClientSecret: rest.ClientSecret,
		TokenURL:     rest.TokenURL,
		Timeout:      rest.Timeout,
	})
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	var db *sql.DB
	var dbStatsReg interface{ Unregister() error }

	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if err := cfg.Describe.SQL.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn := cfg.Describe.SQL.DSN()

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		opts := []otelsql.Option{
			otelsql.WithAttributes(semconv.DBSystemMySQL),
		}

		if cfg.Observability.TracingEnabled {
			opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}

		var err error
		db, err = otelsql.Open("mysql", dsn, opts...)
		if err != nil {
			return nil, nil, err
		}

		if cfg.Observability.MetricsEnabled {
			dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}

		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", cfg.Observability.MetricsEnabled),
			slog.Bool("tracing", cfg.Observability.TracingEnabled),
		)
		return db, dbStatsReg, nil
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	return db, nil, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, database string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool := cfg.Describe.SQL.Pool
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database", database),
		slog.Bool("dsn_present", strings.TrimSpace(cfg.Describe.SQL.ConnectionString) != ""),
		slog.Int("pool_max_open", pool.MaxOpen),
		slog.Int("pool_max_idle", pool.MaxIdle),
		slog.Duration("pool_max_lifetime", pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Describe.SQL.ConnectionTimeout
	interval := cfg.Describe.SQL.ConnectionRetryInterval

	// If timeout is 0, try once and fail immediately
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)

		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func buildFileTransport(cfg *config.Config, logger *logging.Logger) (*describe.FileTransport, error) {
	transport, err := describe.LoadFileTransport(cfg.Describe.File.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("using file describe source", slog.String("path", cfg.Describe.File.Path))
	return transport, nil
}

// buildStore returns nil when the process-wide describe store is disabled.
func buildStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (describe.Store, func(context.Context) error, error) {
	switch cfg.Cache.Store {
	case config.StoreMemory:
		logger.Info("describe store enabled", slog.String("store", "memory"), slog.Duration("ttl", cfg.Cache.TTL))
		return describe.NewMemoryStore(), nil, nil
	case config.StoreRedis:
		store, err := describe.NewRedisStore(ctx, describe.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("describe store enabled",
			slog.String("store", "redis"),
			slog.String("addr", cfg.Cache.Redis.Addr),
			slog.Int("db", cfg.Cache.Redis.DB),
			slog.Duration("ttl", cfg.Cache.TTL),
		)
		return store, func(context.Context) error { return store.Close() }, nil
	default:
		logger.Info("describe store disabled; every restore describes from the source")
		return nil, nil, nil
	}
}

func oidcAuthConfig(cfg *config.Config) middleware.OIDCAuthConfig {
	return middleware.OIDCAuthConfig{
		Enabled:   cfg.Server.Auth.OIDCEnabled,
		IssuerURL: cfg.Server.Auth.OIDCIssuerURL,
		Audience:  cfg.Server.Auth.OIDCAudience,
		ClockSkew: cfg.Server.Auth.OIDCClockSkew,
		CAFile:    cfg.Server.Auth.OIDCCAFile,
	}
}

// buildAdminAuth prefers OIDC over the shared admin token.
func buildAdminAuth(cfg *config.Config, logger *logging.Logger, adminMetrics    *observability.AdminMetrics) (func(http.Handler) http.Handler, error) {
	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, adminMetrics)
		if err != nil {
			return nil, err
		}
		logger.Info("admin endpoints require OIDC authentication")
		return authMiddleware, nil
	}
	if strings.TrimSpace(cfg.Server.Admin.AuthToken) != "" {
		authMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
			Token:   cfg.Server.Admin.AuthToken,
			Metrics: adminMetrics,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("admin endpoints require the admin token", slog.String("header", middleware.AdminTokenHeader))
		return authMiddleware, nil
	}
	logger.Warn("admin endpoints are not authenticated - configure an admin token or OIDC")
	return nil, nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, restorer *restore.Restorer, transport describe.Transport, storeTransport *describe.StoreTransport, metrics metricsSet) (http.Handler, error) {
	routerCfg := restoreapi.Config{
		Restorer:           restorer,
		Transport:          transport,
		AdminMetrics:       metrics.adminMetrics,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		HealthCheckTimeout: cfg.Server.HealthCheckTimeout,
	}

	if cfg.Server.Admin.RefreshEnabled {
		if storeTransport == nil {
			logger.Warn("describe refresh endpoint disabled because cache.store is none")
		} else {
			adminAuth, err := buildAdminAuth(cfg, logger, metrics.adminMetrics)
			if err != nil {
				return nil, err
			}
			routerCfg.Invalidator = storeTransport
			routerCfg.AdminAuth = adminAuth
			logger.Info("describe refresh endpoint enabled", slog.String("path", restoreapi.RefreshPath))
		}
	}

	if cfg.Observability.MetricsEnabled && metrics.meterProvider != nil {
		routerCfg.Metrics = promhttp.Handler()
		logger.Info("metrics endpoint enabled", slog.String("path", restoreapi.MetricsPath))
	}

	return restoreapi.NewRouter(routerCfg), nil
}

// wrapHTTPHandler applies the outer middleware. The resulting order is
// rate limit -> CORS -> otelhttp -> logging -> recovery -> router.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.RecoveryMiddleware()(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:     cfg.Server.RateLimitEnabled,
			RPS:         cfg.Server.RateLimitRPS,
			Burst:       cfg.Server.RateLimitBurst,
			ExemptPaths: []string{restoreapi.HealthPath, restoreapi.MetricsPath},
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case restoreapi.RestorePath, restoreapi.RefreshPath, restoreapi.HealthPath, restoreapi.MetricsPath:
		return rawPath
	default:
		return "/*"
	}
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode == "file"
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if tlsEnabled(cfg) {
		tlsConfig, err := serverTLSConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile, logger)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tlsConfig
		logger.Info("TLS enabled",
			slog.String("mode", cfg.Server.TLSMode),
			slog.String("cert_file", cfg.Server.TLSCertFile),
		)
	}
	return srv, nil
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	useTLS := tlsEnabled(cfg)
	go func() {
		protocol := "http"
		if useTLS {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("restore_endpoint", restoreapi.RestorePath),
			slog.String("health_endpoint", restoreapi.HealthPath),
			slog.String("describe_source", cfg.Describe.Source),
			slog.String("describe_store", cfg.Cache.Store),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}

		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", restoreapi.MetricsPath))
		}

		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}

		logAttrs = append(logAttrs, slog.Bool("tls_enabled", useTLS))

		logger.Info("server starting", logAttrs...)

		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}
