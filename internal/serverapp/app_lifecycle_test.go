package serverapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"soqlrestore/internal/config"
	"soqlrestore/internal/describe"
	"soqlrestore/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "info", Format: "text"})
}

func TestWaitForStop_SignalWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	stop <- syscall.SIGTERM

	reason, err := app.WaitForStop(stop, serverErrors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != StopSignal {
		t.Fatalf("expected reason=%s, got %q", StopSignal, reason)
	}
}

func TestWaitForStop_ServerErrorWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")

	reason, err := app.WaitForStop(stop, serverErrors)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if reason != StopServerError {
		t.Fatalf("expected reason=%s, got %q", StopServerError, reason)
	}
}

func TestWaitForStop_NoChannels(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.WaitForStop(nil, nil); err == nil {
		t.Fatalf("expected error when there is nothing to wait on")
	}
}

func TestWaitForStop_HangupFlushesDescribeStore(t *testing.T) {
	ctx := context.Background()
	transport, _ := routerFixture(t)
	mem := describe.NewMemoryStore()
	store := describe.NewStoreTransport(transport, mem, describe.WithStorePrefix("t:"))
	if _, err := store.DescribeObject(ctx, "Account"); err != nil {
		t.Fatalf("warm store: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, "t:object:account"); !ok {
		t.Fatalf("expected Account describe to be stored")
	}

	app := &App{logger: testLogger(), storeTransport: store}
	signals := make(chan os.Signal, 2)
	signals <- syscall.SIGHUP
	signals <- syscall.SIGTERM

	reason, err := app.WaitForStop(signals, make(chan error))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != StopSignal {
		t.Fatalf("expected SIGHUP to keep waiting until SIGTERM, got %q", reason)
	}
	if _, ok, _ := mem.Get(ctx, "t:object:account"); ok {
		t.Fatalf("expected SIGHUP to flush the describe store")
	}
}

func TestWaitForStop_HangupWithoutStoreKeepsWaiting(t *testing.T) {
	app := &App{logger: testLogger()}
	signals := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)
	signals <- syscall.SIGHUP
	serverErrors <- errors.New("listener closed")

	reason, err := app.WaitForStop(signals, serverErrors)
	if err == nil || reason != StopServerError {
		t.Fatalf("expected server error after SIGHUP, got %q, %v", reason, err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown failed: %v", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected cleanup to run once, ran %d times", got)
	}
}

func TestShutdown_ReleasesEverythingAndJoinsFailures(t *testing.T) {
	app := &App{logger: testLogger()}
	var order []string
	storeErr := errors.New("redis gone")
	app.cleanup.push("meter provider", func(context.Context) error {
		order = append(order, "meter provider")
		return nil
	})
	app.cleanup.push("describe store", func(context.Context) error {
		order = append(order, "describe store")
		return storeErr
	})
	app.cleanup.push("HTTP server", func(context.Context) error {
		order = append(order, "HTTP server")
		return nil
	})

	err := app.Shutdown(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "describe store: redis gone") {
		t.Fatalf("expected failure to name the component, got %q", err.Error())
	}
	if strings.Join(order, ",") != "HTTP server,describe store,meter provider" {
		t.Fatalf("unexpected release order %v", order)
	}
	if again := app.Shutdown(context.Background()); !errors.Is(again, storeErr) {
		t.Fatalf("expected repeated shutdown to report the first result, got %v", again)
	}
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.Start(); err == nil {
		t.Fatalf("expected start to fail before init")
	}
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg: &config.Config{
			Server: config.ServerConfig{TLSMode: "off"},
		},
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	if _, err := app.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	appCfg := &config.Config{
		Describe: config.DescribeConfig{
			Source: config.SourceSQL,
			SQL: config.SQLSourceConfig{
				Host:     "127.0.0.1",
				Port:     1,
				User:     "root",
				Password: "invalid",
				Database: "test",
				TLS: config.DatabaseTLSConfig{
					Mode: "off",
				},
				Pool: config.PoolConfig{
					MaxOpen:     1,
					MaxIdle:     1,
					MaxLifetime: time.Second,
				},
				ConnectionTimeout:       0,
				ConnectionRetryInterval: 10 * time.Millisecond,
			},
		},
		Cache: config.CacheConfig{Store: config.StoreNone},
		Server: config.ServerConfig{
			Port:               18089,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "soqlrestore",
			ServiceVersion: "test",
			Environment:    "test",
			Logging: config.LoggingConfig{
				Level:          "info",
				Format:         "text",
				ExportsEnabled: false,
			},
		},
	}

	app, err := New(appCfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with unreachable database")
	}

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	if initialized {
		t.Fatalf("app should not be marked initialized after failed Init")
	}
}

func TestNew_RejectsUnknownSource(t *testing.T) {
	if _, err := New(&config.Config{Describe: config.DescribeConfig{Source: "soap"}}, testLogger()); err == nil {
		t.Fatalf("expected error for unknown describe source")
	}
}

const fixtureYAML = `
objects:
  - name: Account
    fields:
      - {name: Id, type: id}
      - {name: Name, type: string}
`

func fileSourceConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "org.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return &config.Config{
		Describe: config.DescribeConfig{
			Source: config.SourceFile,
			File:   config.FileSourceConfig{Path: path},
		},
		Cache: config.CacheConfig{
			Store:  config.StoreMemory,
			TTL:    time.Minute,
			Prefix: "test:",
		},
		Server: config.ServerConfig{
			Port:               18090,
			MaxBodyBytes:       1 << 20,
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
			Admin: config.AdminConfig{
				RefreshEnabled: true,
				AuthToken:      "secret",
			},
		},
	}
}

func TestInit_FileSourceServesRestores(t *testing.T) {
	app, err := New(fileSourceConfig(t), testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("second init should be a no-op: %v", err)
	}

	handler := app.Handler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/restore", strings.NewReader(`{"query":"SELECT Id, Name FROM Account"}`))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"composed":"SELECT Id, Name FROM Account"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/describe/refresh", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected refresh to require the admin token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/describe/refresh?object=Account", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected refresh to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	if err := app.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
}

func TestInit_MissingFixtureFails(t *testing.T) {
	cfg := fileSourceConfig(t)
	cfg.Describe.File.Path = filepath.Join(t.TempDir(), "missing.yaml")

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail for a missing fixture")
	}
}
