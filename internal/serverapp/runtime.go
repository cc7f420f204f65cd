package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soqlrestore/internal/observability"
)

// StopReason says why WaitForStop returned.
type StopReason string

const (
	StopSignal      StopReason = "signal"
	StopServerError StopReason = "server_error"
)

const hangupRefreshTimeout = 15 * time.Second

// Start launches the HTTP server goroutine. It requires Init to have completed.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if !a.started {
		a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
		a.started = true
	}
	return a.serverErrors, nil
}

// NotifySignals subscribes to the signals WaitForStop understands: interrupt
// and SIGTERM stop the server, SIGHUP refreshes the describe store.
func NotifySignals() (<-chan os.Signal, func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	return signals, func() { signal.Stop(signals) }
}

// WaitForStop blocks until a stop signal arrives or the server fails. A
// SIGHUP flushes the describe store and keeps waiting. A nil serverErrors
// falls back to the channel returned by Start.
func (a *App) WaitForStop(signals <-chan os.Signal, serverErrors <-chan error) (StopReason, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if signals == nil && serverErrors == nil {
		return "", fmt.Errorf("both signals and serverErrors channels are nil")
	}

	for {
		select {
		case err := <-serverErrors:
			if err == nil {
				return StopServerError, fmt.Errorf("server stopped unexpectedly")
			}
			return StopServerError, fmt.Errorf("server failed: %w", err)
		case sig, ok := <-signals:
			if !ok {
				return StopSignal, nil
			}
			if sig == syscall.SIGHUP {
				a.refreshOnHangup()
				continue
			}
			if a.logger != nil {
				a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			}
			return StopSignal, nil
		}
	}
}

func (a *App) refreshOnHangup() {
	a.stateMu.Lock()
	enabled := a.storeTransport != nil
	metrics := a.adminMetrics
	a.stateMu.Unlock()

	if !enabled {
		if a.logger != nil {
			a.logger.Info("SIGHUP ignored, describe store is disabled")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hangupRefreshTimeout)
	defer cancel()
	start := time.Now()
	err := a.Refresh(ctx)
	if metrics != nil {
		metrics.RecordDescribeRefresh(ctx, observability.DescribeRefresh{
			Trigger:  observability.RefreshTriggerHangup,
			Scope:    "all",
			Duration: time.Since(start),
			Success:  err == nil,
		})
	}
	if a.logger == nil {
		return
	}
	if err != nil {
		a.logger.Error("describe store refresh failed",
			slog.String("trigger", observability.RefreshTriggerHangup),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("describe store refreshed", slog.String("trigger", observability.RefreshTriggerHangup))
}
