package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"soqlrestore/internal/logging"
)

// releaseStep frees one resource acquired during Init.
type releaseStep struct {
	name string
	fn   func(context.Context) error
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack struct {
	steps []releaseStep
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.steps = append(s.steps, releaseStep{name: name, fn: fn})
}

// run releases every step even when earlier ones fail and returns the joined
// failures.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		start := time.Now()
		err := step.fn(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
		if logger == nil {
			continue
		}
		attrs := []any{
			slog.String("component", step.name),
			slog.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("release failed", append(attrs, slog.String("error", err.Error()))...)
			continue
		}
		logger.Info("released", attrs...)
	}
	return errors.Join(errs...)
}

// Shutdown stops the HTTP server, closes the describe store and source, and
// flushes telemetry. Later calls return the result of the first.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})
	return a.shutdownErr
}
