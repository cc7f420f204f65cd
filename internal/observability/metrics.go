package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Restore outcomes recorded by RestoreMetrics.
const (
	OutcomeSuccess  = "success"
	OutcomeUser     = "user_error"
	OutcomeInternal = "internal_error"
)

// RestoreMetrics holds custom metrics for restore operations
type RestoreMetrics struct {
	restoreDuration metric.Float64Histogram
	restoreCounter  metric.Int64Counter
	activeRestores  metric.Int64UpDownCounter
	treeNodes       metric.Int64Histogram
	diagnostics     metric.Int64Counter
	filterRows      metric.Int64Histogram
}

// InitRestoreMetrics initializes restore-specific metrics
func InitRestoreMetrics() (*RestoreMetrics, error) {
	meter := otel.Meter("soqlrestore")

	restoreDuration, err := meter.Float64Histogram(
		"restore.duration",
		metric.WithDescription("Duration of query restores in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create restore duration histogram: %w", err)
	}

	restoreCounter, err := meter.Int64Counter(
		"restore.requests.total",
		metric.WithDescription("Total number of query restores"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create restore counter: %w", err)
	}

	activeRestores, err := meter.Int64UpDownCounter(
		"restore.requests.active",
		metric.WithDescription("Number of restores in progress"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active restores counter: %w", err)
	}

	treeNodes, err := meter.Int64Histogram(
		"restore.tree.nodes",
		metric.WithDescription("Number of relationship nodes in a restored metadata tree"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree nodes histogram: %w", err)
	}

	diagnostics, err := meter.Int64Counter(
		"restore.diagnostics.total",
		metric.WithDescription("Number of unresolved references reported by restores"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagnostics counter: %w", err)
	}

	filterRows, err := meter.Int64Histogram(
		"restore.filter.rows",
		metric.WithDescription("Number of condition rows produced for WHERE and HAVING"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter rows histogram: %w", err)
	}

	return &RestoreMetrics{
		restoreDuration: restoreDuration,
		restoreCounter:  restoreCounter,
		activeRestores:  activeRestores,
		treeNodes:       treeNodes,
		diagnostics:     diagnostics,
		filterRows:      filterRows,
	}, nil
}

// RecordRestore records a restore with its duration and outcome
func (m *RestoreMetrics) RecordRestore(ctx context.Context, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.restoreDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.restoreCounter.Add(ctx, 1, attrs)
}

// RecordTreeNodes records the size of a built metadata tree.
func (m *RestoreMetrics) RecordTreeNodes(ctx context.Context, count int64, scope string) {
	m.treeNodes.Record(ctx, count, metric.WithAttributes(
		attribute.String("scope", scope),
	))
}

// RecordDiagnostics records unresolved references by bucket.
func (m *RestoreMetrics) RecordDiagnostics(ctx context.Context, count int64, bucket string) {
	if count <= 0 {
		return
	}
	m.diagnostics.Add(ctx, count, metric.WithAttributes(
		attribute.String("bucket", bucket),
	))
}

func (m *RestoreMetrics) RecordFilterRows(ctx context.Context, count int64, clause string) {
	m.filterRows.Record(ctx, count, metric.WithAttributes(
		attribute.String("clause", clause),
	))
}

// IncrementActiveRestores increments the active restores counter
func (m *RestoreMetrics) IncrementActiveRestores(ctx context.Context) {
	m.activeRestores.Add(ctx, 1)
}

// DecrementActiveRestores decrements the active restores counter
func (m *RestoreMetrics) DecrementActiveRestores(ctx context.Context) {
	m.activeRestores.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the RestoreMetrics instance
func InitMetrics(logger *slog.Logger) (*RestoreMetrics, error) {
	metrics, err := InitRestoreMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize restore metrics: %w", err)
	}

	logger.Info("custom restore metrics initialized")
	return metrics, nil
}
