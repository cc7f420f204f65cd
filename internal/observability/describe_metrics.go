package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cache lookup results recorded by DescribeMetrics.
const (
	LookupHit    = "hit"
	LookupMiss   = "miss"
	LookupShared = "shared"
)

// DescribeMetrics holds custom metrics for describe transports, the
// per-restore cache and the process-wide describe store.
type DescribeMetrics struct {
	callCounter      metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	cacheLookups     metric.Int64Counter
	storeLookups     metric.Int64Counter
	invalidations    metric.Int64Counter
	lastInvalidation atomic.Int64
}

// InitDescribeMetrics initializes describe metrics.
func InitDescribeMetrics(logger *slog.Logger) (*DescribeMetrics, error) {
	meter := otel.Meter("soqlrestore/describe")

	callCounter, err := meter.Int64Counter(
		"describe.calls.total",
		metric.WithDescription("Total number of describe transport calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe call counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"describe.errors.total",
		metric.WithDescription("Total number of failed describe transport calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe error counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"describe.duration",
		metric.WithDescription("Duration of describe transport calls in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe duration histogram: %w", err)
	}

	cacheLookups, err := meter.Int64Counter(
		"describe.cache.lookups.total",
		metric.WithDescription("Per-restore describe cache lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe cache lookup counter: %w", err)
	}

	storeLookups, err := meter.Int64Counter(
		"describe.store.lookups.total",
		metric.WithDescription("Process-wide describe store lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe store lookup counter: %w", err)
	}

	invalidations, err := meter.Int64Counter(
		"describe.store.invalidations.total",
		metric.WithDescription("Total number of describe store invalidations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe invalidation counter: %w", err)
	}

	lastInvalidationGauge, err := meter.Int64ObservableGauge(
		"describe.store.last_invalidation_unix",
		metric.WithDescription("Unix timestamp of the last describe store invalidation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe invalidation gauge: %w", err)
	}

	metrics := &DescribeMetrics{
		callCounter:   callCounter,
		errorCounter:  errorCounter,
		durationHist:  durationHist,
		cacheLookups:  cacheLookups,
		storeLookups:  storeLookups,
		invalidations: invalidations,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			value := metrics.lastInvalidation.Load()
			if value > 0 {
				observer.ObserveInt64(lastInvalidationGauge, value)
			}
			return nil
		},
		lastInvalidationGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register describe invalidation gauge callback: %w", err)
	}

	logger.Info("describe metrics initialized")
	return metrics, nil
}

// RecordCall records a describe transport call. op is "global" or "object".
func (m *DescribeMetrics) RecordCall(ctx context.Context, duration time.Duration, op string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.Bool("success", success),
	}

	m.callCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// RecordCacheLookup records a per-restore cache lookup (hit, miss or shared).
func (m *DescribeMetrics) RecordCacheLookup(ctx context.Context, result string) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStoreLookup records a process-wide store lookup.
func (m *DescribeMetrics) RecordStoreLookup(ctx context.Context, hit bool) {
	result := LookupMiss
	if hit {
		result = LookupHit
	}
	m.storeLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordInvalidation records a store invalidation. scope is "object" or "all".
func (m *DescribeMetrics) RecordInvalidation(ctx context.Context, scope string) {
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
	m.lastInvalidation.Store(time.Now().Unix())
}
