package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Admin authentication methods.
const (
	AuthMethodOIDC       = "oidc"
	AuthMethodAdminToken = "admin_token"
	AuthMethodNone       = "none"
)

// AuthSuccess is the outcome recorded for accepted credentials. Rejections
// record their reason instead (missing_token, invalid_token, expired_token,
// invalid_claims).
const AuthSuccess = "success"

// Describe refresh triggers.
const (
	RefreshTriggerAdmin  = "admin_endpoint"
	RefreshTriggerHangup = "sighup"
)

// AdminMetrics covers the admin surface: credential checks on admin routes
// and describe store refreshes, whichever way they were triggered.
type AdminMetrics struct {
	authChecks      metric.Int64Counter
	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
}

// InitAdminMetrics registers admin metrics on the global meter provider.
func InitAdminMetrics() (*AdminMetrics, error) {
	return newAdminMetrics(otel.Meter("soqlrestore/admin"))
}

func newAdminMetrics(meter metric.Meter) (*AdminMetrics, error) {
	authChecks, err := meter.Int64Counter(
		"admin.auth.checks.total",
		metric.WithDescription("Admin credential checks by method, endpoint and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin auth counter: %w", err)
	}

	refreshes, err := meter.Int64Counter(
		"admin.describe_refresh.total",
		metric.WithDescription("Describe store refreshes by trigger, scope and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe refresh counter: %w", err)
	}

	refreshDuration, err := meter.Float64Histogram(
		"admin.describe_refresh.duration",
		metric.WithDescription("Duration of describe store refreshes in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create describe refresh histogram: %w", err)
	}

	return &AdminMetrics{
		authChecks:      authChecks,
		refreshes:       refreshes,
		refreshDuration: refreshDuration,
	}, nil
}

// RecordAuth records one credential check on an admin route.
func (m *AdminMetrics) RecordAuth(ctx context.Context, method, endpoint, outcome string) {
	m.authChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

// DescribeRefresh describes one describe store refresh.
type DescribeRefresh struct {
	Trigger    string // admin_endpoint or sighup
	Scope      string // all or object
	AuthMethod string
	Duration   time.Duration
	Success    bool
}

// RecordDescribeRefresh records a describe store refresh.
func (m *AdminMetrics) RecordDescribeRefresh(ctx context.Context, r DescribeRefresh) {
	method := r.AuthMethod
	if method == "" {
		method = AuthMethodNone
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", r.Trigger),
		attribute.String("scope", r.Scope),
		attribute.String("auth_method", method),
		attribute.Bool("success", r.Success),
	)
	m.refreshes.Add(ctx, 1, attrs)
	m.refreshDuration.Record(ctx, float64(r.Duration.Milliseconds()), attrs)
}
