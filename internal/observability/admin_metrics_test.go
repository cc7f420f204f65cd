package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string][]metricdata.DataPoint[int64])
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = sum.DataPoints
			}
		}
	}
	return sums
}

func attrValue(t *testing.T, set attribute.Set, key string) string {
	t.Helper()
	v, ok := set.Value(attribute.Key(key))
	require.True(t, ok, "missing attribute %s", key)
	return v.Emit()
}

func TestAdminMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := newAdminMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordAuth(ctx, AuthMethodOIDC, "/admin/describe/refresh", "expired_token")
	metrics.RecordAuth(ctx, AuthMethodOIDC, "/admin/describe/refresh", AuthSuccess)
	metrics.RecordDescribeRefresh(ctx, DescribeRefresh{
		Trigger:    RefreshTriggerAdmin,
		Scope:      "object",
		AuthMethod: AuthMethodOIDC,
		Duration:   3 * time.Millisecond,
		Success:    true,
	})
	metrics.RecordDescribeRefresh(ctx, DescribeRefresh{Trigger: RefreshTriggerHangup, Scope: "all"})

	sums := collectSums(t, reader)
	assert.Len(t, sums["admin.auth.checks.total"], 2)

	refreshes := sums["admin.describe_refresh.total"]
	require.Len(t, refreshes, 2)
	byTrigger := map[string]attribute.Set{}
	for _, dp := range refreshes {
		assert.Equal(t, int64(1), dp.Value)
		byTrigger[attrValue(t, dp.Attributes, "trigger")] = dp.Attributes
	}
	require.Contains(t, byTrigger, RefreshTriggerHangup)
	assert.Equal(t, "all", attrValue(t, byTrigger[RefreshTriggerHangup], "scope"))
	assert.Equal(t, AuthMethodNone, attrValue(t, byTrigger[RefreshTriggerHangup], "auth_method"))
	assert.Equal(t, "false", attrValue(t, byTrigger[RefreshTriggerHangup], "success"))
	require.Contains(t, byTrigger, RefreshTriggerAdmin)
	assert.Equal(t, "object", attrValue(t, byTrigger[RefreshTriggerAdmin], "scope"))
	assert.Equal(t, AuthMethodOIDC, attrValue(t, byTrigger[RefreshTriggerAdmin], "auth_method"))
}
