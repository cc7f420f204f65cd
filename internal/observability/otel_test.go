package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.Exporter())

	assert.NoError(t, mp.Shutdown(context.Background(), testLogger()))
}

func TestInitMetrics(t *testing.T) {
	mp, err := InitMeterProvider(Config{ServiceName: "test-service"})
	require.NoError(t, err)
	defer func() {
		_ = mp.Shutdown(context.Background(), testLogger())
	}()

	restore, err := InitMetrics(testLogger())
	require.NoError(t, err)
	require.NotNil(t, restore.restoreDuration)
	require.NotNil(t, restore.restoreCounter)
	require.NotNil(t, restore.diagnostics)

	describe, err := InitDescribeMetrics(testLogger())
	require.NoError(t, err)
	require.NotNil(t, describe.cacheLookups)

	// Recording must not panic with a live provider.
	ctx := context.Background()
	restore.IncrementActiveRestores(ctx)
	restore.RecordRestore(ctx, 12*time.Millisecond, OutcomeSuccess)
	restore.RecordDiagnostics(ctx, 0, "missing_fields")
	restore.RecordDiagnostics(ctx, 2, "missing_fields")
	restore.DecrementActiveRestores(ctx)
	describe.RecordCall(ctx, time.Millisecond, "object", false)
	describe.RecordCacheLookup(ctx, LookupShared)
	describe.RecordStoreLookup(ctx, true)
	describe.RecordInvalidation(ctx, "all")
	assert.Positive(t, describe.lastInvalidation.Load())
}

func TestParseOTLPProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    otlpProtocol
		wantErr bool
	}{
		{in: "", want: otlpProtocolGRPC},
		{in: "GRPC", want: otlpProtocolGRPC},
		{in: "http", want: otlpProtocolHTTP},
		{in: "http/protobuf", want: otlpProtocolHTTP},
		{in: "thrift", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseOTLPProtocol(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestResolveExporterSettings(t *testing.T) {
	settings, err := resolveExporterSettings(OTLPExporterConfig{
		Endpoint:         "https://collector:4318",
		Compression:      "GZIP",
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.True(t, settings.endpointURL)
	assert.True(t, settings.gzip)
	assert.True(t, settings.retry)
	assert.Equal(t, 15*time.Second, settings.retryWindow)
	require.NotNil(t, settings.tls)

	insecure, err := resolveExporterSettings(OTLPExporterConfig{Endpoint: "collector:4317", Insecure: true})
	require.NoError(t, err)
	assert.False(t, insecure.endpointURL)
	assert.Nil(t, insecure.tls)
	assert.False(t, insecure.retry)
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	path := t.TempDir() + "/ca.pem"
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	path := t.TempDir() + "/client.crt"
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSClientCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio(t *testing.T) {
	sample := func(s sdktrace.Sampler, parent context.Context, id byte) sdktrace.SamplingDecision {
		return s.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: parent,
			TraceID:       trace.TraceID{id},
			Name:          "test",
		}).Decision
	}

	assert.Equal(t, sdktrace.Drop, sample(traceSamplerForRatio(0), context.Background(), 1))
	assert.Equal(t, sdktrace.RecordAndSample, sample(traceSamplerForRatio(1), context.Background(), 2))

	mid := traceSamplerForRatio(0.5)
	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	assert.Equal(t, sdktrace.RecordAndSample, sample(mid, sampledParent, 4))

	unsampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	assert.Equal(t, sdktrace.Drop, sample(mid, unsampledParent, 6))
}
