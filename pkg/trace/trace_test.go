package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// stubConstructors replaces the exporter constructors for the duration of a test
func stubConstructors(t *testing.T, httpErr, grpcErr error) (httpCalls, grpcCalls *int) {
	t.Helper()
	origRes, origHTTP, origGRPC := newResource, newOTLPTraceHTTP, newOTLPTraceGRPC
	t.Cleanup(func() {
		newResource, newOTLPTraceHTTP, newOTLPTraceGRPC = origRes, origHTTP, origGRPC
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})

	var h, g int
	newResource = func(ctx context.Context, options ...resource.Option) (*resource.Resource, error) {
		return resource.Default(), nil
	}
	newOTLPTraceHTTP = func(ctx context.Context, options ...otlptracehttp.Option) (*otlptrace.Exporter, error) {
		h++
		return nil, httpErr
	}
	newOTLPTraceGRPC = func(ctx context.Context, options ...otlptracegrpc.Option) (*otlptrace.Exporter, error) {
		g++
		return nil, grpcErr
	}
	return &h, &g
}

func TestInitTracing_ProtocolSelection(t *testing.T) {
	httpCalls, grpcCalls := stubConstructors(t, nil, nil)

	shutdown, err := InitTracing(context.Background(), &config.TracingConfig{
		ServiceName: "agent-gateway-test",
		Protocol:    "http",
		Insecure:    true,
		Headers:     config.StringMap{"authorization": "Bearer x"},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, shutdown)
	assert.Equal(t, 1, *httpCalls)
	assert.Equal(t, 0, *grpcCalls)

	shutdown, err = InitTracing(context.Background(), &config.TracingConfig{ServiceName: "agent-gateway-test"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, shutdown)
	assert.Equal(t, 1, *grpcCalls)
}

func TestInitTracing_ResourceError(t *testing.T) {
	stubConstructors(t, nil, nil)
	newResource = func(ctx context.Context, options ...resource.Option) (*resource.Resource, error) {
		return nil, errors.New("resource creation failed")
	}

	shutdown, err := InitTracing(context.Background(), &config.TracingConfig{}, zap.NewNop())
	assert.ErrorContains(t, err, "create resource")
	assert.Nil(t, shutdown)
}

func TestInitTracing_ExporterError(t *testing.T) {
	stubConstructors(t, errors.New("http down"), errors.New("grpc down"))

	_, err := InitTracing(context.Background(), &config.TracingConfig{Protocol: "http"}, zap.NewNop())
	assert.ErrorContains(t, err, "create exporter")

	_, err = InitTracing(context.Background(), &config.TracingConfig{Protocol: "grpc"}, zap.NewNop())
	assert.ErrorContains(t, err, "create exporter")
}

func TestClampRate(t *testing.T) {
	assert.Equal(t, 0.0, clampRate(-1.5))
	assert.Equal(t, 0.7, clampRate(0.7))
	assert.Equal(t, 1.0, clampRate(2.5))
}

func TestSpanScope_WithInMemoryProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sr),
		sdktrace.WithResource(resource.Empty()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	scope := Tracer("trace-test").Start(context.Background(), "op")
	scope.WithAttrs(attribute.String("k", "v")).Fail(errors.New("boom")).Fail(nil)
	scope.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("k", "v"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestSpanScope_NilSafety(t *testing.T) {
	var nilScope *SpanScope
	assert.Nil(t, nilScope.WithAttrs(attribute.String("key", "value")))
	assert.Nil(t, nilScope.Fail(errors.New("x")))
	nilScope.End()

	scope := &SpanScope{Ctx: context.Background()}
	assert.Equal(t, scope, scope.WithAttrs(attribute.String("key", "value")))
	scope.End()
}
