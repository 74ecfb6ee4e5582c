// Package observability sets up OpenTelemetry tracing for the query service
// and provides the span helpers used around outbound helpdesk calls.
package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/helpdesk-query/internal/config"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is blank.
const DefaultServiceName = "helpdesk-query"

// helpdeskTracer names the instrumentation scope of outbound API spans.
const helpdeskTracer = "helpdesk-query/helpdesk"

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Replaced in tests.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName, version string, stores []string) (*resource.Resource, error) {
		attrs := []attribute.KeyValue{
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		}
		if len(stores) > 0 {
			attrs = append(attrs, attribute.StringSlice("helpdesk.stores", stores))
		}
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// SetupOTel installs a batching OTLP/gRPC tracer provider and W3C
// propagators. stores lists the enabled helpdesks and is attached to the
// resource. When tracing is disabled the returned Shutdown is a no-op and
// the global provider is left untouched.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, stores ...string) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}
	res, err := newServiceResourceFn(ctx, name, version, stores)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// StartHelpdeskCall opens a client span for one request to a helpdesk API.
// Callers must pass the span to EndHelpdeskCall.
func StartHelpdeskCall(ctx context.Context, store, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(helpdeskTracer).Start(ctx, store+" "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("helpdesk.store", store),
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
}

// EndHelpdeskCall records status and err on span and ends it. A status of
// zero means no response was received.
func EndHelpdeskCall(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
