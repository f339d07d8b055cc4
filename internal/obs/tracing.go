package obs

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

var (
	tracerOnce sync.Once
	shutdownFn func(context.Context) error
)

// InitTracing wires up a tracer provider selected by exporterName
// (none|stdout|otlpgrpc|otlphttp), matching ALTIFY_OTEL_EXPORTER.
func InitTracing(service, environment, exporterName, endpoint string) (func(context.Context) error, error) {
	var initErr error
	tracerOnce.Do(func() {
		exporterName = strings.ToLower(strings.TrimSpace(exporterName))
		if exporterName == "" || exporterName == "none" {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())
			shutdownFn = func(context.Context) error { return nil }
			return
		}

		exp, err := buildExporter(context.Background(), exporterName, endpoint)
		if err != nil {
			initErr = err
			return
		}
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceNameKey.String(service),
				attribute.String("altify.environment", environment),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdownFn = tp.Shutdown
	})
	if shutdownFn == nil {
		shutdownFn = func(context.Context) error { return nil }
	}
	return shutdownFn, initErr
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	t := otel.Tracer("altify")
	return t.Start(ctx, name, trace.WithAttributes(attrs...))
}

func buildExporter(ctx context.Context, exporterName, endpoint string) (sdktrace.SpanExporter, error) {
	insecure := getenvBool("ALTIFY_OTEL_INSECURE", true)
	switch exporterName {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlpgrpc", "grpc":
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{})))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "otlphttp", "http":
		if endpoint == "" {
			endpoint = "http://localhost:4318"
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
