// Package otel sets up the global OpenTelemetry tracer provider.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Servicename string
	// Endpoint is the OTLP/gRPC collector address. Tracing stays disabled
	// when it is empty.
	Endpoint string
	Insecure bool
	Logger   logr.Logger
}

// Init installs a batching OTLP exporter as the global tracer provider. The
// returned shutdown function flushes pending spans and is always safe to call.
func Init(ctx context.Context, c Config) (context.Context, func(), error) {
	if c.Endpoint == "" {
		return ctx, func() {}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("creating otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.Servicename),
	))
	if err != nil && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return ctx, func() {}, fmt.Errorf("building otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		c.Logger.Error(err, "opentelemetry")
	}))
	c.Logger.V(1).Info("tracing enabled", "endpoint", c.Endpoint)

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			c.Logger.Error(err, "failed to shut down tracer provider")
		}
	}
	return ctx, shutdown, nil
}
