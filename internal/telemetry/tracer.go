// Package telemetry wires OpenTelemetry tracing for operation runs.
package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tjfontaine/oapipe"

// Span attribute keys.
const (
	AttrOperation   = attribute.Key("oapipe.operation")
	AttrVersion     = attribute.Key("oapipe.version")
	AttrExecutionID = attribute.Key("oapipe.execution_id")
)

// Config configures the tracer provider.
type Config struct {
	ServiceName string
	// Writer receives exported spans. Defaults to stdout.
	Writer      io.Writer
	PrettyPrint bool
}

// InitTracer installs a global tracer provider exporting spans to
// cfg.Writer and returns its shutdown function.
func InitTracer(cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "oapipe"
	}

	var opts []stdouttrace.Option
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", cfg.ServiceName))

	return tp.Shutdown, nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartRun starts the span of one operation run.
func StartRun(ctx context.Context, operationID, version string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "oapipe.run "+operationID,
		trace.WithAttributes(
			AttrOperation.String(operationID),
			AttrVersion.String(version),
		),
	)
}

// EndRun records the outcome of a run on span and ends it.
func EndRun(span trace.Span, executionID string, err error) {
	span.SetAttributes(AttrExecutionID.String(executionID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
