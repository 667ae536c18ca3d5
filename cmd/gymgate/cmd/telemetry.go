package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/repclub/gymgate/internal/config"
)

const instrumentationName = "github.com/repclub/gymgate"

// traceContextHandler adds trace_id and span_id to records logged inside a span.
type traceContextHandler struct {
	inner slog.Handler
}

func newTraceContextHandler(inner slog.Handler) *traceContextHandler {
	return &traceContextHandler{inner: inner}
}

func (h *traceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, r)
}

func (h *traceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceContextHandler) WithGroup(name string) slog.Handler {
	return &traceContextHandler{inner: h.inner.WithGroup(name)}
}

// newLogger builds the process logger: text to w, trace-aware.
// DevMode always forces debug.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(newTraceContextHandler(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// setupTracing installs a tracer provider exporting gate evaluation spans.
// With tracing disabled it returns a no-op tracer and shutdown.
func setupTracing(cfg *config.Config, logger *slog.Logger) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider().Tracer(instrumentationName), func(context.Context) error { return nil }, nil
	}

	var (
		w       io.Writer = os.Stdout
		closeFn           = func() error { return nil }
	)
	if path, ok := strings.CutPrefix(cfg.Tracing.Output, "file://"); ok {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file %s: %w", path, err)
		}
		w = f
		closeFn = f.Close
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "gymgate"),
			attribute.String("service.version", Version),
		)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "output", cfg.Tracing.Output)

	shutdown := func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := closeFn(); err == nil {
			err = cerr
		}
		return err
	}
	return tp.Tracer(instrumentationName), shutdown, nil
}
