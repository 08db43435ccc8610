// Package observability wires structured tracing, logging, and metrics
// export for the relay binary. It is deliberately optional: a zero-value
// Config disables every exporter and every call becomes a no-op, so
// packages that accept a context can call Start/Span unconditionally
// without checking whether observability was configured.
package observability

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config selects which exporters Setup brings up. Every field is optional;
// the zero value runs fully in no-op mode.
type Config struct {
	// Service names the resource attribute reported to every backend.
	Service string
	// TraceAddr is the OTLP/gRPC collector address for traces. Empty
	// disables tracing.
	TraceAddr string
	// LogAddr is the OTLP/gRPC collector address for logs. Empty disables
	// log export (the process still logs to stderr via slog separately).
	LogAddr string
	// Metrics enables the Prometheus registry backing the package-level
	// recorders. See metrics.go.
	Metrics bool
}

var (
	mu         sync.Mutex
	tracerName = "github.com/moqfabric/fabric"
	tracer     trace.Tracer
	loggerProv *sdklog.LoggerProvider
	tracerProv *sdktrace.TracerProvider
	metricsOn  bool
)

// Setup brings up the exporters named by cfg. It is safe to call with the
// zero Config. Setup does not tear down exporters started by an earlier
// Setup call; Shutdown does.
func Setup(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	metricsOn = cfg.Metrics

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName(cfg)),
	))
	if err != nil {
		return err
	}

	if cfg.TraceAddr != "" {
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.TraceAddr), otlptracegrpc.WithInsecure())
		if err != nil {
			return err
		}
		tracerProv = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProv)
		tracer = tracerProv.Tracer(tracerName)
	} else {
		tracer = otel.Tracer(tracerName) // no-op provider until one is set globally
	}

	if cfg.LogAddr != "" {
		exp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(cfg.LogAddr), otlploggrpc.WithInsecure())
		if err != nil {
			return err
		}
		loggerProv = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			sdklog.WithResource(res),
		)
	}

	if cfg.Metrics {
		if err := setupMetrics(); err != nil {
			return err
		}
	}

	return nil
}

func serviceName(cfg Config) string {
	if cfg.Service == "" {
		return "moq-relay"
	}
	return cfg.Service
}

// Shutdown flushes and tears down every exporter brought up by Setup. It
// is safe to call even when Setup ran in fully no-op mode.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	if tracerProv != nil {
		errs = append(errs, tracerProv.Shutdown(ctx))
		tracerProv = nil
	}
	if loggerProv != nil {
		errs = append(errs, loggerProv.Shutdown(ctx))
		loggerProv = nil
	}
	shutdownMetrics(&errs)
	tracer = nil
	metricsOn = false
	return errors.Join(errs...)
}

// Enabled reports whether trace export is currently configured.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return tracerProv != nil
}

// MetricsEnabled reports whether the Prometheus registry is live.
func MetricsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return metricsOn
}

// Span wraps an OTel span with helpers tailored to the MoQ attribute set
// (Track, Group, Broadcast, ...) so call sites read as domain events
// rather than generic span.SetAttributes calls.
type Span struct {
	span trace.Span
}

// Start begins a span named name under the tracer configured by the most
// recent Setup call (a no-op tracer if tracing is disabled).
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	return StartWith(ctx, name, Attrs(attrs...))
}

// Option configures StartWith.
type Option func(*startConfig)

type startConfig struct {
	attrs   []attribute.KeyValue
	onStart func()
	onEnd   func()
}

// Attrs attaches attributes at span start.
func Attrs(attrs ...attribute.KeyValue) Option {
	return func(c *startConfig) { c.attrs = append(c.attrs, attrs...) }
}

// OnStart runs fn synchronously after the span is created.
func OnStart(fn func()) Option {
	return func(c *startConfig) { c.onStart = fn }
}

// OnEnd runs fn synchronously when the returned Span's End is called.
func OnEnd(fn func()) Option {
	return func(c *startConfig) { c.onEnd = fn }
}

// StartWith begins a span with the given options.
func StartWith(ctx context.Context, name string, opts ...Option) (context.Context, Span) {
	var c startConfig
	for _, opt := range opts {
		opt(&c)
	}

	mu.Lock()
	t := tracer
	if t == nil {
		t = otel.Tracer(tracerName)
	}
	mu.Unlock()

	ctx, span := t.Start(ctx, name, trace.WithAttributes(c.attrs...))
	if c.onStart != nil {
		c.onStart()
	}
	return ctx, Span{span: wrapSpan(span, c.onEnd)}
}

// wrapSpan lets End run an optional callback; kept as a small indirection
// so Span itself doesn't need an onEnd field threaded through every copy.
func wrapSpan(span trace.Span, onEnd func()) trace.Span {
	if onEnd == nil {
		return span
	}
	return &endHookSpan{Span: span, onEnd: onEnd}
}

type endHookSpan struct {
	trace.Span
	onEnd func()
}

func (s *endHookSpan) End(opts ...trace.SpanEndOption) {
	s.Span.End(opts...)
	s.onEnd()
}

// End completes the span.
func (s Span) End() {
	if s.span != nil {
		s.span.End()
	}
}

// Error records err on the span and marks it failed. A nil err is a
// harmless no-op, so call sites don't need to guard it.
func (s Span) Error(err error, msg string) {
	if s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.AddEvent(msg)
}

// Event records a named point-in-time occurrence with attributes.
func (s Span) Event(name string, attrs ...attribute.KeyValue) {
	if s.span == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Set attaches attributes to the span's own record.
func (s Span) Set(attrs ...attribute.KeyValue) {
	if s.span == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// Domain attribute constructors, matching the key names tests assert on.

func Track(name string) attribute.KeyValue          { return attribute.String("moq.track", name) }
func Group(sequence int64) attribute.KeyValue        { return attribute.Int64("moq.group", sequence) }
func GroupSequence(sequence int64) attribute.KeyValue { return attribute.Int64("moq.group", sequence) }
func Frames(n int64) attribute.KeyValue              { return attribute.Int64("moq.frames", n) }
func Broadcast(path string) attribute.KeyValue       { return attribute.String("moq.broadcast", path) }
func Subscribers(n int64) attribute.KeyValue         { return attribute.Int64("moq.subscribers", n) }

// Str and Num build ad-hoc attributes outside the fixed domain set above.
func Str(key, value string) attribute.KeyValue { return attribute.String(key, value) }
func Num(key string, value int64) attribute.KeyValue { return attribute.Int64(key, value) }

// Logger returns the configured OTel logger, or nil if log export is
// disabled (callers fall back to slog in that case).
func Logger(name string) otellog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if loggerProv == nil {
		return nil
	}
	return loggerProv.Logger(name)
}
