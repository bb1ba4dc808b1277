package core

import (
	"context"
	"time"

	"mlsync/pkg/domain"
)

// Logger is the structured logging surface used by the engine.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// MetricsRecorder observes the outcome of engine operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan ends a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around engine operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopLogger struct{}

// NopLogger returns a Logger that drops every entry.
func NopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithParallelism replays up to n sites concurrently during a fan-out.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithReplicatedKind changes the entity kind whose metadata is replicated.
func WithReplicatedKind(kind string) Option {
	return func(e *Engine) {
		if kind != "" {
			e.kind = domain.Kind(kind)
		}
	}
}

// WithAttachedFileKey changes the key re-sent after a create.
func WithAttachedFileKey(key string) Option {
	return func(e *Engine) {
		if key != "" {
			e.attachedFileKey = key
		}
	}
}

// WithExcludedKeys adds keys that never leave their site.
func WithExcludedKeys(keys ...string) Option {
	return func(e *Engine) { e.extraExcluded = append(e.extraExcluded, keys...) }
}
