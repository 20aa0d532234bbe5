package temporal

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentforge/core/telemetry"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, keyvals ...any) {}
func (noopLogger) Info(ctx context.Context, msg string, keyvals ...any)  {}
func (noopLogger) Warn(ctx context.Context, msg string, keyvals ...any)  {}
func (noopLogger) Error(ctx context.Context, msg string, keyvals ...any) {}

type noopMetrics struct{}

func (noopMetrics) IncCounter(name string, value float64, tags ...string)          {}
func (noopMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {}
func (noopMetrics) RecordGauge(name string, value float64, tags ...string)          {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	return ctx, noopSpan{}
}
func (noopTracer) Span(ctx context.Context) telemetry.Span { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) End(opts ...trace.SpanEndOption)                  {}
func (noopSpan) AddEvent(name string, attrs ...any)                {}
func (noopSpan) SetStatus(code codes.Code, description string)     {}
func (noopSpan) RecordError(err error, opts ...trace.EventOption)   {}
