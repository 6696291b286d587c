package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sanduku/internal/sandbox"
)

// InstrumentedBackend wraps a sandbox.Backend with metrics and tracing.
type InstrumentedBackend struct {
	inner   sandbox.Backend
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedBackend wraps a backend with observability.
func NewInstrumentedBackend(inner sandbox.Backend, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedBackend {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedBackend{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (b *InstrumentedBackend) Kind() sandbox.Kind           { return b.inner.Kind() }
func (b *InstrumentedBackend) Isolation() sandbox.Isolation { return b.inner.Isolation() }

func (b *InstrumentedBackend) Run(ctx context.Context, command string, timeout time.Duration) (*sandbox.Result, error) {
	backend := string(b.inner.Kind())

	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.Start(ctx, "sandbox.run",
			trace.WithAttributes(
				attribute.String("sandbox.backend", backend),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := b.inner.Run(ctx, command, timeout)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if b.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case result.TimedOut:
		status = "timeout"
		if b.metrics != nil {
			b.metrics.SandboxTimeoutsTotal.WithLabelValues(backend).Inc()
		}
	case result.ExitCode != 0:
		status = "nonzero_exit"
		if b.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
		}
	}

	if b.metrics != nil {
		b.metrics.SandboxExecutionsTotal.WithLabelValues(backend, status).Inc()
		b.metrics.SandboxExecutionDuration.WithLabelValues(backend).Observe(duration)
	}

	return result, err
}

func (b *InstrumentedBackend) Cleanup(ctx context.Context) {
	b.inner.Cleanup(ctx)
}

var _ sandbox.Backend = (*InstrumentedBackend)(nil)
