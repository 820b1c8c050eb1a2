package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, and metrics. Durable run events are not part of this package;
// they are written through the state store.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// The metrics server keeps serving until process exit so that a final
	// scrape can observe the completed run.
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext bundles the context, span, logger, and timer of one
// instrumented operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and
// timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithRunContext enriches a context with run-scoped telemetry: a run span,
// a run-scoped logger, and the active run gauge.
func WithRunContext(ctx context.Context, runID string, dryRun bool) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, dryRun)

	logger := tel.Logger.WithRunID(runID)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RunStarted()

	return context.WithValue(spanCtx, runSpanKey{}, span)
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// EndRunContext completes the run context.
func EndRunContext(ctx context.Context, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	tel.Metrics.RunFinished()
}
