package otel

import (
	"context"
	"time"

	"github.com/jilio/stateform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/jilio/stateform"
)

// Observability implements stateform.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	dispatchCounter    metric.Int64Counter
	validationCounter  metric.Int64Counter
	validationDuration metric.Float64Histogram
	validationFailures metric.Int64Counter
	submitCounter      metric.Int64Counter
	submitDuration     metric.Float64Histogram
	submitErrors       metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(obs)
	}

	var err error

	obs.dispatchCounter, err = obs.meter.Int64Counter(
		"stateform.dispatch.count",
		metric.WithDescription("Number of actions applied"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	obs.validationCounter, err = obs.meter.Int64Counter(
		"stateform.validation.count",
		metric.WithDescription("Number of field validations started"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, err
	}

	obs.validationDuration, err = obs.meter.Float64Histogram(
		"stateform.validation.duration",
		metric.WithDescription("Time until a validation result is known"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.validationFailures, err = obs.meter.Int64Counter(
		"stateform.validation.failures",
		metric.WithDescription("Number of validations that found an error"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, err
	}

	obs.submitCounter, err = obs.meter.Int64Counter(
		"stateform.submit.count",
		metric.WithDescription("Number of submissions started"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, err
	}

	obs.submitDuration, err = obs.meter.Float64Histogram(
		"stateform.submit.duration",
		metric.WithDescription("Submission duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.submitErrors, err = obs.meter.Int64Counter(
		"stateform.submit.errors",
		metric.WithDescription("Number of failed submissions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

// OnDispatchStart starts a span around one reducer step.
func (o *Observability) OnDispatchStart(ctx context.Context, action stateform.ActionType) context.Context {
	ctx, _ = o.tracer.Start(ctx, "stateform.dispatch: "+string(action),
		trace.WithAttributes(
			attribute.String("action.type", string(action)),
		),
	)
	return ctx
}

// OnDispatchComplete ends the dispatch span and counts the action.
func (o *Observability) OnDispatchComplete(ctx context.Context, changed bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Bool("changed", changed))

	o.dispatchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("changed", changed),
		),
	)

	span.End()
}

// OnValidationStart starts a span for a field validation.
func (o *Observability) OnValidationStart(ctx context.Context, field string, kind stateform.OutcomeKind) context.Context {
	name := "stateform.validate: " + field
	if field == "" {
		name = "stateform.validate.schema"
	}

	ctx, _ = o.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("field", field),
			attribute.String("outcome.kind", kind.String()),
		),
	)

	o.validationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome.kind", kind.String()),
		),
	)

	return ctx
}

// OnValidationComplete records the validation result and ends its span.
func (o *Observability) OnValidationComplete(ctx context.Context, duration time.Duration, result stateform.FieldError, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.Bool("async", result.Async),
	}

	o.validationDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if result.HasError {
		o.validationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.SetAttributes(attribute.String("validation.message", result.Message))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Ok, "")
	span.End()
}

// OnSubmitStart starts a span for a submission.
func (o *Observability) OnSubmitStart(ctx context.Context, formID string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "stateform.submit",
		trace.WithAttributes(
			attribute.String("form.id", formID),
		),
	)

	o.submitCounter.Add(ctx, 1)

	return ctx
}

// OnSubmitComplete records the submission outcome and ends its span.
func (o *Observability) OnSubmitComplete(ctx context.Context, duration time.Duration, err error) {
	span := trace.SpanFromContext(ctx)

	o.submitDuration.Record(ctx, float64(duration.Milliseconds()))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		o.submitErrors.Add(ctx, 1)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// Ensure Observability implements stateform.Observability
var _ stateform.Observability = (*Observability)(nil)
