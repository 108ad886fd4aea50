package otel

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jilio/stateform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// errorMeterProvider hands out meters that fail to create one instrument.
type errorMeterProvider struct {
	metric.MeterProvider
	failOn string
}

func (e *errorMeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return &errorMeter{Meter: e.MeterProvider.Meter(name, opts...), failOn: e.failOn}
}

type errorMeter struct {
	metric.Meter
	failOn string
}

func (e *errorMeter) Int64Counter(name string, options ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	if name == e.failOn {
		return nil, fmt.Errorf("failed to create counter: %s", name)
	}
	return e.Meter.Int64Counter(name, options...)
}

func (e *errorMeter) Float64Histogram(name string, options ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	if name == e.failOn {
		return nil, fmt.Errorf("failed to create histogram: %s", name)
	}
	return e.Meter.Float64Histogram(name, options...)
}

func TestNew(t *testing.T) {
	t.Run("default_providers", func(t *testing.T) {
		obs, err := New()
		require.NoError(t, err)
		assert.NotNil(t, obs)
	})

	t.Run("custom_providers", func(t *testing.T) {
		obs, err := New(
			WithTracerProvider(sdktrace.NewTracerProvider()),
			WithMeterProvider(sdkmetric.NewMeterProvider()),
		)
		require.NoError(t, err)
		assert.NotNil(t, obs.tracer)
		assert.NotNil(t, obs.meter)
	})

	instruments := []string{
		"stateform.dispatch.count",
		"stateform.validation.count",
		"stateform.validation.duration",
		"stateform.validation.failures",
		"stateform.submit.count",
		"stateform.submit.duration",
		"stateform.submit.errors",
	}
	for _, name := range instruments {
		t.Run("instrument_error_"+name, func(t *testing.T) {
			mp := &errorMeterProvider{MeterProvider: sdkmetric.NewMeterProvider(), failOn: name}
			obs, err := New(WithMeterProvider(mp))
			assert.Error(t, err)
			assert.Nil(t, obs)
		})
	}
}

func newTraced(t *testing.T) (*Observability, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	obs, err := New(WithTracerProvider(tp))
	require.NoError(t, err)
	return obs, exporter
}

func TestDispatchTracing(t *testing.T) {
	obs, exporter := newTraced(t)

	ctx := obs.OnDispatchStart(context.Background(), stateform.ActionSetValue)
	obs.OnDispatchComplete(ctx, true)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "stateform.dispatch: sfc/control/value", spans[0].Name)

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "sfc/control/value", attrs["action.type"])
	assert.Equal(t, true, attrs["changed"])
}

func TestValidationTracing(t *testing.T) {
	obs, exporter := newTraced(t)

	t.Run("field", func(t *testing.T) {
		exporter.Reset()
		ctx := obs.OnValidationStart(context.Background(), "email", stateform.OutcomeDeferred)
		obs.OnValidationComplete(ctx, 20*time.Millisecond, stateform.FieldError{HasError: true, Message: "taken"}, errors.New("taken"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "stateform.validate: email", spans[0].Name)
		assert.Len(t, spans[0].Events, 1, "error recorded as span event")
	})

	t.Run("schema", func(t *testing.T) {
		exporter.Reset()
		ctx := obs.OnValidationStart(context.Background(), "", stateform.OutcomeDeferred)
		obs.OnValidationComplete(ctx, time.Millisecond, stateform.FieldError{}, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "stateform.validate.schema", spans[0].Name)
	})
}

func TestSubmitTracing(t *testing.T) {
	obs, exporter := newTraced(t)

	t.Run("success", func(t *testing.T) {
		exporter.Reset()
		ctx := obs.OnSubmitStart(context.Background(), "signup")
		obs.OnSubmitComplete(ctx, 5*time.Millisecond, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("failure", func(t *testing.T) {
		exporter.Reset()
		ctx := obs.OnSubmitStart(context.Background(), "signup")
		obs.OnSubmitComplete(ctx, 5*time.Millisecond, errors.New("backend down"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "backend down", spans[0].Status.Description)
	})
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	obs, err := New(WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	require.NoError(t, err)

	ctx := context.Background()
	c := obs.OnDispatchStart(ctx, stateform.ActionTouch)
	obs.OnDispatchComplete(c, false)
	c = obs.OnValidationStart(ctx, "name", stateform.OutcomeMessage)
	obs.OnValidationComplete(c, 0, stateform.FieldError{HasError: true, Message: "required"}, nil)
	c = obs.OnSubmitStart(ctx, "f")
	obs.OnSubmitComplete(c, 10*time.Millisecond, errors.New("nope"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	sums := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if s, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range s.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), sums["stateform.dispatch.count"])
	assert.Equal(t, int64(1), sums["stateform.validation.count"])
	assert.Equal(t, int64(1), sums["stateform.validation.failures"])
	assert.Equal(t, int64(1), sums["stateform.submit.count"])
	assert.Equal(t, int64(1), sums["stateform.submit.errors"])
}

func TestWithForm(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	obs, err := New(WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))))
	require.NoError(t, err)

	form := stateform.New(
		stateform.WithObservability(obs),
		stateform.WithInitialValues(stateform.Values{"name": ""}),
		stateform.WithValidations(stateform.Validations{
			"name": func(v stateform.Value) string {
				if v == "" {
					return "required"
				}
				return ""
			},
		}),
	)
	form.SetValue("name", "ada")
	form.Submit().Await(context.Background())
	form.Wait()

	names := map[string]int{}
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
	}
	assert.Equal(t, 2, names["stateform.validate: name"])
	assert.Equal(t, 1, names["stateform.submit"])
	assert.NotZero(t, names["stateform.dispatch: sfc/control/value"])
}
