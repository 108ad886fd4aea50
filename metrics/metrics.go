// Package metrics exports form and journal activity as Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/jilio/stateform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stateform"

// Collector implements stateform.Observability and the sqlite journal
// MetricsHook.
type Collector struct {
	actionsTotal       *prometheus.CounterVec
	validationsTotal   *prometheus.CounterVec
	validationFailures prometheus.Counter
	validationDuration prometheus.Histogram
	validationsPending prometheus.Gauge
	submitsTotal       *prometheus.CounterVec
	submitDuration     prometheus.Histogram
	submitting         prometheus.Gauge
	journalOpsTotal    *prometheus.CounterVec
	journalDuration    *prometheus.HistogramVec
	journalEntries     prometheus.Counter
}

type actionKey struct{}

type kindKey struct{}

// New registers the collector metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Actions applied, by type and whether they changed the state",
			},
			[]string{"action", "changed"},
		),
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Validations started, by outcome kind",
			},
			[]string{"kind"},
		),
		validationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Validations that reported an error",
			},
		),
		validationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validation_duration_seconds",
				Help:      "Time until a validation result is known",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		validationsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "validations_pending",
				Help:      "Deferred validations waiting for their result",
			},
		),
		submitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submits_total",
				Help:      "Finished submissions, by result",
			},
			[]string{"result"},
		),
		submitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submit_duration_seconds",
				Help:      "Submission duration",
				Buckets:   prometheus.DefBuckets,
			},
		),
		submitting: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "submissions_in_flight",
				Help:      "Submissions currently in flight",
			},
		),
		journalOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "operations_total",
				Help:      "Journal operations, by operation and result",
			},
			[]string{"op", "result"},
		),
		journalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "operation_duration_seconds",
				Help:      "Journal operation duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		journalEntries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "entries_loaded_total",
				Help:      "Journal entries read back",
			},
		),
	}
}

func (c *Collector) OnDispatchStart(ctx context.Context, action stateform.ActionType) context.Context {
	return context.WithValue(ctx, actionKey{}, action)
}

func (c *Collector) OnDispatchComplete(ctx context.Context, changed bool) {
	action, _ := ctx.Value(actionKey{}).(stateform.ActionType)
	c.actionsTotal.WithLabelValues(string(action), boolLabel(changed)).Inc()
}

func (c *Collector) OnValidationStart(ctx context.Context, _ string, kind stateform.OutcomeKind) context.Context {
	c.validationsTotal.WithLabelValues(kind.String()).Inc()
	if kind == stateform.OutcomeDeferred {
		c.validationsPending.Inc()
	}
	return context.WithValue(ctx, kindKey{}, kind)
}

func (c *Collector) OnValidationComplete(ctx context.Context, duration time.Duration, result stateform.FieldError, _ error) {
	if kind, _ := ctx.Value(kindKey{}).(stateform.OutcomeKind); kind == stateform.OutcomeDeferred {
		c.validationsPending.Dec()
	}
	c.validationDuration.Observe(duration.Seconds())
	if result.HasError {
		c.validationFailures.Inc()
	}
}

func (c *Collector) OnSubmitStart(ctx context.Context, _ string) context.Context {
	c.submitting.Inc()
	return ctx
}

func (c *Collector) OnSubmitComplete(_ context.Context, duration time.Duration, err error) {
	c.submitting.Dec()
	c.submitDuration.Observe(duration.Seconds())
	c.submitsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// OnAppend records a journal append.
func (c *Collector) OnAppend(duration time.Duration, err error) {
	c.journalOpsTotal.WithLabelValues("append", resultLabel(err)).Inc()
	c.journalDuration.WithLabelValues("append").Observe(duration.Seconds())
}

// OnLoad records a journal load.
func (c *Collector) OnLoad(duration time.Duration, count int, err error) {
	c.journalOpsTotal.WithLabelValues("load", resultLabel(err)).Inc()
	c.journalDuration.WithLabelValues("load").Observe(duration.Seconds())
	c.journalEntries.Add(float64(count))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ stateform.Observability = (*Collector)(nil)
