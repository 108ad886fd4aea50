package stateform

import (
	"context"
	"reflect"

	"go.uber.org/zap"
)

// SubmitFunc receives the form values when a submission starts. Returning a
// nil Deferred means the submission finished synchronously.
type SubmitFunc func(ctx context.Context, values Values) Deferred

// SubmitSync adapts a fire-and-forget callback.
func SubmitSync(fn func(values Values)) SubmitFunc {
	return func(_ context.Context, values Values) Deferred {
		fn(values)
		return nil
	}
}

// SubmitAsync runs fn in its own goroutine; the form stays submitting until
// it returns.
func SubmitAsync(fn func(ctx context.Context, values Values) error) SubmitFunc {
	return func(ctx context.Context, values Values) Deferred {
		return Go(ctx, func(ctx context.Context) error { return fn(ctx, values) })
	}
}

// PanicHandler is called when a synchronous validator panics.
type PanicHandler func(field string, panicValue any)

// Option configures a Form.
type Option func(*config)

type config struct {
	id            string
	ctx           context.Context
	preserveData  bool
	initialValues Values
	defaultValues Values
	validations   Validations
	schema        Validator
	onSubmit      SubmitFunc
	logger        *zap.Logger
	observability Observability
	journal       Journal
	staleGuard    bool
	panicHandler  PanicHandler
}

func defaultConfig() *config {
	return &config{
		ctx:    context.Background(),
		logger: zap.NewNop(),
	}
}

// WithID sets the form identifier used for journaling and telemetry. A
// random UUID is used otherwise.
func WithID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

// WithContext sets the parent of the context handed to deferred validators
// and submit callbacks.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// WithPreserveData keeps field data when a field unregisters.
func WithPreserveData(preserve bool) Option {
	return func(c *config) {
		c.preserveData = preserve
	}
}

// WithInitialValues sets the starting values. They also become the
// defaults unless WithDefaultValues is given.
func WithInitialValues(values Values) Option {
	return func(c *config) {
		c.initialValues = values
	}
}

// WithDefaultValues sets the values restored by Reset.
func WithDefaultValues(values Values) Option {
	return func(c *config) {
		c.defaultValues = values
	}
}

// WithValidations sets per-field validators. Ignored when a schema is set.
func WithValidations(v Validations) Option {
	return func(c *config) {
		c.validations = v
	}
}

// WithSchema validates the whole form with one validator. It takes
// precedence over per-field validators.
func WithSchema(schema Validator) Option {
	return func(c *config) {
		c.schema = schema
	}
}

// WithSubmit sets the submit callback.
func WithSubmit(fn SubmitFunc) Option {
	return func(c *config) {
		c.onSubmit = fn
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObservability installs lifecycle hooks.
func WithObservability(obs Observability) Option {
	return func(c *config) {
		c.observability = obs
	}
}

// WithJournal records user actions so a form can be rebuilt with Replay. A
// nil journal, including a nil pointer of a Journal type, disables
// recording.
func WithJournal(j Journal) Option {
	return func(c *config) {
		if isNilJournal(j) {
			c.journal = nil
			return
		}
		c.journal = j
	}
}

func isNilJournal(j Journal) bool {
	if j == nil {
		return true
	}
	v := reflect.ValueOf(j)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// WithStaleValidationGuard discards a deferred validation result when a
// newer validation of the same field started after it. Without it the last
// result to settle wins.
func WithStaleValidationGuard() Option {
	return func(c *config) {
		c.staleGuard = true
	}
}

// WithPanicHandler is called when a synchronous validator panics. The field
// is marked invalid either way.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *config) {
		c.panicHandler = h
	}
}
