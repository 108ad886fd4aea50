package stateform

import (
	"context"
	"time"
)

// Observability receives lifecycle hooks from a form. Start hooks return a
// context that is handed back to the matching Complete hook.
type Observability interface {
	// OnDispatchStart is called before an action is reduced.
	OnDispatchStart(ctx context.Context, action ActionType) context.Context
	// OnDispatchComplete is called after the action was reduced. changed is
	// false for no-op transitions.
	OnDispatchComplete(ctx context.Context, changed bool)

	// OnValidationStart is called when a field (or the schema, with field
	// "") starts validating.
	OnValidationStart(ctx context.Context, field string, kind OutcomeKind) context.Context
	// OnValidationComplete is called when the field result is known.
	OnValidationComplete(ctx context.Context, duration time.Duration, result FieldError, err error)

	// OnSubmitStart is called before the submit callback runs.
	OnSubmitStart(ctx context.Context, formID string) context.Context
	// OnSubmitComplete is called when the submission settled.
	OnSubmitComplete(ctx context.Context, duration time.Duration, err error)
}

// MultiObservability fans hooks out to several implementations.
type MultiObservability []Observability

// NewMultiObservability drops nil entries.
func NewMultiObservability(obs ...Observability) MultiObservability {
	out := make(MultiObservability, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiKey struct{}

// Each implementation gets its own derived context; they travel together
// under multiKey.
func (m MultiObservability) split(ctx context.Context) []context.Context {
	if ctxs, ok := ctx.Value(multiKey{}).([]context.Context); ok && len(ctxs) == len(m) {
		return ctxs
	}
	ctxs := make([]context.Context, len(m))
	for i := range ctxs {
		ctxs[i] = ctx
	}
	return ctxs
}

func (m MultiObservability) start(ctx context.Context, fn func(Observability, context.Context) context.Context) context.Context {
	ctxs := make([]context.Context, len(m))
	for i, o := range m {
		ctxs[i] = fn(o, ctx)
	}
	return context.WithValue(ctx, multiKey{}, ctxs)
}

func (m MultiObservability) OnDispatchStart(ctx context.Context, action ActionType) context.Context {
	return m.start(ctx, func(o Observability, ctx context.Context) context.Context {
		return o.OnDispatchStart(ctx, action)
	})
}

func (m MultiObservability) OnDispatchComplete(ctx context.Context, changed bool) {
	for i, c := range m.split(ctx) {
		m[i].OnDispatchComplete(c, changed)
	}
}

func (m MultiObservability) OnValidationStart(ctx context.Context, field string, kind OutcomeKind) context.Context {
	return m.start(ctx, func(o Observability, ctx context.Context) context.Context {
		return o.OnValidationStart(ctx, field, kind)
	})
}

func (m MultiObservability) OnValidationComplete(ctx context.Context, duration time.Duration, result FieldError, err error) {
	for i, c := range m.split(ctx) {
		m[i].OnValidationComplete(c, duration, result, err)
	}
}

func (m MultiObservability) OnSubmitStart(ctx context.Context, formID string) context.Context {
	return m.start(ctx, func(o Observability, ctx context.Context) context.Context {
		return o.OnSubmitStart(ctx, formID)
	})
}

func (m MultiObservability) OnSubmitComplete(ctx context.Context, duration time.Duration, err error) {
	for i, c := range m.split(ctx) {
		m[i].OnSubmitComplete(c, duration, err)
	}
}

var _ Observability = MultiObservability(nil)
