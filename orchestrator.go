package stateform

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// schemaGeneration is the generation key of whole-form schema runs.
const schemaGeneration = "\x00schema"

// validate runs the validators for names against snapshot s. Results are
// dispatched back into the form; deferred results are dispatched when they
// settle.
func (f *Form) validate(names []string, s *State) {
	if len(names) == 0 {
		return
	}
	switch {
	case s.Schema != nil:
		f.validateSchema(s)
	case len(s.Validations) > 0:
		f.validateFields(unique(names), s)
	default:
		batch := make([]Action, 0, len(names))
		for _, name := range unique(names) {
			batch = append(batch, SetError(name, FieldError{}))
		}
		f.Dispatch(BatchErrors(batch...))
	}
}

type pendingResult struct {
	ctx   context.Context
	field string
	gen   uint64
	start time.Time
	d     Deferred
}

func (f *Form) validateFields(names []string, s *State) {
	batch := make([]Action, 0, len(names))
	var deferred []pendingResult

	for _, name := range names {
		v, ok := s.Validations[name]
		if !ok || v == nil {
			continue
		}
		gen := f.nextGeneration(name)
		start := time.Now()
		o := f.classify(name, v, s.Values[name])

		ctx := f.ctx
		if f.obs != nil {
			ctx = f.obs.OnValidationStart(ctx, name, o.Kind)
		}

		switch o.Kind {
		case OutcomeDeferred:
			batch = append(batch, AsyncError(name))
			deferred = append(deferred, pendingResult{ctx: ctx, field: name, gen: gen, start: start, d: o.Deferred})
		case OutcomePending:
			batch = append(batch, AsyncError(name))
			if f.obs != nil {
				f.obs.OnValidationComplete(ctx, time.Since(start), o.FieldError(), nil)
			}
		default:
			fe := o.FieldError()
			batch = append(batch, SetError(name, fe))
			if f.obs != nil {
				f.obs.OnValidationComplete(ctx, time.Since(start), fe, nil)
			}
		}
	}

	if len(batch) > 0 {
		f.Dispatch(BatchErrors(batch...))
	}
	// Settlers start after the batch is queued so a fast result cannot be
	// overwritten by its own pending marker.
	for _, p := range deferred {
		f.settle(p)
	}
}

func (f *Form) settle(p pendingResult) {
	f.addPending()
	go func() {
		defer f.donePending()

		err := p.d.Await(f.ctx)
		fe := settledError(err)
		if f.obs != nil {
			f.obs.OnValidationComplete(p.ctx, time.Since(p.start), fe, err)
		}
		if f.ctx.Err() != nil {
			f.logger.Debug("dropping validation result of closed form", zap.String("field", p.field))
			return
		}
		if f.cfg.staleGuard && !f.currentGeneration(p.field, p.gen) {
			f.logger.Debug("dropping stale validation result",
				zap.String("field", p.field),
				zap.Uint64("generation", p.gen),
			)
			return
		}
		f.Dispatch(SetError(p.field, fe))
	}()
}

// classify runs one validator. A panicking validator marks its field invalid.
func (f *Form) classify(name string, v Validation, value Value) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, ErrUnsupportedValidation) {
				f.logger.Error("unsupported validation", zap.String("field", name), zap.Error(err))
			} else {
				f.logger.Error("validator panicked", zap.String("field", name), zap.Any("panic", r))
			}
			if f.cfg.panicHandler != nil {
				f.cfg.panicHandler(name, r)
			}
			msg := (&PanicError{Value: r}).Error()
			if msg == "" {
				msg = "validator panicked"
			}
			o = messageOutcome(msg)
		}
	}()
	return Classify(f.ctx, v, value)
}

func (f *Form) validateSchema(s *State) {
	gen := f.nextGeneration(schemaGeneration)
	start := time.Now()
	ctx := f.ctx
	if f.obs != nil {
		ctx = f.obs.OnValidationStart(ctx, "", OutcomeDeferred)
	}
	schema, values := s.Schema, s.Values

	d := Go(f.ctx, func(ctx context.Context) error {
		return schema.Validate(ctx, values)
	})

	f.addPending()
	go func() {
		defer f.donePending()

		err := d.Await(f.ctx)
		if f.obs != nil {
			f.obs.OnValidationComplete(ctx, time.Since(start), settledError(err), err)
		}
		if f.ctx.Err() != nil {
			return
		}
		if f.cfg.staleGuard && !f.currentGeneration(schemaGeneration, gen) {
			f.logger.Debug("dropping stale schema result", zap.Uint64("generation", gen))
			return
		}

		var se *SchemaError
		switch {
		case err == nil:
			f.Dispatch(ReplaceErrors(Errors{}))
		case errors.As(err, &se):
			f.Dispatch(ReplaceErrors(schemaErrors(schema, se)))
		default:
			f.logger.Error("schema validation failed", zap.Error(err))
		}
	}()
}

// schemaErrors builds the error map of a failed schema run: every field the
// schema knows starts valid, then each issue marks its path.
func schemaErrors(schema Validator, se *SchemaError) Errors {
	errs := make(Errors)
	if fl, ok := schema.(FieldLister); ok {
		for _, name := range fl.Fields() {
			errs[name] = FieldError{}
		}
	}
	for _, is := range se.Issues {
		errs[is.Path] = FieldError{HasError: true, Message: is.Message}
	}
	return errs
}

func unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
