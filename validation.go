package stateform

import (
	"context"
	"fmt"
	"reflect"
)

// Validation describes how a field is validated. Accepted forms:
//
//	bool                                   fixed result, true means error
//	string, *string, nil                   error message, empty means valid
//	error                                  error message from Error()
//	AsyncValidation                        result arrives through another path
//	Deferred                               settles later, nil error means valid
//	Validator                              field-scoped capability, run deferred
//	func() T, func(Value) T                evaluated, then classified as T
//	func(V) T                              called when the value fits V
//	func(context.Context, Value) error     run deferred in its own goroutine
//
// T is any of the non-function forms above. A bool or string kind counts as
// bool or string. Anything else is rejected with ErrUnsupportedValidation.
type Validation = any

// Validations maps field names to validators.
type Validations map[string]Validation

// Validator is a validation capability. A whole-form schema receives the
// Values map; a field-scoped validator receives the field value.
type Validator interface {
	Validate(ctx context.Context, value any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, value any) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, value any) error {
	return f(ctx, value)
}

// FieldLister is implemented by schemas that know which fields they check.
// Listed fields get an explicit "no error" record when they pass.
type FieldLister interface {
	Fields() []string
}

type asyncValidation struct{}

// AsyncValidation is returned by a validator to mark its field pending while
// the result is delivered separately, typically through SetError.
var AsyncValidation Validation = asyncValidation{}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomeMessage is a message result: an empty message means valid.
	OutcomeMessage OutcomeKind = iota
	// OutcomeBool is a boolean result: true means error.
	OutcomeBool
	// OutcomeDeferred settles later through Deferred.
	OutcomeDeferred
	// OutcomePending is the AsyncValidation sentinel.
	OutcomePending
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMessage:
		return "message"
	case OutcomeBool:
		return "bool"
	case OutcomeDeferred:
		return "deferred"
	case OutcomePending:
		return "pending"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the classified result of running one validator.
type Outcome struct {
	Kind     OutcomeKind
	HasError bool
	Message  string
	Deferred Deferred
}

// Async reports whether the outcome leaves the field pending.
func (o Outcome) Async() bool {
	return o.Kind == OutcomeDeferred || o.Kind == OutcomePending
}

// FieldError returns the record dispatched for a synchronous outcome.
func (o Outcome) FieldError() FieldError {
	if o.Async() {
		return FieldError{Async: true}
	}
	return FieldError{HasError: o.HasError, Message: o.Message}
}

// Classify evaluates v against value and tags the result. Functions are
// called first; the result is then matched in this order: AsyncValidation,
// Deferred, Validator, bool, error, message.
func Classify(ctx context.Context, v Validation, value Value) Outcome {
	return classifyResult(ctx, evaluate(ctx, v, value), value)
}

func evaluate(ctx context.Context, v Validation, value Value) any {
	switch fn := v.(type) {
	case func() bool:
		return fn()
	case func(Value) bool:
		return fn(value)
	case func(Value) string:
		return fn(value)
	case func(Value) *string:
		return fn(value)
	case func(Value) error:
		return fn(value)
	case func(Value) Deferred:
		return fn(value)
	case func(Value) Validator:
		return fn(value)
	case func() Validator:
		return fn()
	case func() any:
		return fn()
	case func(Value) any:
		return fn(value)
	case func(context.Context, Value) error:
		return Go(ctx, func(ctx context.Context) error { return fn(ctx, value) })
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		return call(rv, value)
	}
	return v
}

// call runs a function validator whose signature evaluate does not list,
// such as func(string) bool. A nil value is passed as the parameter's zero
// value.
func call(fn reflect.Value, value Value) any {
	t := fn.Type()
	if err := checkFunc(t); err != nil {
		panic(err)
	}
	if fn.IsNil() {
		return nil
	}
	var args []reflect.Value
	if t.NumIn() == 1 {
		in := t.In(0)
		switch {
		case value == nil:
			args = append(args, reflect.Zero(in))
		case reflect.TypeOf(value).AssignableTo(in):
			args = append(args, reflect.ValueOf(value))
		default:
			panic(fmt.Errorf("%w: %s cannot take a %T value", ErrUnsupportedValidation, t, value))
		}
	}
	return fn.Call(args)[0].Interface()
}

func checkFunc(t reflect.Type) error {
	if t.NumIn() > 1 || t.IsVariadic() || t.NumOut() != 1 {
		return fmt.Errorf("%w: %s", ErrUnsupportedValidation, t)
	}
	return checkResult(t.Out(0))
}

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	validatorType = reflect.TypeOf((*Validator)(nil)).Elem()
	deferredType  = reflect.TypeOf((*Deferred)(nil)).Elem()
	stringPtrType = reflect.TypeOf((*string)(nil))
)

// checkResult reports whether a function result of type t can be
// classified.
func checkResult(t reflect.Type) error {
	switch {
	case t.Kind() == reflect.Interface:
		// any, error, Validator, Deferred: decided per call.
		return nil
	case t.Kind() == reflect.Bool, t.Kind() == reflect.String, t == stringPtrType:
		return nil
	case t.Implements(errorType), t.Implements(validatorType), t.Implements(deferredType):
		return nil
	}
	return fmt.Errorf("%w: result type %s", ErrUnsupportedValidation, t)
}

// CheckValidation reports whether v has a shape Classify accepts. Parameter
// types of single-argument functions are checked per call, since they depend
// on the field value.
func CheckValidation(v Validation) error {
	switch v.(type) {
	case nil, asyncValidation, bool, string, *string, error, Deferred, Validator,
		func(context.Context, Value) error:
		return nil
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Func {
		return checkFunc(t)
	}
	if err := checkResult(t); err != nil {
		return fmt.Errorf("%w: %T", ErrUnsupportedValidation, v)
	}
	return nil
}

func classifyResult(ctx context.Context, rc any, value Value) Outcome {
	switch r := rc.(type) {
	case asyncValidation:
		return Outcome{Kind: OutcomePending}
	case Deferred:
		if isNilDeferred(r) {
			return Outcome{Kind: OutcomeMessage}
		}
		return Outcome{Kind: OutcomeDeferred, Deferred: r}
	case Validator:
		return Outcome{Kind: OutcomeDeferred, Deferred: Go(ctx, func(ctx context.Context) error {
			return r.Validate(ctx, value)
		})}
	case bool:
		return Outcome{Kind: OutcomeBool, HasError: r}
	case error:
		return messageOutcome(r.Error())
	case string:
		return messageOutcome(r)
	case *string:
		if r == nil {
			return Outcome{Kind: OutcomeMessage}
		}
		return messageOutcome(*r)
	case nil:
		return Outcome{Kind: OutcomeMessage}
	}
	switch rv := reflect.ValueOf(rc); rv.Kind() {
	case reflect.Bool:
		return Outcome{Kind: OutcomeBool, HasError: rv.Bool()}
	case reflect.String:
		return messageOutcome(rv.String())
	}
	panic(fmt.Errorf("%w: %T", ErrUnsupportedValidation, rc))
}

func messageOutcome(msg string) Outcome {
	return Outcome{Kind: OutcomeMessage, HasError: msg != "", Message: msg}
}

func isNilDeferred(d Deferred) bool {
	f, ok := d.(*Future)
	return ok && f == nil
}

// settledError is the record dispatched when a deferred outcome settles.
func settledError(err error) FieldError {
	if err == nil {
		return FieldError{HasError: false}
	}
	return FieldError{HasError: true, Message: err.Error()}
}
