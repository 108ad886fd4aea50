package stateform

import (
	"context"
)

type formKey struct{}

// NewContext returns a context carrying f. Field code deeper in a call tree
// finds its form through FromContext.
func NewContext(ctx context.Context, f *Form) context.Context {
	return context.WithValue(ctx, formKey{}, f)
}

// FromContext returns the form stored by NewContext.
func FromContext(ctx context.Context) (*Form, error) {
	f, ok := ctx.Value(formKey{}).(*Form)
	if !ok || f == nil {
		return nil, ErrNoForm
	}
	return f, nil
}

// MustFromContext is like FromContext but panics when no form is found.
func MustFromContext(ctx context.Context) *Form {
	f, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return f
}

// RegisterField registers a field on the form carried by ctx.
func RegisterField(ctx context.Context, name string, initial, def Value, v Validation) (*Field, error) {
	f, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return f.Register(name, initial, def, v)
}
