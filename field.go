package stateform

import "fmt"

// Field is the handle of one registered field.
type Field struct {
	form    *Form
	name    string
	initial Value
}

// Name returns the field name.
func (fd *Field) Name() string {
	return fd.name
}

// Value returns the current value. Before the registration is applied it
// returns the initial value passed to Register.
func (fd *Field) Value() Value {
	if v, ok := fd.form.State().Values[fd.name]; ok {
		return v
	}
	return fd.initial
}

// Set updates the value and schedules validation.
func (fd *Field) Set(v Value) {
	fd.form.SetValue(fd.name, v)
}

// Touch marks the field as touched.
func (fd *Field) Touch() {
	fd.form.Touch(fd.name)
}

// Touched reports whether the field was touched.
func (fd *Field) Touched() bool {
	return fd.form.State().Touched[fd.name]
}

// Error returns the error record of the field.
func (fd *Field) Error() FieldError {
	return fd.form.State().Errors[fd.name]
}

// SetError sets the field error. An empty message clears it.
func (fd *Field) SetError(message string) {
	fd.form.SetError(fd.name, message)
}

// Unregister unmounts the field. The handle must not be used afterwards.
func (fd *Field) Unregister() {
	fd.form.Unregister(fd.name)
}

// FieldView is what a field input renders from.
type FieldView struct {
	Name    string
	Value   Value
	Touched bool
	// Error is only reported once the field was touched.
	Error FieldError
}

// View returns the render view of the field.
func (fd *Field) View() FieldView {
	s := fd.form.State()
	c := FieldView{Name: fd.name, Value: fd.initial, Touched: s.Touched[fd.name]}
	if v, ok := s.Values[fd.name]; ok {
		c.Value = v
	}
	if c.Touched {
		c.Error = s.Errors[fd.name]
	}
	return c
}

// Field returns a handle for a field registered through Register.
func (f *Form) Field(name string) (*Field, error) {
	f.mu.Lock()
	claimed := f.claimed[name]
	f.mu.Unlock()
	if !claimed {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return &Field{form: f, name: name}, nil
}
