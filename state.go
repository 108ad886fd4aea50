package stateform

import (
	"maps"
	"reflect"
	"sort"
	"unsafe"

	"github.com/tiendc/go-deepcopy"
)

// Value is a single field value: bool, number, string, a slice of those or a
// nested map[string]any.
type Value = any

// Values maps field names to their values.
type Values map[string]Value

// Errors maps field names to their last computed validation result.
type Errors map[string]FieldError

// FieldError is the validation result of one field.
type FieldError struct {
	HasError bool   `json:"hasError"`
	Message  string `json:"errorMessage,omitempty"`
	// Async marks a validation whose result has not arrived yet.
	Async bool `json:"async,omitempty"`
}

type noDefault struct{}

func (noDefault) MarshalJSON() ([]byte, error) {
	return []byte(`"` + noDefaultToken + `"`), nil
}

const noDefaultToken = "@@stateform/no-default"

// NoDefault can be used as a default value to exclude a field from Reset:
// the field keeps its current value.
var NoDefault Value = noDefault{}

// IsNoDefault reports whether v is the NoDefault sentinel.
func IsNoDefault(v Value) bool {
	_, ok := v.(noDefault)
	return ok
}

// State is an immutable snapshot of a form. A transition never modifies a
// published snapshot or any map it references; callers must not either.
type State struct {
	Values        Values          `json:"values"`
	DefaultValues Values          `json:"defaultValues"`
	Validations   Validations     `json:"-"`
	Schema        Validator       `json:"-"`
	Errors        Errors          `json:"errors"`
	Touched       map[string]bool `json:"touched"`
	Registered    map[string]bool `json:"registered"`

	// ValidationsNeeded lists fields waiting for validation, in request order.
	ValidationsNeeded []string `json:"validationsNeeded,omitempty"`

	Submitable   bool `json:"submitable"`
	HasErrors    bool `json:"hasErrors"`
	IsSubmitting bool `json:"isSubmitting"`
	PreserveData bool `json:"preserveData"`
}

// newState builds the initial snapshot. Initial values double as defaults
// when no defaults are given.
func newState(cfg *config) *State {
	values := copyValues(cfg.initialValues)
	defaults := cfg.defaultValues
	if defaults == nil {
		defaults = cfg.initialValues
	}

	s := &State{
		Values:        values,
		DefaultValues: copyValues(defaults),
		Validations:   Validations{},
		Schema:        cfg.schema,
		Errors:        Errors{},
		Touched:       map[string]bool{},
		Registered:    map[string]bool{},
		PreserveData:  cfg.preserveData,
	}
	maps.Copy(s.Validations, cfg.validations)
	recomputeFlags(s)
	return s
}

// recomputeFlags derives HasErrors and Submitable from Errors and
// IsSubmitting. It is the only place these flags are written.
func recomputeFlags(s *State) {
	submitable := !s.IsSubmitting
	hasErrors := false
	for _, e := range s.Errors {
		submitable = submitable && !e.Async && !e.HasError
		hasErrors = hasErrors || e.HasError
	}
	s.HasErrors = hasErrors
	s.Submitable = submitable
}

// FieldNames returns the names of all fields with a value, sorted.
func (s *State) FieldNames() []string {
	names := make([]string, 0, len(s.Values))
	for name := range s.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the current value of a field.
func (s *State) Value(name string) (Value, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Error returns the error record of a field.
func (s *State) Error(name string) (FieldError, bool) {
	e, ok := s.Errors[name]
	return e, ok
}

// withEntry returns m unchanged when key already maps to an equal value,
// otherwise a copy of m with key set.
func withEntry[V any](m map[string]V, key string, value V, equal func(a, b V) bool) map[string]V {
	if old, ok := m[key]; ok && equal(old, value) {
		return m
	}
	out := make(map[string]V, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// withoutEntry returns m unchanged when key is absent, otherwise a copy
// without key.
func withoutEntry[V any](m map[string]V, key string) map[string]V {
	if _, ok := m[key]; !ok {
		return m
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func sameValue(a, b Value) bool {
	if IsNoDefault(a) || IsNoDefault(b) {
		return IsNoDefault(a) && IsNoDefault(b)
	}
	return reflect.DeepEqual(a, b)
}

func sameBool(a, b bool) bool { return a == b }

func sameError(a, b FieldError) bool { return a == b }

// sameValidation compares descriptors by identity. Functions are never
// equal, so setting a function validator always produces a new map.
func sameValidation(a, b Validation) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// copyValues deep copies values so nested maps and slices are never shared
// between the caller and a snapshot.
func copyValues(src Values) Values {
	out := make(Values, len(src))
	for k, v := range src {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v Value) Value {
	switch v.(type) {
	case nil, bool, string, int, int64, float64, noDefault:
		return v
	}
	var out Value
	if err := deepcopy.Copy(&out, &v); err != nil {
		return v
	}
	return out
}

func appendNeeded(needed []string, names ...string) []string {
	out := make([]string, 0, len(needed)+len(names))
	out = append(out, needed...)
	return append(out, names...)
}

func reflectPointer(m any) unsafe.Pointer {
	return reflect.ValueOf(m).UnsafePointer()
}
