package stateform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoForm is returned when a field operation finds no form in its
	// context.
	ErrNoForm = errors.New("stateform: form context not found")

	// ErrAlreadyRegistered is returned when a field name is registered twice
	// without being unregistered in between.
	ErrAlreadyRegistered = errors.New("stateform: field already registered")

	// ErrNotRegistered is returned by field handles used after Unregister.
	ErrNotRegistered = errors.New("stateform: field not registered")

	// ErrNotSubmitable settles a submit request made while the form has
	// errors or pending validations.
	ErrNotSubmitable = errors.New("stateform: form is not submitable")

	// ErrSubmitInProgress settles a submit request made while another
	// submission is in flight.
	ErrSubmitInProgress = errors.New("stateform: submission already in progress")

	// ErrClosed is returned by operations on a closed form.
	ErrClosed = errors.New("stateform: form closed")

	// ErrUnsupportedValidation reports a validator of a shape Classify cannot
	// evaluate, e.g. func(int, int) bool.
	ErrUnsupportedValidation = errors.New("stateform: unsupported validation")
)

// Issue is one failed schema rule.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaError is returned by schema validators that check several fields at
// once. Issues lists every failure, not just the first.
type SchemaError struct {
	Issues []Issue
}

// Add appends an issue.
func (e *SchemaError) Add(path, message string) {
	e.Issues = append(e.Issues, Issue{Path: path, Message: message})
}

// AsError returns nil when no issue was collected.
func (e *SchemaError) AsError() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

func (e *SchemaError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "stateform: no validation errors"
	case 1:
		return e.Issues[0].Message
	}
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		msgs = append(msgs, fmt.Sprintf("%s: %s", is.Path, is.Message))
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Issues), strings.Join(msgs, "; "))
}
