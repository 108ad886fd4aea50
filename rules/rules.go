// Package rules builds form validators from go-playground/validator tags.
//
//	r := rules.New(map[string]string{
//		"email":    "required,email",
//		"password": "required,min=8",
//	})
//	form := stateform.New(stateform.WithValidations(r.Validations()))
//
// The same Rules value can be installed as a whole-form schema with
// stateform.WithSchema(r).
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jilio/stateform"
)

var defaultMessages = map[string]string{
	"required": "{field} is required",
	"email":    "{field} must be a valid email address",
	"url":      "{field} must be a valid URL",
	"min":      "{field} must be at least {param}",
	"max":      "{field} must be at most {param}",
	"len":      "{field} must have length {param}",
	"gte":      "{field} must be at least {param}",
	"lte":      "{field} must be at most {param}",
	"gt":       "{field} must be greater than {param}",
	"lt":       "{field} must be less than {param}",
	"oneof":    "{field} must be one of [{param}]",
	"numeric":  "{field} must be numeric",
	"alphanum": "{field} must contain only letters and digits",
	"eqfield":  "{field} must match {param}",
}

const fallbackMessage = "{field} failed {tag} validation"

// Rules validates form values against validator tags.
type Rules struct {
	validate *validator.Validate
	tags     map[string]string
	messages map[string]string
	labels   map[string]string
}

// Option configures Rules.
type Option func(*Rules)

// WithValidator uses v instead of a fresh validator, so custom
// validations registered on it are available in tags.
func WithValidator(v *validator.Validate) Option {
	return func(r *Rules) {
		if v != nil {
			r.validate = v
		}
	}
}

// WithMessage overrides the message template of tag. Templates may use
// {field}, {param} and {tag}.
func WithMessage(tag, template string) Option {
	return func(r *Rules) {
		r.messages[tag] = template
	}
}

// WithLabel sets the name a field has in messages. Defaults to the field
// name.
func WithLabel(field, label string) Option {
	return func(r *Rules) {
		r.labels[field] = label
	}
}

// New creates rules from a field name to tag mapping.
func New(tags map[string]string, opts ...Option) *Rules {
	r := &Rules{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tags:     make(map[string]string, len(tags)),
		messages: make(map[string]string, len(defaultMessages)),
		labels:   make(map[string]string),
	}
	for field, tag := range tags {
		r.tags[field] = tag
	}
	for tag, msg := range defaultMessages {
		r.messages[tag] = msg
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fields implements stateform.FieldLister.
func (r *Rules) Fields() []string {
	fields := make([]string, 0, len(r.tags))
	for field := range r.tags {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Check validates a single field value and returns its error message, or
// "" when the value passes.
func (r *Rules) Check(ctx context.Context, field string, value stateform.Value) string {
	tag, ok := r.tags[field]
	if !ok {
		return ""
	}
	return r.message(field, r.validate.VarCtx(ctx, value, tag))
}

// Validations returns synchronous per-field validators for
// stateform.WithValidations.
func (r *Rules) Validations() stateform.Validations {
	out := make(stateform.Validations, len(r.tags))
	for field := range r.tags {
		out[field] = func(value stateform.Value) string {
			return r.Check(context.Background(), field, value)
		}
	}
	return out
}

// Field returns a validator for one field that runs off the dispatching
// goroutine. Use it for tags backed by slow custom validations.
func (r *Rules) Field(field string) stateform.Validator {
	return stateform.ValidatorFunc(func(ctx context.Context, value any) error {
		if msg := r.Check(ctx, field, value); msg != "" {
			return errors.New(msg)
		}
		return nil
	})
}

// Validate implements stateform.Validator for whole-form validation. value
// must be stateform.Values or map[string]any. Failures are reported as a
// *stateform.SchemaError listing every failing field.
func (r *Rules) Validate(ctx context.Context, value any) error {
	var data map[string]any
	switch v := value.(type) {
	case stateform.Values:
		data = v
	case map[string]any:
		data = v
	default:
		return fmt.Errorf("rules: cannot validate %T", value)
	}

	rules := make(map[string]any, len(r.tags))
	for field, tag := range r.tags {
		rules[field] = tag
	}

	failures := r.validate.ValidateMapCtx(ctx, data, rules)
	if len(failures) == 0 {
		return nil
	}

	fields := make([]string, 0, len(failures))
	for field := range failures {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	se := &stateform.SchemaError{}
	for _, field := range fields {
		err, ok := failures[field].(error)
		if !ok {
			continue
		}
		se.Add(field, r.message(field, err))
	}
	return se.AsError()
}

func (r *Rules) message(field string, err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]

	label := field
	if l, ok := r.labels[field]; ok {
		label = l
	}
	tmpl, ok := r.messages[fe.Tag()]
	if !ok {
		tmpl = fallbackMessage
	}
	return strings.NewReplacer(
		"{field}", label,
		"{param}", fe.Param(),
		"{tag}", fe.Tag(),
	).Replace(tmpl)
}

var (
	_ stateform.Validator   = (*Rules)(nil)
	_ stateform.FieldLister = (*Rules)(nil)
)
