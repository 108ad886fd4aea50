package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jilio/stateform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signupRules(opts ...Option) *Rules {
	return New(map[string]string{
		"email":    "required,email",
		"password": "required,min=8",
		"plan":     "oneof=free pro",
	}, opts...)
}

func TestCheck(t *testing.T) {
	r := signupRules()
	ctx := context.Background()

	tests := []struct {
		field string
		value stateform.Value
		want  string
	}{
		{"email", "", "email is required"},
		{"email", "nope", "email must be a valid email address"},
		{"email", "ada@example.com", ""},
		{"password", "short", "password must be at least 8"},
		{"password", "longenough", ""},
		{"plan", "enterprise", "plan must be one of [free pro]"},
		{"unknown", "anything", ""},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value.(string), func(t *testing.T) {
			assert.Equal(t, tt.want, r.Check(ctx, tt.field, tt.value))
		})
	}
}

func TestMessagesAndLabels(t *testing.T) {
	r := signupRules(
		WithLabel("email", "E-mail"),
		WithMessage("min", "{field} needs {param}+ characters"),
	)
	ctx := context.Background()

	assert.Equal(t, "E-mail is required", r.Check(ctx, "email", ""))
	assert.Equal(t, "password needs 8+ characters", r.Check(ctx, "password", "x"))
}

func TestCustomValidator(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	}))

	r := New(map[string]string{"count": "even"}, WithValidator(v))
	ctx := context.Background()
	assert.Equal(t, "count failed even validation", r.Check(ctx, "count", 3))
	assert.Empty(t, r.Check(ctx, "count", 4))
}

func TestValidateSchema(t *testing.T) {
	r := signupRules()
	ctx := context.Background()

	err := r.Validate(ctx, stateform.Values{"email": "bad", "password": "x", "plan": "free"})
	var se *stateform.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []stateform.Issue{
		{Path: "email", Message: "email must be a valid email address"},
		{Path: "password", Message: "password must be at least 8"},
	}, se.Issues)

	assert.NoError(t, r.Validate(ctx, map[string]any{
		"email": "ada@example.com", "password": "longenough", "plan": "pro",
	}))

	assert.Error(t, r.Validate(ctx, 42))
	assert.Equal(t, []string{"email", "password", "plan"}, r.Fields())
}

func TestFormWithRules(t *testing.T) {
	r := signupRules()

	t.Run("per field", func(t *testing.T) {
		form := stateform.New(
			stateform.WithInitialValues(stateform.Values{"email": "", "password": "", "plan": "free"}),
			stateform.WithValidations(r.Validations()),
		)
		form.Wait()
		msg, ok := form.ReadError("email")
		assert.True(t, ok)
		assert.Equal(t, "email is required", msg)
		assert.False(t, form.State().Submitable)

		form.SetValue("email", "ada@example.com")
		form.SetValue("password", "longenough")
		form.Wait()
		assert.True(t, form.State().Submitable)
	})

	t.Run("deferred field", func(t *testing.T) {
		form := stateform.New(
			stateform.WithInitialValues(stateform.Values{"email": "bad"}),
			stateform.WithValidations(stateform.Validations{"email": r.Field("email")}),
		)
		form.Wait()
		e := form.State().Errors["email"]
		assert.True(t, e.HasError)
		assert.False(t, e.Async)
	})

	t.Run("schema", func(t *testing.T) {
		form := stateform.New(
			stateform.WithInitialValues(stateform.Values{"email": "bad", "password": "longenough", "plan": "pro"}),
			stateform.WithSchema(r),
		)
		form.Wait()

		s := form.State()
		assert.True(t, s.Errors["email"].HasError)
		assert.Equal(t, stateform.FieldError{}, s.Errors["password"])
		assert.Equal(t, stateform.FieldError{}, s.Errors["plan"])
		assert.True(t, s.HasErrors)

		form.SetValue("email", "ada@example.com")
		form.Wait()
		assert.Empty(t, form.State().Errors)
		assert.True(t, form.State().Submitable)
	})
}
