package stateform

// ActionType tags an action.
type ActionType string

const (
	ActionRegister               ActionType = "sfc/control/add"
	ActionUnregister             ActionType = "sfc/control/remove"
	ActionUpdateValidations      ActionType = "sfc/updateValidations"
	ActionSetError               ActionType = "sfc/control/error"
	ActionReplaceErrors          ActionType = "sfc/control/errors"
	ActionAsyncError             ActionType = "sfc/control/asyncError"
	ActionBatchErrors            ActionType = "sfc/control/errorsBatch"
	ActionTouch                  ActionType = "sfc/control/touch"
	ActionSetValue               ActionType = "sfc/control/value"
	ActionSetSubmitting          ActionType = "sfc/submitting"
	ActionReset                  ActionType = "sfc/reset"
	ActionTouchAll               ActionType = "sfc/touchall"
	ActionClearValidationsNeeded ActionType = "sfc/clearValidationsNeeded"
)

// Action is a tagged state transition request. Payload type depends on Type.
type Action struct {
	Type    ActionType
	Payload any

	// reply is resolved by the form once a submit request has been handled.
	reply *Future
}

// NewAction builds an action from a type and an optional payload.
func NewAction[P any](t ActionType, payload P) Action {
	return Action{Type: t, Payload: payload}
}

// Control describes a field at registration time.
type Control struct {
	Value        Value      `json:"value"`
	DefaultValue Value      `json:"defaultValue"`
	Validation   Validation `json:"-"`
}

// FieldPayload names a single field.
type FieldPayload struct {
	Name string `json:"name"`
}

// RegisterPayload is the payload of ActionRegister.
type RegisterPayload struct {
	Name    string  `json:"name"`
	Control Control `json:"control"`
}

// ErrorPayload is the payload of ActionSetError.
type ErrorPayload struct {
	Name  string     `json:"name"`
	Error FieldError `json:"error"`
}

// ValuePayload is the payload of ActionSetValue.
type ValuePayload struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Register requests registration of a mounted field.
func Register(name string, c Control) Action {
	return NewAction(ActionRegister, RegisterPayload{Name: name, Control: c})
}

// Unregister requests removal of an unmounted field.
func Unregister(name string) Action {
	return NewAction(ActionUnregister, FieldPayload{Name: name})
}

// UpdateValidations merges validators into the form.
func UpdateValidations(v Validations) Action {
	return NewAction(ActionUpdateValidations, v)
}

// SetError replaces the error record of a field.
func SetError(name string, e FieldError) Action {
	return NewAction(ActionSetError, ErrorPayload{Name: name, Error: e})
}

// AsyncError marks a field as waiting for a deferred validation. It is only
// meaningful inside BatchErrors.
func AsyncError(name string) Action {
	return NewAction(ActionAsyncError, FieldPayload{Name: name})
}

// BatchErrors applies SetError and AsyncError actions as one transition.
func BatchErrors(actions ...Action) Action {
	return NewAction(ActionBatchErrors, actions)
}

// ReplaceErrors replaces the whole error map.
func ReplaceErrors(errs Errors) Action {
	return NewAction(ActionReplaceErrors, errs)
}

// Touch marks a field as touched.
func Touch(name string) Action {
	return NewAction(ActionTouch, FieldPayload{Name: name})
}

// SetValue updates the value of a field.
func SetValue(name string, v Value) Action {
	return NewAction(ActionSetValue, ValuePayload{Name: name, Value: v})
}

// SetSubmitting starts or ends a submission.
func SetSubmitting(submitting bool) Action {
	return NewAction(ActionSetSubmitting, submitting)
}

// Reset restores default values.
func Reset() Action {
	return NewAction[any](ActionReset, nil)
}

// TouchAll marks every known field as touched.
func TouchAll() Action {
	return NewAction[any](ActionTouchAll, nil)
}

// ClearValidationsNeeded empties the validation queue.
func ClearValidationsNeeded() Action {
	return NewAction[any](ActionClearValidationsNeeded, nil)
}
