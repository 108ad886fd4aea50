package stateform

import (
	"maps"
)

// Reduce applies a to prev and returns the next snapshot. It returns prev
// itself when the action changes nothing, so callers can detect no-ops by
// pointer comparison. Unchanged maps are shared with prev.
func Reduce(prev *State, a Action) *State {
	switch a.Type {
	case ActionRegister:
		p, ok := a.Payload.(RegisterPayload)
		if !ok {
			return prev
		}
		return reduceRegister(prev, p)

	case ActionUnregister:
		p, ok := a.Payload.(FieldPayload)
		if !ok {
			return prev
		}
		return reduceUnregister(prev, p.Name)

	case ActionUpdateValidations:
		v, ok := a.Payload.(Validations)
		if !ok || len(v) == 0 {
			return prev
		}
		s := *prev
		s.Validations = make(Validations, len(prev.Validations)+len(v))
		maps.Copy(s.Validations, prev.Validations)
		maps.Copy(s.Validations, v)
		return &s

	case ActionSetError:
		p, ok := a.Payload.(ErrorPayload)
		if !ok {
			return prev
		}
		if old, ok := prev.Errors[p.Name]; ok && old == p.Error {
			return prev
		}
		s := *prev
		s.Errors = withEntry(prev.Errors, p.Name, p.Error, sameError)
		recomputeFlags(&s)
		return &s

	case ActionBatchErrors:
		subs, ok := a.Payload.([]Action)
		if !ok {
			return prev
		}
		return reduceBatch(prev, subs)

	case ActionReplaceErrors:
		errs, ok := a.Payload.(Errors)
		if !ok {
			return prev
		}
		if errs == nil {
			errs = Errors{}
		}
		if maps.Equal(prev.Errors, errs) {
			return prev
		}
		s := *prev
		s.Errors = maps.Clone(errs)
		recomputeFlags(&s)
		return &s

	case ActionSetValue:
		p, ok := a.Payload.(ValuePayload)
		if !ok {
			return prev
		}
		values := withEntry(prev.Values, p.Name, p.Value, sameValue)
		if sameMap(values, prev.Values) {
			return prev
		}
		s := *prev
		s.Values = values
		s.ValidationsNeeded = appendNeeded(prev.ValidationsNeeded, p.Name)
		return &s

	case ActionTouch:
		p, ok := a.Payload.(FieldPayload)
		if !ok || prev.Touched[p.Name] {
			return prev
		}
		s := *prev
		s.Touched = withEntry(prev.Touched, p.Name, true, sameBool)
		return &s

	case ActionSetSubmitting:
		submitting, ok := a.Payload.(bool)
		if !ok {
			return prev
		}
		if submitting && !prev.Submitable {
			return prev
		}
		if prev.IsSubmitting == submitting {
			return prev
		}
		s := *prev
		s.IsSubmitting = submitting
		recomputeFlags(&s)
		return &s

	case ActionReset:
		return reduceReset(prev)

	case ActionTouchAll:
		touched := make(map[string]bool, len(prev.Values))
		for name := range prev.Values {
			touched[name] = true
		}
		if maps.Equal(touched, prev.Touched) {
			return prev
		}
		s := *prev
		s.Touched = touched
		return &s

	case ActionClearValidationsNeeded:
		if len(prev.ValidationsNeeded) == 0 {
			return prev
		}
		s := *prev
		s.ValidationsNeeded = nil
		return &s
	}
	return prev
}

func reduceRegister(prev *State, p RegisterPayload) *State {
	s := *prev
	s.Registered = withEntry(prev.Registered, p.Name, true, sameBool)
	if prev.PreserveData {
		if _, ok := prev.DefaultValues[p.Name]; ok {
			if sameMap(s.Registered, prev.Registered) {
				return prev
			}
			return &s
		}
	}
	if _, ok := prev.DefaultValues[p.Name]; !ok {
		s.DefaultValues = withEntry(prev.DefaultValues, p.Name, copyValue(p.Control.DefaultValue), sameValue)
	}
	if _, ok := prev.Values[p.Name]; !ok {
		s.Values = withEntry(prev.Values, p.Name, p.Control.Value, sameValue)
	}
	if prev.Validations[p.Name] == nil && p.Control.Validation != nil {
		s.Validations = withEntry(prev.Validations, p.Name, p.Control.Validation, sameValidation)
	}
	s.ValidationsNeeded = appendNeeded(prev.ValidationsNeeded, p.Name)
	return &s
}

func reduceUnregister(prev *State, name string) *State {
	s := *prev
	s.Registered = withoutEntry(prev.Registered, name)
	if prev.PreserveData {
		if sameMap(s.Registered, prev.Registered) {
			return prev
		}
		return &s
	}
	s.DefaultValues = withoutEntry(prev.DefaultValues, name)
	s.Values = withoutEntry(prev.Values, name)
	s.Errors = withoutEntry(prev.Errors, name)
	s.Touched = withoutEntry(prev.Touched, name)
	if sameMap(s.Registered, prev.Registered) && sameMap(s.Values, prev.Values) &&
		sameMap(s.DefaultValues, prev.DefaultValues) && sameMap(s.Errors, prev.Errors) &&
		sameMap(s.Touched, prev.Touched) {
		return prev
	}
	recomputeFlags(&s)
	return &s
}

// reduceBatch applies the sub-actions in order, each one seeing the record
// left by the previous, and commits the result as a single transition. Fields
// that end up where they started are dropped, so a batch that changes nothing
// returns prev.
func reduceBatch(prev *State, subs []Action) *State {
	var work Errors
	current := func(name string) (FieldError, bool) {
		if e, ok := work[name]; ok {
			return e, true
		}
		e, ok := prev.Errors[name]
		return e, ok
	}
	set := func(name string, e FieldError) {
		if work == nil {
			work = Errors{}
		}
		work[name] = e
	}

	for _, sub := range subs {
		switch sub.Type {
		case ActionSetError:
			p, ok := sub.Payload.(ErrorPayload)
			if !ok {
				continue
			}
			if old, ok := current(p.Name); ok && old == p.Error {
				continue
			}
			set(p.Name, p.Error)
		case ActionAsyncError:
			p, ok := sub.Payload.(FieldPayload)
			if !ok {
				continue
			}
			old, _ := current(p.Name)
			if old.Async {
				continue
			}
			set(p.Name, FieldError{HasError: false, Message: old.Message, Async: true})
		}
	}

	for name, e := range work {
		if old, ok := prev.Errors[name]; ok && old == e {
			delete(work, name)
		}
	}
	if len(work) == 0 {
		return prev
	}
	s := *prev
	s.Errors = make(Errors, len(prev.Errors)+len(work))
	maps.Copy(s.Errors, prev.Errors)
	maps.Copy(s.Errors, work)
	recomputeFlags(&s)
	return &s
}

func sameMap[V any](a, b map[string]V) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a) != len(b) {
		return false
	}
	return reflectPointer(a) == reflectPointer(b)
}
