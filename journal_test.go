package stateform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()

	for _, id := range []string{"a", "b", "a"} {
		require.NoError(t, j.Append(ctx, &JournalEntry{FormID: id, Type: ActionTouchAll}))
	}

	pos, err := j.Position(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)

	pos, err = j.Position(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, pos)

	entries, err := j.Load(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Position)

	entries, err = j.Load(ctx, "b", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEncodeDecodeAction(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   Action
	}{
		{
			"register with no default",
			Register("plan", Control{Value: "pro", DefaultValue: NoDefault, Validation: true}),
			Register("plan", Control{Value: "pro", DefaultValue: NoDefault}),
		},
		{"numbers become float64", SetValue("age", 42), SetValue("age", float64(42))},
		{"nested value", SetValue("tags", []any{"a", "b"}), SetValue("tags", []any{"a", "b"})},
		{"nil value", SetValue("x", nil), SetValue("x", nil)},
		{"touch", Touch("a"), Touch("a")},
		{"unregister", Unregister("a"), Unregister("a")},
		{"touch all", TouchAll(), TouchAll()},
		{"reset", Reset(), Reset()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := EncodeAction("form", tt.action)
			require.NoError(t, err)
			assert.Equal(t, "form", e.FormID)
			assert.Equal(t, tt.action.Type, e.Type)

			got, err := DecodeAction(e)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeActionRejectsDerivedState(t *testing.T) {
	for _, a := range []Action{
		SetError("a", FieldError{HasError: true}),
		SetSubmitting(true),
		ReplaceErrors(nil),
		UpdateValidations(nil),
	} {
		assert.False(t, Journaled(a.Type), a.Type)
		_, err := EncodeAction("form", a)
		assert.Error(t, err, a.Type)
	}
}

func TestDecodeActionErrors(t *testing.T) {
	_, err := DecodeAction(&JournalEntry{Type: "sfc/unknown"})
	assert.ErrorContains(t, err, "unknown journal entry type")

	_, err = DecodeAction(&JournalEntry{Type: ActionSetValue, Data: []byte(`{"name":`)})
	assert.Error(t, err)
}

func TestFormRecordsAndReplays(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()

	src := New(WithID("signup"), WithJournal(j), WithValidations(Validations{"email": nonEmpty}))
	_, err := src.Register("email", "", "", nil)
	require.NoError(t, err)
	src.SetValue("email", "a@b.com")
	src.SetValue("email", "a@b.com")
	src.Touch("email")
	src.SetError("email", "taken")
	require.NoError(t, src.Submit().Await(ctx))
	src.Wait()

	entries, err := j.Load(ctx, "signup", 1)
	require.NoError(t, err)
	types := make([]ActionType, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	assert.Equal(t, []ActionType{ActionRegister, ActionSetValue, ActionTouch}, types)

	dst := New(WithValidations(Validations{"email": nonEmpty}))
	last, err := Replay(ctx, dst, j, "signup", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
	dst.Wait()

	s := dst.State()
	assert.Equal(t, Values{"email": "a@b.com"}, s.Values)
	assert.True(t, s.Touched["email"])
	assert.Equal(t, FieldError{}, s.Errors["email"])

	last, err = Replay(ctx, dst, j, "signup", 4)
	require.NoError(t, err)
	assert.Zero(t, last)
}

type failingJournal struct {
	MemoryJournal
	err error
}

func (f *failingJournal) Load(context.Context, string, int64) ([]*JournalEntry, error) {
	return nil, f.err
}

func TestReplayErrors(t *testing.T) {
	ctx := context.Background()

	boom := errors.New("disk gone")
	_, err := Replay(ctx, New(), &failingJournal{err: boom}, "f", 1)
	assert.ErrorIs(t, err, boom)

	j := NewMemoryJournal()
	require.NoError(t, j.Append(ctx, &JournalEntry{FormID: "f", Type: ActionTouchAll}))
	require.NoError(t, j.Append(ctx, &JournalEntry{FormID: "f", Type: "sfc/bogus"}))
	last, err := Replay(ctx, New(), j, "f", 1)
	assert.Error(t, err)
	assert.Equal(t, int64(1), last)
}

func TestWithNilJournal(t *testing.T) {
	tests := []struct {
		name    string
		journal Journal
	}{
		{"nil interface", nil},
		{"nil pointer", (*MemoryJournal)(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := New(WithJournal(tt.journal))
			assert.NotPanics(t, func() {
				form.SetValue("name", "Jane")
				form.Touch("name")
				form.Wait()
			})
			assert.Equal(t, "Jane", form.State().Values["name"])
		})
	}
}
