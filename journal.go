package stateform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Journal persists the user actions applied to forms.
type Journal interface {
	// Append stores entry and assigns its Position.
	Append(ctx context.Context, entry *JournalEntry) error

	// Load returns the entries of formID with Position >= from, in order.
	Load(ctx context.Context, formID string, from int64) ([]*JournalEntry, error)

	// Position returns the highest position stored for formID, 0 if none.
	Position(ctx context.Context, formID string) (int64, error)
}

// JournalEntry is one recorded action.
type JournalEntry struct {
	FormID    string          `json:"formId"`
	Position  int64           `json:"position"`
	Type      ActionType      `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Journaled reports whether actions of type t are recorded. Validation
// results and submission flags are derived state and are not.
func Journaled(t ActionType) bool {
	switch t {
	case ActionRegister, ActionUnregister, ActionSetValue, ActionTouch, ActionTouchAll, ActionReset:
		return true
	}
	return false
}

// EncodeAction builds the journal entry of a. Validators are not encoded.
func EncodeAction(formID string, a Action) (*JournalEntry, error) {
	if !Journaled(a.Type) {
		return nil, fmt.Errorf("action %s is not journaled", a.Type)
	}
	entry := &JournalEntry{FormID: formID, Type: a.Type, Timestamp: time.Now()}
	if a.Payload == nil {
		return entry, nil
	}
	data, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Type, err)
	}
	entry.Data = data
	return entry, nil
}

type encodedControl struct {
	Value        json.RawMessage `json:"value"`
	DefaultValue json.RawMessage `json:"defaultValue"`
}

type encodedRegister struct {
	Name    string         `json:"name"`
	Control encodedControl `json:"control"`
}

type encodedValue struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// DecodeAction rebuilds the action recorded in e. Numbers decode as
// float64, and the NoDefault marker decodes back to NoDefault.
func DecodeAction(e *JournalEntry) (Action, error) {
	switch e.Type {
	case ActionRegister:
		var p encodedRegister
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return Action{}, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		value, err := decodeValue(p.Control.Value)
		if err != nil {
			return Action{}, err
		}
		def, err := decodeValue(p.Control.DefaultValue)
		if err != nil {
			return Action{}, err
		}
		return Register(p.Name, Control{Value: value, DefaultValue: def}), nil

	case ActionSetValue:
		var p encodedValue
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return Action{}, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		value, err := decodeValue(p.Value)
		if err != nil {
			return Action{}, err
		}
		return SetValue(p.Name, value), nil

	case ActionUnregister, ActionTouch:
		var p FieldPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return Action{}, fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return NewAction(e.Type, p), nil

	case ActionTouchAll:
		return TouchAll(), nil

	case ActionReset:
		return Reset(), nil
	}
	return Action{}, fmt.Errorf("unknown journal entry type %q", e.Type)
}

func decodeValue(raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if s, ok := v.(string); ok && s == noDefaultToken {
		return NoDefault, nil
	}
	return v, nil
}

// record appends a to the journal. Failures are logged; the state
// transition has already happened.
func (f *Form) record(a Action) {
	if f.cfg.journal == nil || !Journaled(a.Type) {
		return
	}
	entry, err := EncodeAction(f.id, a)
	if err != nil {
		f.logger.Error("journal encode failed", zap.String("action", string(a.Type)), zap.Error(err))
		return
	}
	if err := f.cfg.journal.Append(context.WithoutCancel(f.ctx), entry); err != nil {
		f.logger.Error("journal append failed", zap.String("action", string(a.Type)), zap.Error(err))
	}
}

// Replay applies the journaled actions of formID to f, starting at
// position from. Validators are not journaled, so fields registered during
// replay only get the validators configured on f.
func Replay(ctx context.Context, f *Form, j Journal, formID string, from int64) (int64, error) {
	entries, err := j.Load(ctx, formID, from)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}

	var last int64
	for _, e := range entries {
		a, err := DecodeAction(e)
		if err != nil {
			return last, fmt.Errorf("replay position %d: %w", e.Position, err)
		}
		f.Dispatch(a)
		last = e.Position
	}
	return last, nil
}

// MemoryJournal keeps entries in memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string][]*JournalEntry
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string][]*JournalEntry)}
}

// Append implements Journal.
func (m *MemoryJournal) Append(_ context.Context, entry *JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Position = int64(len(m.entries[entry.FormID])) + 1
	m.entries[entry.FormID] = append(m.entries[entry.FormID], entry)
	return nil
}

// Load implements Journal.
func (m *MemoryJournal) Load(_ context.Context, formID string, from int64) ([]*JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*JournalEntry
	for _, e := range m.entries[formID] {
		if e.Position >= from {
			out = append(out, e)
		}
	}
	return out, nil
}

// Position implements Journal.
func (m *MemoryJournal) Position(_ context.Context, formID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.entries[formID])), nil
}

var _ Journal = (*MemoryJournal)(nil)
