package stateform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Form owns the state of one form instance. Actions are applied one at a
// time in dispatch order; validation and submission run as side effects of
// the committed state.
type Form struct {
	id     string
	cfg    *config
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	obs    Observability

	mu       sync.Mutex
	idle     *sync.Cond
	state    *State
	queue    []Action
	draining bool
	// pending counts deferred validations and submissions not yet settled.
	pending int

	claimed     map[string]bool
	generations map[string]uint64

	subscribers map[uint64]func(*State)
	nextSub     uint64

	submission *submissionLifecycle
}

// New creates a form and runs the initial validation pass over every field
// with an initial value.
func New(opts ...Option) *Form {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(cfg.ctx)
	f := &Form{
		id:          cfg.id,
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		logger:      cfg.logger.With(zap.String("form", cfg.id)),
		obs:         cfg.observability,
		state:       newState(cfg),
		claimed:     make(map[string]bool),
		generations: make(map[string]uint64),
		subscribers: make(map[uint64]func(*State)),
	}
	f.idle = sync.NewCond(&f.mu)
	f.submission = newSubmissionLifecycle(f.logger)
	if err := checkValidations(cfg.validations); err != nil {
		f.logger.Error("unsupported validation", zap.Error(err))
	}

	initial := f.state
	f.validate(initial.FieldNames(), initial)
	return f
}

// ID returns the form identifier.
func (f *Form) ID() string {
	return f.id
}

// State returns the latest committed snapshot.
func (f *Form) State() *State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Dispatch queues an action. If no other goroutine is applying actions, the
// caller applies the queue before returning; otherwise the active goroutine
// picks the action up in order.
func (f *Form) Dispatch(a Action) {
	f.mu.Lock()
	f.queue = append(f.queue, a)
	if f.draining {
		f.mu.Unlock()
		return
	}
	f.draining = true
	f.mu.Unlock()

	f.drain()
}

func (f *Form) drain() {
	defer func() {
		if r := recover(); r != nil {
			f.mu.Lock()
			f.draining = false
			f.idle.Broadcast()
			f.mu.Unlock()
			panic(r)
		}
	}()

	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.draining = false
			f.idle.Broadcast()
			f.mu.Unlock()
			return
		}
		a := f.queue[0]
		f.queue[0] = Action{}
		f.queue = f.queue[1:]
		f.mu.Unlock()

		f.step(a)
	}
}

// step reduces one action and runs the side effects of the result.
func (f *Form) step(a Action) {
	ctx := f.ctx
	if f.obs != nil {
		ctx = f.obs.OnDispatchStart(ctx, a.Type)
	}

	f.mu.Lock()
	prev := f.state
	next := Reduce(prev, a)
	validated := next
	var needed []string
	if len(next.ValidationsNeeded) > 0 {
		needed = next.ValidationsNeeded
		next = Reduce(next, ClearValidationsNeeded())
	}
	f.state = next
	f.mu.Unlock()

	changed := next != prev
	if f.obs != nil {
		f.obs.OnDispatchComplete(ctx, changed)
	}
	if ce := f.logger.Check(zap.DebugLevel, "action applied"); ce != nil {
		ce.Write(
			zap.String("action", string(a.Type)),
			zap.Bool("changed", changed),
			zap.Bool("submitable", next.Submitable),
			zap.Bool("has_errors", next.HasErrors),
		)
	}
	if changed {
		f.record(a)
	}

	if len(needed) > 0 {
		f.validate(needed, validated)
	}

	started := next.IsSubmitting && !prev.IsSubmitting
	if a.reply != nil && !started {
		if prev.IsSubmitting {
			a.reply.Resolve(ErrSubmitInProgress)
		} else {
			a.reply.Resolve(ErrNotSubmitable)
		}
	}
	if started {
		f.startSubmit(next, a.reply)
	}

	if changed {
		f.notify(next)
	}
}

// Subscribe calls fn with every committed snapshot that differs from the
// previous one. fn runs on the goroutine applying actions and may dispatch,
// but must not call Wait.
func (f *Form) Subscribe(fn func(*State)) (cancel func()) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}
}

func (f *Form) notify(s *State) {
	f.mu.Lock()
	subs := make([]func(*State), 0, len(f.subscribers))
	for i := uint64(0); i < f.nextSub; i++ {
		if fn, ok := f.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Wait blocks until the action queue is empty and every deferred validation
// and submission has settled. It must not be called from a validator,
// submit callback or subscriber.
func (f *Form) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.draining || f.pending > 0 || len(f.queue) > 0 {
		f.idle.Wait()
	}
}

// Close cancels the context of outstanding deferred validations and
// submissions. Results arriving after Close are dropped.
func (f *Form) Close() error {
	f.cancel()
	return nil
}

func (f *Form) addPending() {
	f.mu.Lock()
	f.pending++
	f.mu.Unlock()
}

func (f *Form) donePending() {
	f.mu.Lock()
	f.pending--
	f.idle.Broadcast()
	f.mu.Unlock()
}

// Register mounts a field. initial is used when the form has no value for
// name yet, def is restored by Reset. Registering a name twice without
// unregistering it returns ErrAlreadyRegistered.
func (f *Form) Register(name string, initial, def Value, v Validation) (*Field, error) {
	if f.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if err := CheckValidation(v); err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	f.mu.Lock()
	if f.claimed[name] {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	f.claimed[name] = true
	f.mu.Unlock()

	f.Dispatch(Register(name, Control{Value: initial, DefaultValue: def, Validation: v}))
	return &Field{form: f, name: name, initial: initial}, nil
}

// Unregister unmounts a field. Without preserved data the field value,
// default, error and touched flag are dropped.
func (f *Form) Unregister(name string) {
	f.mu.Lock()
	delete(f.claimed, name)
	f.mu.Unlock()

	f.Dispatch(Unregister(name))
}

// SetValue updates a field value and schedules its validation.
func (f *Form) SetValue(name string, v Value) {
	f.Dispatch(SetValue(name, v))
}

// Touch marks a field as touched.
func (f *Form) Touch(name string) {
	if f.State().Touched[name] {
		return
	}
	f.Dispatch(Touch(name))
}

// TouchAll marks every field as touched.
func (f *Form) TouchAll() {
	f.Dispatch(TouchAll())
}

// SetError sets a field error from outside the validators. An empty
// message clears the error.
func (f *Form) SetError(name, message string) {
	f.Dispatch(SetError(name, FieldError{HasError: message != "", Message: message}))
}

// UpdateValidations merges validators into the form. Nothing is merged when
// one of them has an unsupported shape.
func (f *Form) UpdateValidations(v Validations) error {
	if err := checkValidations(v); err != nil {
		return err
	}
	f.Dispatch(UpdateValidations(v))
	return nil
}

func checkValidations(v Validations) error {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := CheckValidation(v[name]); err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ReadError returns the error message of a field and whether the field
// currently has an error.
func (f *Form) ReadError(name string) (string, bool) {
	e, ok := f.State().Errors[name]
	if !ok {
		return "", false
	}
	return e.Message, e.HasError
}

// Reset restores default values and clears touched flags.
func (f *Form) Reset() {
	f.Dispatch(Reset())
}

// SubmitState is the submit view of a form.
type SubmitState struct {
	Submitable   bool
	IsSubmitting bool

	form *Form
}

// Submit starts a submission, see Form.Submit.
func (s SubmitState) Submit() *Future {
	return s.form.Submit()
}

// SubmitState returns the current submit flags.
func (f *Form) SubmitState() SubmitState {
	s := f.State()
	return SubmitState{Submitable: s.Submitable, IsSubmitting: s.IsSubmitting, form: f}
}

// Submit requests a submission. The returned Future settles with the
// submit callback's error once the submission is over, or right away with
// ErrNotSubmitable or ErrSubmitInProgress.
func (f *Form) Submit() *Future {
	if f.ctx.Err() != nil {
		return Resolved(ErrClosed)
	}
	reply := NewFuture()
	a := SetSubmitting(true)
	a.reply = reply
	f.Dispatch(a)
	return reply
}

// Submission returns the submission lifecycle state, SubmissionIdle or
// SubmissionSubmitting.
func (f *Form) Submission() string {
	return f.submission.current()
}

func (f *Form) startSubmit(s *State, reply *Future) {
	if err := f.submission.begin(f.ctx); err != nil {
		f.logger.Warn("submission already in flight", zap.Error(err))
		if reply != nil {
			reply.Resolve(ErrSubmitInProgress)
		}
		return
	}

	ctx := f.ctx
	if f.obs != nil {
		ctx = f.obs.OnSubmitStart(ctx, f.id)
	}
	start := time.Now()

	if f.cfg.onSubmit == nil {
		f.finishSubmit(ctx, start, nil, reply)
		return
	}

	d := f.callSubmit(ctx, copyValues(s.Values))
	if d == nil || isNilDeferred(d) {
		f.finishSubmit(ctx, start, nil, reply)
		return
	}

	f.addPending()
	go func() {
		defer f.donePending()
		err := d.Await(f.ctx)
		f.finishSubmit(ctx, start, err, reply)
	}()
}

func (f *Form) callSubmit(ctx context.Context, values Values) (d Deferred) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("submit callback panicked", zap.Any("panic", r))
			d = Resolved(&PanicError{Value: r})
		}
	}()
	return f.cfg.onSubmit(ctx, values)
}

// finishSubmit leaves the submitting lifecycle state before clearing
// IsSubmitting, so a new submission can start as soon as the flag drops.
func (f *Form) finishSubmit(ctx context.Context, start time.Time, err error, reply *Future) {
	f.submission.settle(ctx)
	if f.obs != nil {
		f.obs.OnSubmitComplete(ctx, time.Since(start), err)
	}
	if err != nil {
		f.logger.Info("submission failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
	} else {
		f.logger.Debug("submission finished", zap.Duration("duration", time.Since(start)))
	}

	f.Dispatch(SetSubmitting(false))
	if reply != nil {
		reply.Resolve(err)
	}
}

func (f *Form) nextGeneration(field string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations[field]++
	return f.generations[field]
}

func (f *Form) currentGeneration(field string, gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generations[field] == gen
}
