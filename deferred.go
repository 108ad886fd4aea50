package stateform

import (
	"context"
	"fmt"
	"sync"
)

// Deferred is a result that is not available yet. Await blocks until the
// result settles or ctx is done; a nil error means success.
type Deferred interface {
	Await(ctx context.Context) error
}

// Future is the Deferred implementation used throughout the package.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture returns an unsettled Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future already settled with err.
func Resolved(err error) *Future {
	f := NewFuture()
	f.Resolve(err)
	return f
}

// Go runs fn in a new goroutine and returns a Future settled with its
// result. A panic inside fn settles the Future with a *PanicError.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Future {
	f := NewFuture()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.Resolve(&PanicError{Value: r})
			}
		}()
		f.Resolve(fn(ctx))
	}()
	return f
}

// Resolve settles the Future. Only the first call has an effect.
func (f *Future) Resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the Future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await implements Deferred.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the settled error, or nil while the Future is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// PanicError carries a value recovered from a panicking validator or submit
// callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
