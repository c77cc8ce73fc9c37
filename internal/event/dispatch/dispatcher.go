package dispatch

import (
	"context"
	"time"
)

// Handler is a callback the dispatcher can invoke. The subject is whatever
// the caller is dispatching (an event, a task registration) and is passed
// through to panic handlers untouched.
type Handler interface {
	Handle(ctx context.Context, subject any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, subject any) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, subject any) error {
	return f(ctx, subject)
}

// Dispatcher runs a handler and reports the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, subject any, handler Handler) Result
}

// Result represents the outcome of a single invocation.
type Result struct {
	// Success is true if the handler returned nil without panicking.
	Success bool

	// Error is the error returned by the handler, if any.
	Error error

	// Panicked is true if the handler panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the handler took to execute.
	Duration time.Duration

	// Skipped is true if the handler was not executed because the context
	// was already done.
	Skipped bool
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// Err folds the result into a single error. A panic becomes a *PanicError.
func (r Result) Err() error {
	switch {
	case r.Panicked:
		return &PanicError{Value: r.PanicValue, Stack: r.PanicStack}
	case r.Error != nil:
		return r.Error
	}
	return nil
}

// PanicHandler is called when a handler panics. It receives the subject being
// processed, the panic value, and the stack trace.
type PanicHandler func(subject any, panicValue any, stack []byte)
