package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Executor runs one handler with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
	now          func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.panicHandler = h
	}
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs handler for subject and returns the result. A context that is
// already done skips the handler.
func (e *Executor) Execute(ctx context.Context, subject any, handler Handler) (result Result) {
	if err := ctx.Err(); err != nil {
		return Result{Error: err, Skipped: true}
	}

	start := e.now()
	defer func() {
		result.Duration = e.now().Sub(start)

		r := recover()
		if r == nil {
			return
		}
		stack := debug.Stack()
		result.Success = false
		result.Panicked = true
		result.PanicValue = r
		result.PanicStack = stack
		e.reportPanic(subject, r, stack)
	}()

	if err := handler.Handle(ctx, subject); err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	return result
}

// ExecuteWithTimeout runs handler under a context deadline. The handler must
// observe ctx for the timeout to have any effect.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, subject any, handler Handler, timeout time.Duration) Result {
	if timeout <= 0 {
		return e.Execute(ctx, subject, handler)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.Execute(ctx, subject, handler)
}

// reportPanic calls the panic handler, swallowing any panic it raises itself.
func (e *Executor) reportPanic(subject, value any, stack []byte) {
	if e.panicHandler == nil {
		return
	}
	defer func() { _ = recover() }()
	e.panicHandler(subject, value, stack)
}
