package event

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/pulse/internal/event/dispatch"
)

// Sentinel errors for the event bus.
var (
	// ErrQueueFull is returned when a bounded queue cannot accept more events.
	ErrQueueFull = errors.New("event queue is full")

	// ErrNilEvent is returned when a nil event is enqueued.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrNilListener is returned when a nil listener is registered or unregistered.
	ErrNilListener = errors.New("listener cannot be nil")

	// ErrListenerNotComparable is returned for listeners that cannot be
	// compared by identity, such as maps or slices.
	ErrListenerNotComparable = errors.New("listener is not comparable")

	// ErrInvalidPriority is returned for names outside the nine levels.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrHandlerPanic matches handler panics reported as *HandlerError.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError describes a failed handler invocation.
type HandlerError struct {
	// EventID identifies the event being dispatched.
	EventID uuid.UUID

	// EventType is the event's concrete type name.
	EventType string

	// Handler names the capability, e.g. "*app.Auditor.OnSaved".
	Handler string

	// Priority is the binding's priority.
	Priority Priority

	// Err is the returned error or a *dispatch.PanicError.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s (%s) failed on %s %s: %v",
		e.Handler, e.Priority, e.EventType, e.EventID, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Is matches ErrHandlerPanic when the handler panicked.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerPanic && errors.Is(e.Err, dispatch.ErrPanicked)
}
