package dispatch

import (
	"errors"
	"fmt"
)

// ErrPanicked matches any PanicError via errors.Is.
var ErrPanicked = errors.New("callback panicked")

// PanicError carries a recovered panic as an error value.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the goroutine stack captured at recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("callback panicked: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrPanicked.
func (e *PanicError) Is(target error) bool {
	return target == ErrPanicked
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
