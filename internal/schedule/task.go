package schedule

import (
	"context"
	"time"
)

const (
	// OneShot is the interval of a task that fires once and is removed.
	OneShot time.Duration = -1

	// NoDelay makes a task eligible immediately after registration.
	NoDelay time.Duration = 0
)

// Task is a unit of scheduled work. now is the time the run was started and
// elapsed is the time since registration on the first run, or since the
// previous run afterwards.
type Task interface {
	Run(ctx context.Context, now time.Time, elapsed time.Duration) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, now time.Time, elapsed time.Duration) error

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context, now time.Time, elapsed time.Duration) error {
	return f(ctx, now, elapsed)
}

// Func adapts a callback that cannot fail.
func Func(fn func(now time.Time, elapsed time.Duration)) Task {
	if fn == nil {
		return nil
	}
	return TaskFunc(func(_ context.Context, now time.Time, elapsed time.Duration) error {
		fn(now, elapsed)
		return nil
	})
}

// State is the lifecycle position of a registration.
type State int32

const (
	// TaskPending is registered and has never run.
	TaskPending State = iota

	// TaskActive has run at least once and is still scheduled.
	TaskActive

	// TaskRemoved is no longer scheduled.
	TaskRemoved
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskActive:
		return "active"
	case TaskRemoved:
		return "removed"
	default:
		return "unknown"
	}
}
