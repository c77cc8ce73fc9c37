package schedule

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for task registration.
var (
	// ErrNilTask is returned when a nil task is registered.
	ErrNilTask = errors.New("task cannot be nil")

	// ErrInvalidInterval is returned for a repeating interval that is not positive.
	ErrInvalidInterval = errors.New("repeating interval must be positive")

	// ErrInvalidDelay is returned for a negative delay or more than one delay.
	ErrInvalidDelay = errors.New("delay must be a single non-negative duration")

	// ErrInvalidCron is returned when a cron expression cannot be parsed.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidShardCount is returned when a sharded scheduler has no shards.
	ErrInvalidShardCount = errors.New("shard count must be at least 1")
)

// TaskError describes a failed task run.
type TaskError struct {
	// TaskID identifies the registration.
	TaskID uuid.UUID

	// Shard is the index of the loop that ran the task.
	Shard int

	// Removed is true when the failure caused the task to be unregistered.
	Removed bool

	// Err is the returned error or a *dispatch.PanicError.
	Err error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s on shard %d failed: %v", e.TaskID, e.Shard, e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Err
}
