package event

import (
	"fmt"
	"strings"
	"time"
)

// Priority determines handler execution order. Lower values execute first.
type Priority int

const (
	PriorityFirst Priority = iota
	PriorityEarliest
	PriorityEarlier
	PriorityEarly
	PriorityNormal
	PriorityLate
	PriorityLater
	PriorityLatest
	PriorityLast
)

var priorityNames = [...]string{
	"first", "earliest", "earlier", "early", "normal", "late", "later", "latest", "last",
}

// String returns the lower-case priority name.
func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the nine defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityFirst && p <= PriorityLast
}

// ParsePriority converts a priority name back into a Priority.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// Stats contains bus statistics.
type Stats struct {
	// EventsEnqueued is the number of events accepted by Enqueue.
	EventsEnqueued uint64

	// EventsDispatched is the number of completed dispatch cycles.
	EventsDispatched uint64

	// EventsDropped counts events discarded by ClearQueue.
	EventsDropped uint64

	// EventsRejected counts Enqueue calls refused with ErrQueueFull.
	EventsRejected uint64

	// HandlersExecuted is the total number of handler invocations.
	HandlersExecuted uint64

	// HandlerErrors is the number of invocations that returned an error.
	HandlerErrors uint64

	// HandlerPanics is the number of invocations that panicked.
	HandlerPanics uint64

	// AvgHandlerTime is the mean handler execution time.
	AvgHandlerTime time.Duration

	// Bindings is the current registry size.
	Bindings int

	// QueueDepth is the number of events waiting.
	QueueDepth int
}
