package app

import (
	"context"
	"reflect"
	"time"

	"github.com/dshills/pulse/internal/event"
	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/schedule"
)

// Heartbeat is published periodically by the heartbeat task.
type Heartbeat struct {
	event.Base

	// Seq counts heartbeats from 1.
	Seq uint64 `json:"seq"`

	// Elapsed is the time since the previous beat.
	Elapsed time.Duration `json:"elapsed"`
}

// Topic makes heartbeats exportable over the bridge.
func (Heartbeat) Topic() string { return "heartbeat" }

// HeartbeatTask enqueues a Heartbeat on every run.
type HeartbeatTask struct {
	bus event.Publisher
	seq uint64
}

// NewHeartbeatTask creates a task publishing to bus.
func NewHeartbeatTask(bus event.Publisher) *HeartbeatTask {
	return &HeartbeatTask{bus: bus}
}

// Run implements schedule.Task. Runs of one registration never overlap, so
// seq needs no locking.
func (t *HeartbeatTask) Run(_ context.Context, _ time.Time, elapsed time.Duration) error {
	t.seq++
	return t.bus.Enqueue(Heartbeat{Base: event.NewBase(), Seq: t.seq, Elapsed: elapsed})
}

var _ schedule.Task = (*HeartbeatTask)(nil)

// EventLogger logs every event at debug level, after all other handlers.
type EventLogger struct {
	logger *logging.Logger
}

// NewEventLogger creates a listener writing to logger.
func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger.WithComponent("events")}
}

// Capabilities implements event.CapabilityProvider.
func (l *EventLogger) Capabilities() []event.Capability {
	return []event.Capability{
		event.On(event.PriorityLast, l.log).Named("events.log"),
	}
}

func (l *EventLogger) log(ev event.Event) {
	args := []any{
		"event_id", ev.EventID(),
		"event_type", reflect.TypeOf(ev).String(),
	}
	if cause := ev.Cause(); cause != nil {
		args = append(args, "cause_id", cause.EventID())
	}
	if hb, ok := ev.(Heartbeat); ok {
		args = append(args, "seq", hb.Seq, "elapsed", hb.Elapsed)
	}
	l.logger.Debug("event", args...)
}
