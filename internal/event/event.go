package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a message placed on the dispatch queue. Events are immutable once
// constructed; the concrete Go type of the value is what handlers match on.
type Event interface {
	// EventID is unique per event instance.
	EventID() uuid.UUID

	// Cause returns the event that led to this one, or nil.
	Cause() Event
}

// Base carries identity and causation. Embed it by value in event types to
// satisfy Event:
//
//	type FileSaved struct {
//	    event.Base
//	    Path string
//	}
//
//	ev := FileSaved{Base: event.NewBase(), Path: "a.txt"}
type Base struct {
	id    uuid.UUID
	cause Event
	at    time.Time
}

// NewBase returns a Base with a fresh random id.
func NewBase() Base {
	return Base{id: uuid.New(), at: time.Now()}
}

// NewBaseCausedBy returns a Base whose cause is parent.
func NewBaseCausedBy(parent Event) Base {
	b := NewBase()
	b.cause = parent
	return b
}

// EventID implements Event.
func (b Base) EventID() uuid.UUID { return b.id }

// Cause implements Event.
func (b Base) Cause() Event { return b.cause }

// OccurredAt is when the Base was created.
func (b Base) OccurredAt() time.Time { return b.at }

// Chain returns ev followed by its causes, nearest first. A repeated id ends
// the walk.
func Chain(ev Event) []Event {
	var chain []Event
	seen := make(map[uuid.UUID]struct{})
	for ev != nil {
		id := ev.EventID()
		if _, dup := seen[id]; dup {
			break
		}
		seen[id] = struct{}{}
		chain = append(chain, ev)
		ev = ev.Cause()
	}
	return chain
}

// RootCause returns the oldest event in ev's causal chain.
func RootCause(ev Event) Event {
	chain := Chain(ev)
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}
