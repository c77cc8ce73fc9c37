package bridge

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/dshills/pulse/internal/event"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exportable is implemented by local events that should leave the process.
// Topic is appended to the bridge prefix to form the Redis channel.
type Exportable interface {
	event.Event
	Topic() string
}

// RemoteEvent is an event received from another process. It gets a fresh
// local identity; the sender's id is kept in RemoteID.
type RemoteEvent struct {
	event.Base

	// Channel is the Redis channel the message arrived on.
	Channel string

	// Origin identifies the bridge that sent the message.
	Origin string

	RemoteID uuid.UUID
	Type     string
	Topic    string
	SentAt   time.Time
	Payload  []byte
}

// Decode unmarshals the payload into v.
func (e RemoteEvent) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// envelope is the wire format shared by every bridge.
type envelope struct {
	Origin  string              `json:"origin"`
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Topic   string              `json:"topic"`
	SentAt  time.Time           `json:"sent_at"`
	Payload jsoniter.RawMessage `json:"payload"`
}

func encode(origin string, ev Exportable, typeName string, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Origin:  origin,
		ID:      ev.EventID().String(),
		Type:    typeName,
		Topic:   ev.Topic(),
		SentAt:  now.UTC(),
		Payload: payload,
	})
}

func decode(channel string, data []byte) (envelope, RemoteEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, RemoteEvent{}, err
	}
	remoteID, err := uuid.Parse(env.ID)
	if err != nil {
		return env, RemoteEvent{}, err
	}
	return env, RemoteEvent{
		Base:     event.NewBase(),
		Channel:  channel,
		Origin:   env.Origin,
		RemoteID: remoteID,
		Type:     env.Type,
		Topic:    env.Topic,
		SentAt:   env.SentAt,
		Payload:  []byte(env.Payload),
	}, nil
}

// fromRemote reports whether ev or any of its causes came over the bridge.
func fromRemote(ev event.Event) bool {
	for _, e := range event.Chain(ev) {
		switch e.(type) {
		case RemoteEvent, *RemoteEvent:
			return true
		}
	}
	return false
}
