// Package bridge connects a local event bus to other processes over Redis
// pub/sub.
//
// Messages arriving on the subscribed channels are enqueued as RemoteEvent
// values. Local events implementing Exportable are published by a
// PriorityLast handler, so every local handler has run before an event
// leaves the process. The handler only encodes and queues the message; Run
// publishes it, so a slow transport never holds up the bus. A bridge ignores its own messages, and events caused
// by a RemoteEvent are not exported again.
package bridge

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/pulse/internal/event"
	"github.com/dshills/pulse/internal/event/topic"
	"github.com/dshills/pulse/internal/logging"
)

// DefaultExportBuffer is the number of encoded exports waiting for Run.
const DefaultExportBuffer = 256

var (
	// ErrAlreadyRunning is returned by Run while another Run is active.
	ErrAlreadyRunning = errors.New("bridge already running")

	// ErrExportQueueFull is reported by the export handler when the
	// outbound buffer is full and the event is not exported.
	ErrExportQueueFull = errors.New("bridge export queue is full")
)

// Host is the part of the bus a bridge needs.
type Host interface {
	event.Publisher
	Register(listeners ...any) (int, error)
	Unregister(listeners ...any) (int, error)
}

// Stats counts bridge traffic.
type Stats struct {
	Published     uint64
	PublishErrors uint64
	Received      uint64
	Echoes        uint64
	Malformed     uint64
	Dropped       uint64
	Filtered      uint64
	ExportDropped uint64
}

type outbound struct {
	channel string
	eventID uuid.UUID
	data    []byte
}

// Bridge relays events between a Host and a Transport.
type Bridge struct {
	transport Transport
	host      Host
	origin    string
	channels  []string
	prefix    string
	filter    *topic.Filter
	outbox    chan outbound
	buffer    int
	logger    *logging.Logger
	now       func() time.Time

	running atomic.Bool

	published     atomic.Uint64
	publishErrors atomic.Uint64
	received      atomic.Uint64
	echoes        atomic.Uint64
	malformed     atomic.Uint64
	dropped       atomic.Uint64
	filtered      atomic.Uint64
	exportDropped atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithChannels sets the channels to subscribe to.
func WithChannels(channels ...string) Option {
	return func(b *Bridge) {
		b.channels = append(b.channels, channels...)
	}
}

// WithPrefix sets the string put in front of an event's topic to form the
// outbound channel.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

// WithExportFilter limits exports to events whose topic f allows.
func WithExportFilter(f *topic.Filter) Option {
	return func(b *Bridge) {
		b.filter = f
	}
}

// WithExportBuffer sets how many encoded exports may wait to be published.
// Values below 1 keep DefaultExportBuffer.
func WithExportBuffer(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithOrigin overrides the random origin id.
func WithOrigin(origin string) Option {
	return func(b *Bridge) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge. Nothing happens until Run.
func New(transport Transport, host Host, opts ...Option) *Bridge {
	b := &Bridge{
		transport: transport,
		host:      host,
		origin:    uuid.NewString(),
		buffer:    DefaultExportBuffer,
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.outbox = make(chan outbound, b.buffer)
	b.logger = b.logger.WithComponent("bridge").With("origin", b.origin)
	return b
}

// Origin returns the id stamped on outgoing messages.
func (b *Bridge) Origin() string {
	return b.origin
}

// Capabilities exposes the export handler to the bus.
func (b *Bridge) Capabilities() []event.Capability {
	return []event.Capability{
		event.OnContext(event.PriorityLast, b.export).Named("bridge.export"),
	}
}

// Run subscribes, registers the export handler and relays messages until
// ctx is done. Queued exports are published from a separate goroutine.
// The handler is unregistered before Run returns; exports still queued
// then are published by the next Run.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	var msgs <-chan Message
	if len(b.channels) > 0 {
		sub, err := b.transport.Subscribe(ctx, b.channels...)
		if err != nil {
			return err
		}
		defer sub.Close()
		msgs = sub.Messages()
	}

	if _, err := b.host.Register(b); err != nil {
		return err
	}
	defer func() {
		_, _ = b.host.Unregister(b)
	}()

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		b.drain(ctx)
	}()
	defer func() { <-sent }()

	b.logger.Info("bridge running", "channels", b.channels, "prefix", b.prefix)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopped")
			return nil
		case m, ok := <-msgs:
			if !ok {
				b.logger.Warn("subscription closed")
				<-ctx.Done()
				return nil
			}
			b.receive(m)
		}
	}
}

// Stats returns traffic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Received:      b.received.Load(),
		Echoes:        b.echoes.Load(),
		Malformed:     b.malformed.Load(),
		Dropped:       b.dropped.Load(),
		Filtered:      b.filtered.Load(),
		ExportDropped: b.exportDropped.Load(),
	}
}

func (b *Bridge) receive(m Message) {
	env, ev, err := decode(m.Channel, m.Payload)
	if err != nil {
		b.malformed.Add(1)
		b.logger.Warn("malformed message", "channel", m.Channel, "error", err)
		return
	}
	if env.Origin == b.origin {
		b.echoes.Add(1)
		return
	}

	b.received.Add(1)
	if err := b.host.Enqueue(ev); err != nil {
		b.dropped.Add(1)
		b.logger.Warn("remote event dropped",
			"channel", m.Channel,
			"remote_id", ev.RemoteID,
			"error", err,
		)
	}
}

func (b *Bridge) export(_ context.Context, ev Exportable) error {
	if fromRemote(ev) {
		return nil
	}
	if !b.filter.Allow(topic.Topic(ev.Topic())) {
		b.filtered.Add(1)
		return nil
	}

	data, err := encode(b.origin, ev, reflect.TypeOf(ev).String(), b.now())
	if err != nil {
		b.publishErrors.Add(1)
		return err
	}

	out := outbound{channel: b.prefix + ev.Topic(), eventID: ev.EventID(), data: data}
	select {
	case b.outbox <- out:
		return nil
	default:
		b.exportDropped.Add(1)
		return ErrExportQueueFull
	}
}

func (b *Bridge) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-b.outbox:
			b.publish(ctx, out)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, out outbound) {
	if err := b.transport.Publish(ctx, out.channel, out.data); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.publishErrors.Add(1)
		b.logger.Warn("publish failed",
			"event_id", out.eventID,
			"channel", out.channel,
			"error", err,
		)
		return
	}
	b.published.Add(1)
	b.logger.Debug("event exported", "event_id", out.eventID, "channel", out.channel)
}
