package bridge

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pulse/internal/event"
	"github.com/dshills/pulse/internal/event/topic"
)

type orderPlaced struct {
	event.Base
	OrderID string `json:"order_id"`
}

func (orderPlaced) Topic() string { return "orders" }

type orderShipped struct {
	event.Base
	OrderID string `json:"order_id"`
}

func (orderShipped) Topic() string { return "shipping" }

type memSub struct {
	ch     chan Message
	once   sync.Once
	closed chan struct{}
}

func (s *memSub) Messages() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// memTransport fans published messages out to in-process subscribers.
type memTransport struct {
	mu         sync.Mutex
	subs       map[string][]*memSub
	published  []Message
	publishErr error
}

func newMemTransport() *memTransport {
	return &memTransport{subs: make(map[string][]*memSub)}
}

func (t *memTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, Message{Channel: channel, Payload: payload})
	for _, s := range t.subs[channel] {
		select {
		case <-s.closed:
		case s.ch <- Message{Channel: channel, Payload: payload}:
		}
	}
	return nil
}

func (t *memTransport) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &memSub{ch: make(chan Message, 64), closed: make(chan struct{})}
	for _, c := range channels {
		t.subs[c] = append(t.subs[c], s)
	}
	return s, nil
}

func (t *memTransport) Close() error { return nil }

func (t *memTransport) publishedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.published)
}

func (t *memTransport) lastPublished() Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published[len(t.published)-1]
}

type node struct {
	bus    *event.Bus
	bridge *Bridge
}

func startNode(t *testing.T, tr Transport, opts ...Option) node {
	t.Helper()

	bus := event.NewBus()
	require.NoError(t, bus.Start())

	br := New(tr, bus, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.Registry().Contains(br) }, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = bus.Stop(stopCtx)
	})
	return node{bus: bus, bridge: br}
}

type remoteSink struct {
	mu     sync.Mutex
	events []RemoteEvent
}

func (s *remoteSink) OnRemote(ev RemoteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *remoteSink) all() []RemoteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteEvent(nil), s.events...)
}

func TestBridge_RelaysBetweenBuses(t *testing.T) {
	tr := newMemTransport()
	a := startNode(t, tr, WithOrigin("a"), WithPrefix("pulse."), WithChannels("pulse.orders"))
	b := startNode(t, tr, WithOrigin("b"), WithPrefix("pulse."), WithChannels("pulse.orders"))

	sink := &remoteSink{}
	_, err := b.bus.Register(sink)
	require.NoError(t, err)

	placed := orderPlaced{Base: event.NewBase(), OrderID: "A-1"}
	require.NoError(t, a.bus.Enqueue(placed))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	got := sink.all()[0]
	assert.Equal(t, "pulse.orders", got.Channel)
	assert.Equal(t, "a", got.Origin)
	assert.Equal(t, placed.EventID(), got.RemoteID)
	assert.NotEqual(t, placed.EventID(), got.EventID())
	assert.Equal(t, "orders", got.Topic)
	assert.Equal(t, "bridge.orderPlaced", got.Type)

	var decoded orderPlaced
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, "A-1", decoded.OrderID)

	require.Eventually(t, func() bool { return a.bridge.Stats().Published == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), b.bridge.Stats().Received)
	require.Eventually(t, func() bool { return a.bridge.Stats().Echoes == 1 }, time.Second, 5*time.Millisecond)
}

func TestBridge_DoesNotReexportRemoteCausedEvents(t *testing.T) {
	tr := newMemTransport()
	_ = startNode(t, tr, WithOrigin("a"), WithChannels("orders"))
	b := startNode(t, tr, WithOrigin("b"), WithChannels("orders"))

	shipped := make(chan struct{}, 1)
	_, err := b.bus.Register(&reactor{bus: b.bus, shipped: shipped})
	require.NoError(t, err)

	require.NoError(t, tr.Publish(context.Background(), "orders", mustEncode(t, "x", orderPlaced{Base: event.NewBase(), OrderID: "A-2"})))

	select {
	case <-shipped:
	case <-time.After(2 * time.Second):
		t.Fatal("reaction never dispatched")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.bus.WaitIdle(ctx))

	assert.Equal(t, 1, tr.publishedCount(), "only the injected message")
	assert.Equal(t, uint64(0), b.bridge.Stats().Published)
}

type reactor struct {
	bus     *event.Bus
	shipped chan struct{}
}

func (r *reactor) OnRemote(ev RemoteEvent) {
	_ = r.bus.Enqueue(orderShipped{Base: event.NewBaseCausedBy(ev), OrderID: "A-2"})
}

func (r *reactor) OnShipped(orderShipped) {
	r.shipped <- struct{}{}
}

func TestBridge_ExportRunsLast(t *testing.T) {
	tr := newMemTransport()
	n := startNode(t, tr, WithPrefix("p."))

	var publishedBeforeHandler bool
	_, err := n.bus.Register(&lateHandler{fn: func() { publishedBeforeHandler = tr.publishedCount() > 0 }})
	require.NoError(t, err)

	require.NoError(t, n.bus.Enqueue(orderShipped{Base: event.NewBase(), OrderID: "S-1"}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.bus.WaitIdle(ctx))

	assert.False(t, publishedBeforeHandler)
	require.Eventually(t, func() bool { return tr.publishedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "p.shipping", tr.lastPublished().Channel)
}

type lateHandler struct {
	fn func()
}

func (h *lateHandler) Capabilities() []event.Capability {
	return []event.Capability{
		event.On(event.PriorityLatest, func(orderShipped) { h.fn() }),
	}
}

func TestBridge_PublishFailureIsCounted(t *testing.T) {
	tr := newMemTransport()
	tr.publishErr = errors.New("connection refused")

	n := startNode(t, tr)
	require.NoError(t, n.bus.Enqueue(orderPlaced{Base: event.NewBase()}))

	require.Eventually(t, func() bool { return n.bridge.Stats().PublishErrors == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, n.bridge.Stats().Published)
}

// blockingTransport holds every Publish until release is closed.
type blockingTransport struct {
	*memTransport
	release chan struct{}
	entered atomic.Int32
}

func (t *blockingTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.entered.Add(1)
	select {
	case <-t.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.memTransport.Publish(ctx, channel, payload)
}

type tick struct {
	event.Base
}

type tickSink struct {
	mu  sync.Mutex
	got []time.Time
}

func (s *tickSink) OnTick(tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, time.Now())
}

func (s *tickSink) delivered() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.got...)
}

func TestBridge_SlowTransportDoesNotBlockBus(t *testing.T) {
	tr := &blockingTransport{memTransport: newMemTransport(), release: make(chan struct{})}
	n := startNode(t, tr)

	sink := &tickSink{}
	_, err := n.bus.Register(sink)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, n.bus.Enqueue(orderPlaced{Base: event.NewBase(), OrderID: "A-1"}))
	require.NoError(t, n.bus.Enqueue(tick{Base: event.NewBase()}))

	require.Eventually(t, func() bool { return len(sink.delivered()) == 1 }, time.Second, time.Millisecond)
	assert.Less(t, sink.delivered()[0].Sub(start), 200*time.Millisecond)
	assert.Zero(t, tr.publishedCount(), "publish still held")

	close(tr.release)
	require.Eventually(t, func() bool { return n.bridge.Stats().Published == 1 }, time.Second, 5*time.Millisecond)
}

func TestBridge_FullExportBufferDropsAndReports(t *testing.T) {
	tr := &blockingTransport{memTransport: newMemTransport(), release: make(chan struct{})}

	var mu sync.Mutex
	var handlerErrs []*event.HandlerError
	bus := event.NewBus(event.WithErrorHandler(func(err *event.HandlerError) {
		mu.Lock()
		defer mu.Unlock()
		handlerErrs = append(handlerErrs, err)
	}))
	require.NoError(t, bus.Start())
	defer bus.Stop(context.Background())

	br := New(tr, bus, WithExportBuffer(1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool { return bus.Registry().Contains(br) }, time.Second, 5*time.Millisecond)

	// The first export is taken by the publisher and held, the second
	// fills the buffer and the rest are dropped.
	require.NoError(t, bus.Enqueue(orderPlaced{Base: event.NewBase()}))
	require.Eventually(t, func() bool { return tr.entered.Load() == 1 }, time.Second, time.Millisecond)
	for range 3 {
		require.NoError(t, bus.Enqueue(orderPlaced{Base: event.NewBase()}))
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, bus.WaitIdle(waitCtx))

	assert.Equal(t, uint64(2), br.Stats().ExportDropped)
	mu.Lock()
	require.Len(t, handlerErrs, 2)
	assert.Equal(t, "bridge.export", handlerErrs[0].Handler)
	assert.ErrorIs(t, handlerErrs[0], ErrExportQueueFull)
	mu.Unlock()

	close(tr.release)
	require.Eventually(t, func() bool { return br.Stats().Published == 2 }, time.Second, 5*time.Millisecond)
}

func TestBridge_ExportFilter(t *testing.T) {
	_, err := topic.NewFilter("ship*")
	require.ErrorIs(t, err, topic.ErrInvalidTopic)
	f, err := topic.NewFilter("shipping.**")
	require.NoError(t, err)

	tr := newMemTransport()
	a := startNode(t, tr, WithOrigin("a"), WithExportFilter(f))

	require.NoError(t, a.bus.Enqueue(orderPlaced{Base: event.NewBase(), OrderID: "A-1"}))
	require.NoError(t, a.bus.Enqueue(orderShipped{Base: event.NewBase()}))

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.bus.WaitIdle(waitCtx))

	require.Eventually(t, func() bool { return a.bridge.Stats().Published == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tr.publishedCount())
	assert.Equal(t, "shipping", tr.lastPublished().Channel)
	assert.Equal(t, uint64(1), a.bridge.Stats().Filtered)
}

func TestBridge_MalformedMessages(t *testing.T) {
	tr := newMemTransport()
	n := startNode(t, tr, WithChannels("in"))

	require.NoError(t, tr.Publish(context.Background(), "in", []byte("not json")))
	require.NoError(t, tr.Publish(context.Background(), "in", []byte(`{"origin":"x","id":"nope"}`)))

	require.Eventually(t, func() bool { return n.bridge.Stats().Malformed == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), n.bridge.Stats().Received)
}

func TestBridge_RunTwice(t *testing.T) {
	tr := newMemTransport()
	n := startNode(t, tr)

	assert.ErrorIs(t, n.bridge.Run(context.Background()), ErrAlreadyRunning)
}

func TestBridge_UnregistersOnExit(t *testing.T) {
	bus := event.NewBus()
	br := New(newMemTransport(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Registry().Contains(br) }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, bus.Registry().Contains(br))
}

func mustEncode(t *testing.T, origin string, ev Exportable) []byte {
	t.Helper()
	data, err := encode(origin, ev, "test", time.Now())
	require.NoError(t, err)
	return data
}

func TestRedisTransport(t *testing.T) {
	addr := os.Getenv("PULSE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PULSE_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := NewRedisTransport(addr, "", 0)
	defer tr.Close()
	require.NoError(t, tr.Ping(ctx))

	sub, err := tr.Subscribe(ctx, "pulse.test")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "pulse.test", []byte("hello")))

	select {
	case m := <-sub.Messages():
		assert.Equal(t, "pulse.test", m.Channel)
		assert.Equal(t, []byte("hello"), m.Payload)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
