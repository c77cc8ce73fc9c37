package event

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/pulse/internal/event/dispatch"
	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/telemetry"
)

// Publisher accepts events for dispatch.
type Publisher interface {
	Enqueue(ev Event) error
}

// Bus is a FIFO event queue drained by a single dispatch goroutine. For each
// event the loop takes a registry snapshot and invokes every matching binding
// in priority order before moving to the next event.
type Bus struct {
	registry   *Registry
	dispatcher *dispatch.SyncDispatcher
	limiter    *rate.Limiter
	config     busConfig
	logger     *logging.Logger
	metrics    *telemetry.Metrics

	mu       sync.Mutex
	queue    []Event
	wake     chan struct{}
	inCycle  bool
	idle     chan struct{}
	idleDone bool
	running  bool
	stop     chan struct{}
	done     chan struct{}

	eventsEnqueued   atomic.Uint64
	eventsDispatched atomic.Uint64
	eventsDropped    atomic.Uint64
	eventsRejected   atomic.Uint64
}

// NewBus creates a stopped bus with an empty registry.
func NewBus(opts ...BusOption) *Bus {
	cfg := defaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		registry: NewRegistry(),
		config:   cfg,
		logger:   cfg.logger.WithComponent("bus"),
		metrics:  cfg.metrics,
		wake:     make(chan struct{}, 1),
		idle:     make(chan struct{}),
		idleDone: true,
	}
	close(b.idle)

	b.dispatcher = dispatch.NewSyncDispatcher(
		dispatch.WithTimeout(cfg.handlerTimeout),
		dispatch.WithPanicHandler(func(subject any, v any, stack []byte) {
			b.logger.Debug("handler panic stack", "value", v, "stack", string(stack))
		}),
	)
	if cfg.rateLimit > 0 {
		b.limiter = rate.NewLimiter(cfg.rateLimit, cfg.rateBurst)
	}
	return b
}

// Registry exposes the handler registry.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Enqueue appends ev to the tail of the queue. It is safe to call from any
// goroutine, including from inside a handler.
func (b *Bus) Enqueue(ev Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	if v := reflect.ValueOf(ev); v.Kind() == reflect.Pointer && v.IsNil() {
		return ErrNilEvent
	}

	b.mu.Lock()
	if b.config.queueCapacity > 0 && len(b.queue) >= b.config.queueCapacity {
		b.mu.Unlock()
		b.eventsRejected.Add(1)
		return ErrQueueFull
	}
	b.queue = append(b.queue, ev)
	if b.idleDone {
		b.idle = make(chan struct{})
		b.idleDone = false
	}
	b.mu.Unlock()

	b.eventsEnqueued.Add(1)
	b.metrics.EventEnqueued(context.Background(), typeName(ev))
	b.signal()
	return nil
}

// Register adds bindings for each listener. Bindings added while an event is
// being dispatched take effect from the next event.
func (b *Bus) Register(listeners ...any) (int, error) {
	return b.registry.Register(listeners...)
}

// Unregister removes all bindings of the given listeners.
func (b *Bus) Unregister(listeners ...any) (int, error) {
	return b.registry.Unregister(listeners...)
}

// ClearListeners removes every binding.
func (b *Bus) ClearListeners() int {
	return b.registry.Clear()
}

// ClearQueue discards all waiting events and returns how many were dropped.
// An event already being dispatched is unaffected.
func (b *Bus) ClearQueue() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.queue)
	clear(b.queue)
	b.queue = b.queue[:0]
	b.eventsDropped.Add(uint64(n))
	b.markIdleLocked()
	return n
}

// QueueLen returns the number of waiting events.
func (b *Bus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Start launches the dispatch goroutine. Starting a running bus is a no-op.
// A bus may be started again after Stop or Interrupt; the new loop begins
// once the previous one has exited.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	prev := b.done
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.running = true

	go b.loop(prev, b.stop, b.done)
	b.logger.Debug("bus started")
	return nil
}

// Interrupt asks the loop to exit after the current event and returns
// without waiting. Interrupting a stopped bus is a no-op.
func (b *Bus) Interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	close(b.stop)
	b.running = false
}

// Stop interrupts the loop and waits for it to exit or for ctx to be done.
// Queued events stay queued and are dispatched after a restart.
func (b *Bus) Stop(ctx context.Context) error {
	b.Interrupt()

	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		b.logger.Debug("bus stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop has been started and not interrupted.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// WaitIdle blocks until the queue is empty and no event is being dispatched,
// or until ctx is done.
func (b *Bus) WaitIdle(ctx context.Context) error {
	b.mu.Lock()
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	ds := b.dispatcher.Stats()
	return Stats{
		EventsEnqueued:   b.eventsEnqueued.Load(),
		EventsDispatched: b.eventsDispatched.Load(),
		EventsDropped:    b.eventsDropped.Load(),
		EventsRejected:   b.eventsRejected.Load(),
		HandlersExecuted: ds.Dispatched,
		HandlerErrors:    ds.Failed,
		HandlerPanics:    ds.Panicked,
		AvgHandlerTime:   ds.AvgDuration,
		Bindings:         b.registry.Len(),
		QueueDepth:       b.QueueLen(),
	}
}

func (b *Bus) loop(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	// waitCtx only bounds the rate limiter; handlers never see it.
	waitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if b.QueueLen() == 0 {
			select {
			case <-stop:
				return
			case <-b.wake:
				continue
			}
		}

		if b.limiter != nil {
			if err := b.limiter.Wait(waitCtx); err != nil {
				return
			}
		}

		ev, ok := b.pop()
		if !ok {
			continue
		}
		b.dispatchEvent(ev)
		b.finishCycle()
	}
}

// pop removes the head of the queue and marks a cycle in flight.
func (b *Bus) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil, false
	}
	ev := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.inCycle = true
	return ev, true
}

func (b *Bus) finishCycle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inCycle = false
	b.markIdleLocked()
}

func (b *Bus) markIdleLocked() {
	if !b.idleDone && !b.inCycle && len(b.queue) == 0 {
		close(b.idle)
		b.idleDone = true
	}
}

func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// dispatchEvent invokes every matching binding of the current snapshot in
// order. Failures are logged and counted; delivery always continues.
func (b *Bus) dispatchEvent(ev Event) {
	start := time.Now()
	et := reflect.TypeOf(ev)
	name := et.String()

	ctx, span := b.metrics.StartDispatch(context.Background(), name, ev.EventID().String())
	defer span.End()

	for _, binding := range b.registry.Snapshot().Match(et) {
		res := b.dispatcher.Dispatch(ctx, ev, binding)
		failed := !res.IsSuccess()
		b.metrics.HandlerInvoked(ctx, name, binding.Priority().String(), failed)
		if !failed {
			continue
		}

		err := &HandlerError{
			EventID:   ev.EventID(),
			EventType: name,
			Handler:   binding.Name(),
			Priority:  binding.Priority(),
			Err:       res.Err(),
		}
		b.logger.Error("handler failed",
			"event_id", err.EventID,
			"event_type", name,
			"handler", err.Handler,
			"priority", err.Priority.String(),
			"panicked", res.Panicked,
			"error", err.Err,
		)
		if b.config.onError != nil {
			b.config.onError(err)
		}
	}

	b.eventsDispatched.Add(1)
	b.metrics.EventDispatched(ctx, name, time.Since(start))
}

func typeName(ev Event) string {
	return reflect.TypeOf(ev).String()
}
