// Package event provides the event dispatch engine: a FIFO queue drained by
// one goroutine that delivers each event to every matching handler in
// priority order.
//
// # Events
//
// An event is any value implementing Event. Embedding Base supplies a random
// id and an optional cause:
//
//	type OrderPlaced struct {
//	    event.Base
//	    OrderID string
//	}
//
//	placed := OrderPlaced{Base: event.NewBase(), OrderID: "A-1"}
//	shipped := OrderShipped{Base: event.NewBaseCausedBy(placed)}
//
// # Listeners
//
// A listener exposes handler capabilities. It can publish an explicit table:
//
//	func (a *Auditor) Capabilities() []event.Capability {
//	    return []event.Capability{
//	        event.On(event.PriorityEarly, a.record),
//	        event.OnContext(event.PriorityLast, a.flush),
//	    }
//	}
//
// or rely on discovery, where every exported method named On* or Handle* with
// a single Event argument and no results is a handler:
//
//	func (a *Auditor) OnOrderPlaced(ev OrderPlaced) { ... }
//
// A handler whose accepted type is an interface receives every event
// implementing that interface. A handler for a concrete type receives only
// that type.
//
// # Ordering
//
// Events are dispatched in enqueue order, one at a time. Handlers for one
// event run in ascending Priority, ties in registration order. Registry
// changes made while an event is being dispatched apply from the next event.
//
// # Failures
//
// A handler that returns an error or panics is logged and counted. The
// remaining handlers still run and the loop moves on to the next event.
//
// # Lifecycle
//
//	bus := event.NewBus(event.WithLogger(logger))
//	bus.Register(&Auditor{})
//	bus.Start()
//	bus.Enqueue(placed)
//	...
//	bus.Stop(ctx)
//
// Start and Stop are idempotent and a stopped bus can be started again.
// Stopping lets the event being dispatched finish all of its handlers.
package event
