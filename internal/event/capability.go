package event

import (
	"context"
	"reflect"
	"strings"
)

var eventInterface = reflect.TypeFor[Event]()

// Capability is one event-handling action exposed by a listener.
type Capability struct {
	// EventType is the accepted event type. An interface type accepts every
	// event that implements it; a concrete type accepts only itself.
	EventType reflect.Type

	// Priority orders this capability among all handlers of an event.
	Priority Priority

	// Name labels the capability in logs and errors.
	Name string

	invoke func(ctx context.Context, ev Event) error
}

// On builds a capability from a typed function.
func On[E Event](priority Priority, fn func(E)) Capability {
	c := Capability{
		EventType: reflect.TypeFor[E](),
		Priority:  priority,
		Name:      "func(" + reflect.TypeFor[E]().String() + ")",
	}
	if fn != nil {
		c.invoke = func(_ context.Context, ev Event) error {
			fn(ev.(E))
			return nil
		}
	}
	return c
}

// OnContext builds a capability from a typed function that receives the
// dispatch context and may fail. Failures are reported, never propagated.
func OnContext[E Event](priority Priority, fn func(context.Context, E) error) Capability {
	c := Capability{
		EventType: reflect.TypeFor[E](),
		Priority:  priority,
		Name:      "func(context.Context, " + reflect.TypeFor[E]().String() + ")",
	}
	if fn != nil {
		c.invoke = func(ctx context.Context, ev Event) error {
			return fn(ctx, ev.(E))
		}
	}
	return c
}

// Named returns a copy of c labelled name.
func (c Capability) Named(name string) Capability {
	c.Name = name
	return c
}

// Valid reports whether the capability can be bound.
func (c Capability) Valid() bool {
	return c.invoke != nil &&
		c.EventType != nil &&
		c.EventType.Implements(eventInterface) &&
		c.Priority.Valid()
}

// Accepts reports whether an event of concrete type t matches.
func (c Capability) Accepts(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t == c.EventType {
		return true
	}
	return c.EventType.Kind() == reflect.Interface && t.Implements(c.EventType)
}

// CapabilityProvider is implemented by listeners that publish an explicit
// capability table instead of relying on method discovery.
type CapabilityProvider interface {
	Capabilities() []Capability
}

// PriorityProvider lets a listener using method discovery assign priorities
// per method name. Methods default to PriorityNormal.
type PriorityProvider interface {
	PriorityOf(method string) Priority
}

// Discover enumerates the capabilities of listener. A CapabilityProvider's
// table is used as is. Otherwise every exported method whose name starts
// with On or Handle, takes exactly one argument implementing Event and
// returns nothing becomes a capability; promoted methods of embedded types
// are included. Candidates failing any rule are skipped.
func Discover(listener any) []Capability {
	if listener == nil {
		return nil
	}
	if p, ok := listener.(CapabilityProvider); ok {
		var caps []Capability
		for _, c := range p.Capabilities() {
			if c.Valid() {
				caps = append(caps, c)
			}
		}
		return caps
	}

	v := reflect.ValueOf(listener)
	t := v.Type()
	pp, _ := listener.(PriorityProvider)

	var caps []Capability
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !isHandlerName(m.Name) {
			continue
		}
		// In(0) is the receiver.
		if m.Type.NumIn() != 2 || m.Type.NumOut() != 0 {
			continue
		}
		arg := m.Type.In(1)
		if !arg.Implements(eventInterface) {
			continue
		}

		prio := PriorityNormal
		if pp != nil {
			prio = pp.PriorityOf(m.Name)
		}

		fn := v.Method(i)
		c := Capability{
			EventType: arg,
			Priority:  prio,
			Name:      t.String() + "." + m.Name,
			invoke: func(_ context.Context, ev Event) error {
				fn.Call([]reflect.Value{reflect.ValueOf(ev)})
				return nil
			},
		}
		if c.Valid() {
			caps = append(caps, c)
		}
	}
	return caps
}

func isHandlerName(name string) bool {
	return strings.HasPrefix(name, "On") || strings.HasPrefix(name, "Handle")
}
