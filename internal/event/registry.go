package event

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// Binding ties one capability to the listener that exposed it.
type Binding struct {
	listener   any
	capability Capability
	seq        uint64
}

// Listener returns the listener the binding was created from.
func (b *Binding) Listener() any { return b.listener }

// EventType returns the accepted event type.
func (b *Binding) EventType() reflect.Type { return b.capability.EventType }

// Priority returns the binding's priority.
func (b *Binding) Priority() Priority { return b.capability.Priority }

// Name returns the capability label.
func (b *Binding) Name() string { return b.capability.Name }

// Accepts reports whether an event of concrete type t matches the binding.
func (b *Binding) Accepts(t reflect.Type) bool { return b.capability.Accepts(t) }

// Handle lets the dispatcher invoke the binding directly.
func (b *Binding) Handle(ctx context.Context, subject any) error {
	return b.capability.invoke(ctx, subject.(Event))
}

// Snapshot is an immutable, priority-sorted view of the registry.
type Snapshot struct {
	bindings []*Binding
	byType   sync.Map // reflect.Type -> []*Binding
}

// Bindings returns every binding in invocation order.
func (s *Snapshot) Bindings() []*Binding {
	out := make([]*Binding, len(s.bindings))
	copy(out, s.bindings)
	return out
}

// Len returns the number of bindings.
func (s *Snapshot) Len() int { return len(s.bindings) }

// Match returns the bindings that accept events of concrete type t, in
// invocation order. Results are cached per type for the snapshot's lifetime.
func (s *Snapshot) Match(t reflect.Type) []*Binding {
	if cached, ok := s.byType.Load(t); ok {
		return cached.([]*Binding)
	}
	var matched []*Binding
	for _, b := range s.bindings {
		if b.Accepts(t) {
			matched = append(matched, b)
		}
	}
	s.byType.Store(t, matched)
	return matched
}

// Registry holds handler bindings sorted by ascending priority, ties broken
// by registration order. Writers build a new sorted slice and publish it
// atomically, so readers only ever see a complete snapshot.
//
// Registration is additive: registering the same listener twice produces two
// sets of bindings and each matching event reaches it twice.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{})
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Register discovers the capabilities of each listener and adds one binding
// per valid capability. It returns the number of bindings added. All
// listeners are validated before anything is added.
func (r *Registry) Register(listeners ...any) (int, error) {
	for _, l := range listeners {
		if err := checkListener(l); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load().bindings
	next := make([]*Binding, len(old), len(old)+len(listeners))
	copy(next, old)

	added := 0
	for _, l := range listeners {
		for _, c := range Discover(l) {
			r.seq++
			next = append(next, &Binding{listener: l, capability: c, seq: r.seq})
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}

	sort.SliceStable(next, func(i, j int) bool {
		if next[i].capability.Priority != next[j].capability.Priority {
			return next[i].capability.Priority < next[j].capability.Priority
		}
		return next[i].seq < next[j].seq
	})
	r.current.Store(&Snapshot{bindings: next})
	return added, nil
}

// Unregister removes every binding whose listener is identical to one of the
// given listeners and returns how many were removed.
func (r *Registry) Unregister(listeners ...any) (int, error) {
	for _, l := range listeners {
		if err := checkListener(l); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load().bindings
	next := make([]*Binding, 0, len(old))
	for _, b := range old {
		if !containsListener(listeners, b.listener) {
			next = append(next, b)
		}
	}

	removed := len(old) - len(next)
	if removed > 0 {
		r.current.Store(&Snapshot{bindings: next})
	}
	return removed, nil
}

// Contains reports whether listener has at least one binding.
func (r *Registry) Contains(listener any) bool {
	if checkListener(listener) != nil {
		return false
	}
	for _, b := range r.current.Load().bindings {
		if sameListener(b.listener, listener) {
			return true
		}
	}
	return false
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	return r.current.Load().Len()
}

// Clear removes all bindings and returns how many there were.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.current.Load().Len()
	r.current.Store(&Snapshot{})
	return n
}

func checkListener(l any) error {
	if l == nil {
		return ErrNilListener
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return ErrNilListener
		}
	}
	// Dynamic check: an interface field may hold a slice.
	if !v.Comparable() {
		return ErrListenerNotComparable
	}
	return nil
}

func sameListener(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a == b
}

func containsListener(set []any, l any) bool {
	for _, s := range set {
		if sameListener(s, l) {
			return true
		}
	}
	return false
}
