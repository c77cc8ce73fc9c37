// Package notify fans out configuration changes to interested observers.
package notify

import (
	"strings"
	"sync"
)

// ChangeType represents the type of configuration change.
type ChangeType int

const (
	// ChangeSet indicates a value was set or updated.
	ChangeSet ChangeType = iota

	// ChangeReload marks the end of a reload; Path is empty.
	ChangeReload
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Change represents one configuration change.
type Change struct {
	// Path is the dotted setting path, e.g. "log.level".
	Path string

	Type     ChangeType
	OldValue any
	NewValue any

	// Source identifies where the change came from, usually a file path.
	Source string
}

// Observer is called when configuration changes occur.
type Observer func(change Change)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

type entry struct {
	// prefix is empty for observers of every change.
	prefix   string
	observer Observer
}

// Notifier delivers changes synchronously, in subscription order, on the
// goroutine that calls Notify.
type Notifier struct {
	mu      sync.RWMutex
	entries map[uint64]entry
	order   []uint64
	nextID  uint64
	closed  bool
}

// New creates a new Notifier.
func New() *Notifier {
	return &Notifier{entries: make(map[uint64]entry)}
}

// Subscribe registers an observer for all changes.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	return n.add("", observer)
}

// SubscribePath registers an observer for changes at path or below it.
// Subscribing to "log" receives "log.level". Reload markers reach every
// observer.
func (n *Notifier) SubscribePath(path string, observer Observer) *Subscription {
	return n.add(path, observer)
}

func (n *Notifier) add(prefix string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.entries[id] = entry{prefix: prefix, observer: observer}
	n.order = append(n.order, id)

	return &Subscription{id: id, notifier: n}
}

// Notify delivers change to every matching observer.
func (n *Notifier) Notify(change Change) {
	for _, obs := range n.matching(change) {
		obs(change)
	}
}

// NotifyAll delivers changes in order followed by a reload marker carrying
// source.
func (n *Notifier) NotifyAll(source string, changes []Change) {
	for _, c := range changes {
		if c.Source == "" {
			c.Source = source
		}
		n.Notify(c)
	}
	n.Notify(Change{Type: ChangeReload, Source: source})
}

// Len returns the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.entries)
}

// Close drops every subscription and silences later notifications.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	clear(n.entries)
	n.order = nil
}

func (n *Notifier) matching(change Change) []Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return nil
	}
	var out []Observer
	for _, id := range n.order {
		e, ok := n.entries[id]
		if !ok {
			continue
		}
		if change.Type == ChangeReload || covers(e.prefix, change.Path) {
			out = append(out, e.observer)
		}
	}
	return out
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.entries[id]; !ok {
		return
	}
	delete(n.entries, id)
	for i, oid := range n.order {
		if oid == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// covers reports whether prefix is path or one of its parents.
func covers(prefix, path string) bool {
	if prefix == "" || prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix) && path[len(prefix)] == '.'
}
