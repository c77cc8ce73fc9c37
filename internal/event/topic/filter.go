package topic

import (
	"errors"
	"slices"
)

// ErrInvalidTopic is returned for malformed topics and patterns.
var ErrInvalidTopic = errors.New("invalid topic")

// Filter is an immutable set of patterns. An empty Filter allows every
// topic. Methods are safe for concurrent use.
type Filter struct {
	exact    map[Topic]struct{}
	patterns []Topic
}

// NewFilter validates and compiles patterns. Duplicates are dropped.
func NewFilter(patterns ...string) (*Filter, error) {
	f := &Filter{exact: make(map[Topic]struct{})}
	for _, p := range patterns {
		t := Topic(p)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if t.IsWildcard() {
			if !slices.Contains(f.patterns, t) {
				f.patterns = append(f.patterns, t)
			}
			continue
		}
		f.exact[t] = struct{}{}
	}
	return f, nil
}

// Allow reports whether t matches any pattern, or whether the filter is
// empty.
func (f *Filter) Allow(t Topic) bool {
	if f == nil || f.Len() == 0 {
		return true
	}
	if _, ok := f.exact[t]; ok {
		return true
	}
	for _, p := range f.patterns {
		if t.Matches(p) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct patterns.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.exact) + len(f.patterns)
}

// Patterns returns the patterns, exact topics first in sorted order.
func (f *Filter) Patterns() []Topic {
	if f == nil {
		return nil
	}
	out := make([]Topic, 0, f.Len())
	for t := range f.exact {
		out = append(out, t)
	}
	slices.Sort(out)
	return append(out, f.patterns...)
}
