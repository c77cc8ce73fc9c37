package topic

import (
	"fmt"
	"strings"
)

// Topic is a dotted, hierarchical event name or pattern.
type Topic string

const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	// Separator joins segments.
	Separator = "."
)

// Segments splits t at each separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// IsWildcard reports whether t contains a wildcard segment.
func (t Topic) IsWildcard() bool {
	for _, seg := range t.Segments() {
		if seg == WildcardSingle || seg == WildcardMulti {
			return true
		}
	}
	return false
}

// Validate checks that t is non-empty with no empty segments. Wildcards
// must fill a whole segment.
func (t Topic) Validate() error {
	if t == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	for i, seg := range t.Segments() {
		switch {
		case seg == "":
			return fmt.Errorf("%w: %q has an empty segment at %d", ErrInvalidTopic, t, i)
		case seg == WildcardSingle, seg == WildcardMulti:
		case strings.Contains(seg, WildcardSingle):
			return fmt.Errorf("%w: %q mixes a wildcard into segment %q", ErrInvalidTopic, t, seg)
		}
	}
	return nil
}

// Matches reports whether t matches pattern.
func (t Topic) Matches(pattern Topic) bool {
	return matchSegments(t.Segments(), pattern.Segments())
}

func matchSegments(topic, pattern []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == WildcardMulti {
			rest := pattern[1:]
			for i := 0; i <= len(topic); i++ {
				if matchSegments(topic[i:], rest) {
					return true
				}
			}
			return false
		}
		if len(topic) == 0 {
			return false
		}
		if head != WildcardSingle && head != topic[0] {
			return false
		}
		topic, pattern = topic[1:], pattern[1:]
	}
	return len(topic) == 0
}

// Join builds a topic from segments.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, Separator))
}
