package topic

import (
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_Segments(t *testing.T) {
	assert.Equal(t, []string{"orders", "eu", "created"}, Topic("orders.eu.created").Segments())
	assert.Equal(t, []string{"heartbeat"}, Topic("heartbeat").Segments())
	assert.Nil(t, Topic("").Segments())
	assert.Equal(t, Topic("a.b.c"), Join("a", "b", "c"))
}

func TestTopic_Validate(t *testing.T) {
	tests := []struct {
		topic Topic
		valid bool
	}{
		{"heartbeat", true},
		{"orders.eu.created", true},
		{"orders.*", true},
		{"**", true},
		{"", false},
		{".orders", false},
		{"orders.", false},
		{"orders..created", false},
		{"orders.cre*", false},
		{"orders.***", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.topic), func(t *testing.T) {
			err := tt.topic.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTopic)
			}
		})
	}
}

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.deleted", false},
		{"orders.created", "orders.*", true},
		{"orders.eu.created", "orders.*", false},
		{"orders.eu.created", "orders.**", true},
		{"orders", "orders.**", true},
		{"orders.created", "*.created", true},
		{"orders.eu.created", "orders.*.created", true},
		{"orders.eu.created", "**.created", true},
		{"orders.eu.deleted", "**.created", false},
		{"anything.at.all", "**", true},
		{"orders", "orders.*", false},
		{"orders.created", "orders", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.topic)+"~"+string(tt.pattern), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.topic.Matches(tt.pattern))
		})
	}
}

func TestFilter(t *testing.T) {
	f, err := NewFilter("heartbeat", "orders.**", "orders.**", "heartbeat")
	require.NoError(t, err)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []Topic{"heartbeat", "orders.**"}, f.Patterns())

	assert.True(t, f.Allow("heartbeat"))
	assert.True(t, f.Allow("orders.eu.created"))
	assert.False(t, f.Allow("users.created"))
}

func TestFilter_EmptyAllowsAll(t *testing.T) {
	f, err := NewFilter()
	require.NoError(t, err)
	assert.True(t, f.Allow("anything"))

	var nilFilter *Filter
	assert.True(t, nilFilter.Allow("anything"))
	assert.Zero(t, nilFilter.Len())
	assert.Nil(t, nilFilter.Patterns())
}

func TestFilter_RejectsInvalidPattern(t *testing.T) {
	_, err := NewFilter("ok", "bad..pattern")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestFilter_Concurrent(t *testing.T) {
	f, err := NewFilter("a.*", "b.**", "c")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				assert.True(t, f.Allow("a.x"))
				assert.False(t, f.Allow("d"))
			}
		}()
	}
	wg.Wait()
}

func TestMatchProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	segment := gen.Identifier()
	topics := gen.SliceOfN(4, segment).SuchThat(func(s []string) bool { return len(s) > 0 })

	properties.Property("a topic matches itself", prop.ForAll(
		func(segs []string) bool {
			tp := Join(segs...)
			return tp.Matches(tp)
		},
		topics,
	))

	properties.Property("** matches every topic", prop.ForAll(
		func(segs []string) bool {
			return Join(segs...).Matches(WildcardMulti)
		},
		topics,
	))

	properties.Property("replacing any segment with * still matches", prop.ForAll(
		func(segs []string, i int) bool {
			i %= len(segs)
			pattern := append([]string(nil), segs...)
			pattern[i] = WildcardSingle
			return Join(segs...).Matches(Join(pattern...))
		},
		topics, gen.IntRange(0, 100),
	))

	properties.Property("prefix.** matches the prefix and its descendants", prop.ForAll(
		func(segs []string) bool {
			prefix := Topic(segs[0])
			pattern := prefix + Separator + WildcardMulti
			return Join(segs...).Matches(pattern) && strings.HasPrefix(string(Join(segs...)), string(prefix))
		},
		topics,
	))

	properties.TestingRun(t)
}
