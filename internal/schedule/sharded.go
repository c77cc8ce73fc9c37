package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

var _ Scheduler = (*Sharded)(nil)

// Sharded is a fixed pool of independent loops. New registrations are placed
// round-robin; removal and lookup are broadcast to every shard.
type Sharded struct {
	shards []*Loop
	next   atomic.Uint64
}

// NewSharded creates n stopped loops sharing the same options.
func NewSharded(n int, opts ...Option) (*Sharded, error) {
	if n < 1 {
		return nil, ErrInvalidShardCount
	}

	cfg := defaultLoopConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Sharded{shards: make([]*Loop, n)}
	for i := range s.shards {
		s.shards[i] = newLoop(i, cfg)
	}
	return s, nil
}

// pick returns the next shard in round-robin order.
func (s *Sharded) pick() *Loop {
	i := (s.next.Add(1) - 1) % uint64(len(s.shards))
	return s.shards[i]
}

// RegisterDelayed places a one-shot task on the next shard.
func (s *Sharded) RegisterDelayed(task Task, delay time.Duration) (*Registration, error) {
	if err := checkRegistration(task, delay); err != nil {
		return nil, err
	}
	return s.pick().RegisterDelayed(task, delay)
}

// RegisterRepeating places a repeating task on the next shard.
func (s *Sharded) RegisterRepeating(task Task, interval time.Duration, delay ...time.Duration) (*Registration, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	d, err := optionalDelay(delay)
	if err != nil {
		return nil, err
	}
	if err := checkRegistration(task, d); err != nil {
		return nil, err
	}
	return s.pick().RegisterRepeating(task, interval, d)
}

// RegisterCron places a cron task on the next shard.
func (s *Sharded) RegisterCron(task Task, spec string) (*Registration, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if _, err := parseCron(spec); err != nil {
		return nil, err
	}
	return s.pick().RegisterCron(task, spec)
}

// checkRegistration rejects bad input before a shard slot is consumed.
func checkRegistration(task Task, delay time.Duration) error {
	if task == nil {
		return ErrNilTask
	}
	if delay < 0 {
		return ErrInvalidDelay
	}
	return nil
}

// Unregister asks every shard to remove reg. Only the owning shard acts.
func (s *Sharded) Unregister(reg *Registration) bool {
	removed := false
	for _, l := range s.shards {
		if l.Unregister(reg) {
			removed = true
		}
	}
	return removed
}

// IsRegistered reports whether any shard holds reg.
func (s *Sharded) IsRegistered(reg *Registration) bool {
	found := false
	for _, l := range s.shards {
		found = l.IsRegistered(reg) || found
	}
	return found
}

// Clear empties every shard and returns the total removed.
func (s *Sharded) Clear() int {
	n := 0
	for _, l := range s.shards {
		n += l.Clear()
	}
	return n
}

// Len returns the total number of registrations.
func (s *Sharded) Len() int {
	n := 0
	for _, l := range s.shards {
		n += l.Len()
	}
	return n
}

// ShardSizes returns the registration count of each shard.
func (s *Sharded) ShardSizes() []int {
	sizes := make([]int, len(s.shards))
	for i, l := range s.shards {
		sizes[i] = l.Len()
	}
	return sizes
}

// Shards returns the number of shards.
func (s *Sharded) Shards() int { return len(s.shards) }

// Shard returns the loop at index i.
func (s *Sharded) Shard(i int) *Loop { return s.shards[i] }

// Start starts every shard.
func (s *Sharded) Start() error {
	var result *multierror.Error
	for _, l := range s.shards {
		if err := l.Start(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Interrupt signals every shard without waiting.
func (s *Sharded) Interrupt() {
	for _, l := range s.shards {
		l.Interrupt()
	}
}

// Stop interrupts every shard and waits for all of them, collecting the
// shards that did not exit before ctx was done.
func (s *Sharded) Stop(ctx context.Context) error {
	s.Interrupt()

	var result *multierror.Error
	for _, l := range s.shards {
		if err := l.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
