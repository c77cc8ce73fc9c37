package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Registration is the scheduling record of one task. It is created by a
// Loop and only that loop updates it.
type Registration struct {
	id           uuid.UUID
	task         Task
	interval     time.Duration
	delay        time.Duration
	registeredAt time.Time
	cronSpec     string
	cronSched    cron.Schedule
	shard        int
	seq          uint64
	owner        *Loop

	mu      sync.Mutex
	lastRun time.Time
	ran     bool

	runs  atomic.Uint64
	state atomic.Int32

	// guarded by owner.mu
	next  time.Time
	index int
}

// ID returns the registration's unique id.
func (r *Registration) ID() uuid.UUID { return r.id }

// Interval returns the repeat interval, OneShot, or zero for cron tasks.
func (r *Registration) Interval() time.Duration { return r.interval }

// Delay returns the wait before the first run.
func (r *Registration) Delay() time.Duration { return r.delay }

// RegisteredAt returns when the task was registered.
func (r *Registration) RegisteredAt() time.Time { return r.registeredAt }

// Cron returns the cron expression for cron tasks and "" otherwise.
func (r *Registration) Cron() string { return r.cronSpec }

// Shard returns the index of the loop holding the registration.
func (r *Registration) Shard() int { return r.shard }

// IsOneShot reports whether the task fires only once.
func (r *Registration) IsOneShot() bool { return r.interval == OneShot }

// Runs returns how many times the task has been started.
func (r *Registration) Runs() uint64 { return r.runs.Load() }

// State returns the current lifecycle state.
func (r *Registration) State() State { return State(r.state.Load()) }

// LastRun returns the start time of the most recent run.
func (r *Registration) LastRun() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.ran
}

// Due applies the eligibility rule at now. Before the first run elapsed is
// measured from registration and compared with the delay; afterwards it is
// measured from the last run and compared with the interval. Cron tasks are
// due once their schedule's next activation has passed.
func (r *Registration) Due(now time.Time) (elapsed time.Duration, ok bool) {
	last, ran := r.LastRun()
	if !ran {
		elapsed = now.Sub(r.registeredAt)
		if r.cronSched != nil {
			return elapsed, !now.Before(r.firstEligible())
		}
		return elapsed, elapsed >= r.delay
	}

	elapsed = now.Sub(last)
	switch {
	case r.cronSched != nil:
		next := r.cronSched.Next(last)
		return elapsed, !next.IsZero() && !now.Before(next)
	case r.interval == OneShot:
		return elapsed, false
	}
	return elapsed, elapsed >= r.interval
}

// firstEligible is the earliest time the first run may start.
func (r *Registration) firstEligible() time.Time {
	start := r.registeredAt.Add(r.delay)
	if r.cronSched != nil {
		return r.cronSched.Next(start)
	}
	return start
}

// nextAfter is the earliest time a run may start after one started at last.
// A zero time means the task will not run again.
func (r *Registration) nextAfter(last time.Time) time.Time {
	switch {
	case r.cronSched != nil:
		return r.cronSched.Next(last)
	case r.interval == OneShot:
		return time.Time{}
	}
	return last.Add(r.interval)
}

func (r *Registration) markRun(now time.Time) {
	r.mu.Lock()
	r.lastRun = now
	r.ran = true
	r.mu.Unlock()

	r.runs.Add(1)
	if r.interval != OneShot {
		r.state.CompareAndSwap(int32(TaskPending), int32(TaskActive))
	}
}

func (r *Registration) markRemoved() {
	r.state.Store(int32(TaskRemoved))
}
