package schedule

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dshills/pulse/internal/event/dispatch"
	"github.com/dshills/pulse/internal/logging"
)

// Scheduler is implemented by Loop and Sharded.
type Scheduler interface {
	RegisterDelayed(task Task, delay time.Duration) (*Registration, error)
	RegisterRepeating(task Task, interval time.Duration, delay ...time.Duration) (*Registration, error)
	RegisterCron(task Task, spec string) (*Registration, error)
	Unregister(reg *Registration) bool
	IsRegistered(reg *Registration) bool
	Clear() int
	Len() int
	Start() error
	Interrupt()
	Stop(ctx context.Context) error
}

var _ Scheduler = (*Loop)(nil)

// Loop runs the tasks registered on it from a single goroutine.
type Loop struct {
	index      int
	config     loopConfig
	logger     *logging.Logger
	dispatcher *dispatch.SyncDispatcher

	mu      sync.Mutex
	waiting taskHeap
	tasks   map[uuid.UUID]*Registration
	seq     uint64
	wake    chan struct{}
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewLoop creates a stopped loop.
func NewLoop(opts ...Option) *Loop {
	cfg := defaultLoopConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newLoop(0, cfg)
}

func newLoop(index int, cfg loopConfig) *Loop {
	l := &Loop{
		index:  index,
		config: cfg,
		logger: cfg.logger.WithComponent("scheduler").With("shard", index),
		tasks:  make(map[uuid.UUID]*Registration),
		wake:   make(chan struct{}, 1),
	}
	l.dispatcher = dispatch.NewSyncDispatcher(
		dispatch.WithTimeout(cfg.taskTimeout),
		dispatch.WithPanicHandler(func(_ any, v any, stack []byte) {
			l.logger.Debug("task panic stack", "value", v, "stack", string(stack))
		}),
	)
	return l
}

// Index returns the loop's shard index.
func (l *Loop) Index() int { return l.index }

// RegisterDelayed schedules task to run once, delay after now.
func (l *Loop) RegisterDelayed(task Task, delay time.Duration) (*Registration, error) {
	if delay < 0 {
		return nil, ErrInvalidDelay
	}
	return l.add(task, OneShot, delay, "", nil)
}

// RegisterRepeating schedules task to run every interval. An optional delay
// postpones the first run; without it the first run is immediate.
func (l *Loop) RegisterRepeating(task Task, interval time.Duration, delay ...time.Duration) (*Registration, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	d, err := optionalDelay(delay)
	if err != nil {
		return nil, err
	}
	return l.add(task, interval, d, "", nil)
}

// RegisterCron schedules task on a cron expression. Standard five-field
// expressions and descriptors such as "@every 30s" or "@hourly" are accepted.
func (l *Loop) RegisterCron(task Task, spec string) (*Registration, error) {
	sched, err := parseCron(spec)
	if err != nil {
		return nil, err
	}
	return l.add(task, 0, 0, spec, sched)
}

func (l *Loop) add(task Task, interval, delay time.Duration, spec string, sched cron.Schedule) (*Registration, error) {
	if task == nil {
		return nil, ErrNilTask
	}

	reg := &Registration{
		id:           uuid.New(),
		task:         task,
		interval:     interval,
		delay:        delay,
		registeredAt: l.config.now(),
		cronSpec:     spec,
		cronSched:    sched,
		shard:        l.index,
		owner:        l,
		index:        -1,
	}
	reg.next = reg.firstEligible()

	l.mu.Lock()
	l.seq++
	reg.seq = l.seq
	l.tasks[reg.id] = reg
	heap.Push(&l.waiting, reg)
	l.mu.Unlock()

	l.signal()
	return reg, nil
}

// Unregister removes reg. It reports false when reg does not belong to this
// loop or was already removed.
func (l *Loop) Unregister(reg *Registration) bool {
	if reg == nil || reg.owner != l {
		return false
	}

	l.mu.Lock()
	removed := l.removeLocked(reg)
	l.mu.Unlock()

	if removed {
		l.signal()
	}
	return removed
}

func (l *Loop) removeLocked(reg *Registration) bool {
	if _, ok := l.tasks[reg.id]; !ok {
		return false
	}
	delete(l.tasks, reg.id)
	if reg.index >= 0 {
		heap.Remove(&l.waiting, reg.index)
	}
	reg.markRemoved()
	return true
}

// IsRegistered reports whether reg is scheduled on this loop.
func (l *Loop) IsRegistered(reg *Registration) bool {
	if reg == nil || reg.owner != l {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tasks[reg.id]
	return ok
}

// Clear removes every registration and returns how many there were.
func (l *Loop) Clear() int {
	l.mu.Lock()
	n := len(l.tasks)
	for _, reg := range l.tasks {
		reg.markRemoved()
	}
	l.tasks = make(map[uuid.UUID]*Registration)
	for _, reg := range l.waiting {
		reg.index = -1
	}
	l.waiting = nil
	l.mu.Unlock()

	l.signal()
	return n
}

// Len returns the number of registrations.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Start launches the loop goroutine. Starting a running loop is a no-op, and
// a stopped loop can be started again.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}
	prev := l.done
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.running = true

	go l.run(prev, l.stop, l.done)
	return nil
}

// Interrupt asks the loop to exit after the task it is running, if any.
func (l *Loop) Interrupt() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	close(l.stop)
	l.running = false
}

// Stop interrupts the loop and waits for it to exit or for ctx to be done.
func (l *Loop) Stop(ctx context.Context) error {
	l.Interrupt()

	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shard %d: %w", l.index, ctx.Err())
	}
}

// IsRunning reports whether the loop is started and not interrupted.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		reg, wait := l.nextDue()
		if reg == nil {
			var tick <-chan time.Time
			if wait > 0 {
				timer.Reset(wait)
				tick = timer.C
			}
			select {
			case <-stop:
				return
			case <-l.wake:
			case <-tick:
			}
			timer.Stop()
			continue
		}

		l.execute(reg)
	}
}

// nextDue pops the earliest registration if it is eligible. Otherwise it
// returns how long until the earliest one is, or zero if there are none.
func (l *Loop) nextDue() (*Registration, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiting) == 0 {
		return nil, 0
	}
	head := l.waiting[0]
	if wait := head.next.Sub(l.config.now()); wait > 0 {
		return nil, wait
	}
	return heap.Pop(&l.waiting).(*Registration), 0
}

func (l *Loop) execute(reg *Registration) {
	now := l.config.now()
	elapsed, _ := reg.Due(now)
	lag := now.Sub(reg.next)
	reg.markRun(now)

	res := l.dispatcher.Dispatch(context.Background(), reg, dispatch.HandlerFunc(
		func(ctx context.Context, _ any) error {
			return reg.task.Run(ctx, now, elapsed)
		}))
	failed := !res.IsSuccess()
	l.config.metrics.TaskExecuted(context.Background(), l.index, lag, failed)

	l.mu.Lock()
	_, still := l.tasks[reg.id]
	remove := still && (reg.IsOneShot() || (failed && l.config.removeOnFailure))
	if remove {
		l.removeLocked(reg)
	} else if still {
		reg.next = reg.nextAfter(now)
		if reg.next.IsZero() {
			l.removeLocked(reg)
			remove = true
		} else {
			heap.Push(&l.waiting, reg)
		}
	}
	l.mu.Unlock()

	if failed {
		l.report(&TaskError{TaskID: reg.id, Shard: l.index, Removed: remove, Err: res.Err()}, res.Panicked)
	}
}

func (l *Loop) report(err *TaskError, panicked bool) {
	l.logger.Error("task failed",
		"task_id", err.TaskID,
		"removed", err.Removed,
		"panicked", panicked,
		"error", err.Err,
	)
	if l.config.onError != nil {
		l.config.onError(err)
	}
}

func optionalDelay(delay []time.Duration) (time.Duration, error) {
	switch len(delay) {
	case 0:
		return NoDelay, nil
	case 1:
		if delay[0] < 0 {
			return 0, ErrInvalidDelay
		}
		return delay[0], nil
	}
	return 0, ErrInvalidDelay
}

func parseCron(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, spec, err)
	}
	return sched, nil
}
