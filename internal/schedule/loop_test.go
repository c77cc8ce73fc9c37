package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pulse/internal/event/dispatch"
)

// runLog records every invocation of a task.
type runLog struct {
	mu      sync.Mutex
	nows    []time.Time
	elapsed []time.Duration
}

func (r *runLog) task() Task {
	return Func(func(now time.Time, elapsed time.Duration) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.nows = append(r.nows, now)
		r.elapsed = append(r.elapsed, elapsed)
	})
}

func (r *runLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nows)
}

func (r *runLog) snapshot() ([]time.Time, []time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.nows...), append([]time.Duration(nil), r.elapsed...)
}

func startLoop(t *testing.T, opts ...Option) *Loop {
	t.Helper()
	l := NewLoop(opts...)
	require.NoError(t, l.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Stop(ctx)
	})
	return l
}

func TestLoop_DelayedTaskFiresOnceAndIsRemoved(t *testing.T) {
	log := &runLog{}
	l := startLoop(t)

	reg, err := l.RegisterDelayed(log.task(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, reg.IsOneShot())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.IsRegistered(reg))
	assert.Equal(t, TaskPending, reg.State())
	assert.Zero(t, reg.Runs())
	_, ran := reg.LastRun()
	assert.False(t, ran)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, log.count())
	assert.False(t, l.IsRegistered(reg))
	assert.Equal(t, TaskRemoved, reg.State())
	assert.Equal(t, uint64(1), reg.Runs())

	nows, elapsed := log.snapshot()
	assert.GreaterOrEqual(t, elapsed[0], 100*time.Millisecond)
	assert.False(t, nows[0].Before(reg.RegisteredAt().Add(100*time.Millisecond)))
	assert.Zero(t, l.Len())
}

func TestLoop_RepeatingGapsAtLeastInterval(t *testing.T) {
	const interval = 15 * time.Millisecond
	log := &runLog{}
	l := startLoop(t)

	reg, err := l.RegisterRepeating(log.task(), interval)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.count() >= 5 }, 2*time.Second, time.Millisecond)
	require.True(t, l.Unregister(reg))

	nows, elapsed := log.snapshot()
	for i := 1; i < len(nows); i++ {
		assert.GreaterOrEqual(t, nows[i].Sub(nows[i-1]), interval)
		assert.Equal(t, nows[i].Sub(nows[i-1]), elapsed[i])
	}
	assert.Equal(t, TaskRemoved, reg.State())
}

func TestLoop_RepeatingWithDelay(t *testing.T) {
	log := &runLog{}
	l := startLoop(t)

	reg, err := l.RegisterRepeating(log.task(), 10*time.Millisecond, 60*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Millisecond, reg.Delay())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, log.count())

	require.Eventually(t, func() bool { return log.count() >= 2 }, time.Second, time.Millisecond)
	nows, _ := log.snapshot()
	assert.False(t, nows[0].Before(reg.RegisteredAt().Add(60*time.Millisecond)))
	assert.Equal(t, TaskActive, reg.State())
}

func TestLoop_NoDelayRunsPromptlyWhileRunning(t *testing.T) {
	log := &runLog{}
	l := startLoop(t)
	time.Sleep(5 * time.Millisecond)

	_, err := l.RegisterDelayed(log.task(), NoDelay)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.count() == 1 }, 200*time.Millisecond, time.Millisecond)
}

func TestLoop_EarlierTaskRegisteredLaterRunsFirst(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) Task {
		return Func(func(time.Time, time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		})
	}
	l := startLoop(t)

	_, err := l.RegisterDelayed(record("slow"), 80*time.Millisecond)
	require.NoError(t, err)
	_, err = l.RegisterDelayed(record("fast"), 20*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestLoop_FailuresAreReportedAndTaskStays(t *testing.T) {
	var runs atomic.Int32
	var mu sync.Mutex
	var failures []*TaskError

	l := startLoop(t, WithErrorHandler(func(err *TaskError) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}))

	reg, err := l.RegisterRepeating(TaskFunc(func(context.Context, time.Time, time.Duration) error {
		if runs.Add(1)%2 == 0 {
			panic("even run")
		}
		return errors.New("odd run")
	}), 5*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) >= 4
	}, time.Second, time.Millisecond)
	assert.True(t, l.IsRegistered(reg))
	require.True(t, l.Unregister(reg))

	mu.Lock()
	defer mu.Unlock()
	assert.EqualError(t, failures[0].Err, "odd run")
	assert.ErrorIs(t, failures[1], dispatch.ErrPanicked)
	assert.False(t, failures[0].Removed)
	assert.Equal(t, reg.ID(), failures[0].TaskID)
}

func TestLoop_RemoveOnFailure(t *testing.T) {
	var runs atomic.Int32
	removed := make(chan *TaskError, 1)
	l := startLoop(t, WithRemoveOnFailure(), WithErrorHandler(func(err *TaskError) { removed <- err }))

	reg, err := l.RegisterRepeating(TaskFunc(func(context.Context, time.Time, time.Duration) error {
		runs.Add(1)
		return errors.New("fail")
	}), time.Millisecond)
	require.NoError(t, err)

	select {
	case terr := <-removed:
		assert.True(t, terr.Removed)
	case <-time.After(time.Second):
		t.Fatal("task failure not reported")
	}
	assert.False(t, l.IsRegistered(reg))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestLoop_Preconditions(t *testing.T) {
	l := NewLoop()
	task := Func(func(time.Time, time.Duration) {})

	_, err := l.RegisterDelayed(nil, time.Second)
	assert.ErrorIs(t, err, ErrNilTask)
	_, err = l.RegisterDelayed(Func(nil), time.Second)
	assert.ErrorIs(t, err, ErrNilTask)
	_, err = l.RegisterDelayed(task, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidDelay)
	_, err = l.RegisterRepeating(task, 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = l.RegisterRepeating(task, OneShot)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = l.RegisterRepeating(task, time.Second, -1)
	assert.ErrorIs(t, err, ErrInvalidDelay)
	_, err = l.RegisterRepeating(task, time.Second, 1, 2)
	assert.ErrorIs(t, err, ErrInvalidDelay)
	_, err = l.RegisterCron(task, "not a cron")
	assert.ErrorIs(t, err, ErrInvalidCron)

	assert.Zero(t, l.Len())
}

func TestLoop_UnregisterAndForeignRegistrations(t *testing.T) {
	a, b := NewLoop(), NewLoop()
	task := Func(func(time.Time, time.Duration) {})

	reg, err := a.RegisterRepeating(task, time.Hour)
	require.NoError(t, err)

	assert.False(t, b.IsRegistered(reg))
	assert.False(t, b.Unregister(reg))
	assert.True(t, a.IsRegistered(reg))

	assert.True(t, a.Unregister(reg))
	assert.False(t, a.Unregister(reg))
	assert.False(t, a.IsRegistered(nil))
	assert.False(t, a.Unregister(nil))
}

func TestLoop_Clear(t *testing.T) {
	l := NewLoop()
	task := Func(func(time.Time, time.Duration) {})

	r1, _ := l.RegisterRepeating(task, time.Hour)
	r2, _ := l.RegisterDelayed(task, time.Hour)
	r3, _ := l.RegisterCron(task, "@hourly")
	assert.Equal(t, "@hourly", r3.Cron())

	assert.Equal(t, 3, l.Clear())
	assert.Zero(t, l.Len())
	for _, r := range []*Registration{r1, r2, r3} {
		assert.False(t, l.IsRegistered(r))
		assert.Equal(t, TaskRemoved, r.State())
	}
}

func TestLoop_TasksWaitUntilStarted(t *testing.T) {
	log := &runLog{}
	l := NewLoop()

	_, err := l.RegisterDelayed(log.task(), NoDelay)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, log.count())

	require.NoError(t, l.Start())
	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, l.Stop(context.Background()))
}

func TestLoop_StartStopIdempotentAndRestartable(t *testing.T) {
	log := &runLog{}
	l := NewLoop()

	require.NoError(t, l.Stop(context.Background()))
	require.NoError(t, l.Start())
	require.NoError(t, l.Start())
	assert.True(t, l.IsRunning())
	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.IsRunning())

	_, err := l.RegisterDelayed(log.task(), NoDelay)
	require.NoError(t, err)
	require.NoError(t, l.Start())
	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, l.Stop(context.Background()))
}

func TestLoop_InterruptLetsRunningTaskFinish(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	l := NewLoop()
	_, err := l.RegisterDelayed(Func(func(time.Time, time.Duration) {
		close(entered)
		<-release
		finished.Store(true)
	}), NoDelay)
	require.NoError(t, err)
	other := &runLog{}
	_, err = l.RegisterDelayed(other.task(), NoDelay)
	require.NoError(t, err)

	require.NoError(t, l.Start())
	<-entered
	l.Interrupt()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))

	assert.True(t, finished.Load())
	assert.Zero(t, other.count())
	assert.Equal(t, 1, l.Len())
}

func TestLoop_StopTimeout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	l := NewLoop()
	_, err := l.RegisterDelayed(Func(func(time.Time, time.Duration) {
		close(entered)
		<-release
	}), NoDelay)
	require.NoError(t, err)
	require.NoError(t, l.Start())
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Stop(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, l.Stop(context.Background()))
}

func TestLoop_TaskTimeout(t *testing.T) {
	got := make(chan bool, 1)
	l := startLoop(t, WithTaskTimeout(time.Second))

	_, err := l.RegisterDelayed(TaskFunc(func(ctx context.Context, _ time.Time, _ time.Duration) error {
		_, ok := ctx.Deadline()
		got <- ok
		return nil
	}), NoDelay)
	require.NoError(t, err)

	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}
