// Package schedule runs delayed, repeating and cron-driven tasks.
//
// A Loop owns a set of task registrations and runs each one on the loop's
// goroutine when it becomes eligible:
//
//   - a task that has never run is eligible once Delay has passed since it
//     was registered;
//   - a task that has run is eligible once Interval has passed since its
//     last run.
//
// The callback receives the current time and the time elapsed since
// registration (first run) or since its previous run. One-shot tasks are
// removed as soon as they have fired.
//
// Registrations are kept in a min-heap keyed by the next eligible time. The
// loop sleeps until the earliest deadline or until the task set changes, so
// an idle loop costs nothing.
//
// Sharded spreads registrations over several independent loops in
// round-robin order. Each registration stays on the shard it was placed on.
//
//	s, _ := schedule.NewSharded(4, schedule.WithLogger(logger))
//	s.Start()
//	reg, _ := s.RegisterRepeating(schedule.Func(flush), time.Second)
//	...
//	s.Unregister(reg)
//	s.Stop(ctx)
//
// A task that returns an error or panics is logged and stays scheduled
// unless the loop was built with WithRemoveOnFailure.
package schedule
