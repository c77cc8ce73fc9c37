// Package dispatch invokes user-supplied callbacks with error and panic
// containment.
//
// Both the event bus and the task scheduler hand callbacks to a
// SyncDispatcher. The dispatcher runs the callback in the caller's goroutine,
// recovers any panic, measures the execution time, and reports the outcome as
// a Result. A failing callback never unwinds into the loop that invoked it.
//
// # Usage
//
//	d := dispatch.NewSyncDispatcher(
//	    dispatch.WithTimeout(2*time.Second),
//	    dispatch.WithPanicHandler(func(subject any, v any, stack []byte) {
//	        logger.Error("callback panicked", "value", v)
//	    }),
//	)
//	res := d.Dispatch(ctx, ev, handler)
//	if err := res.Err(); err != nil {
//	    // report and continue
//	}
//
// Handlers that honour context cancellation observe the timeout through the
// context they are given. Execution is never forcibly aborted.
package dispatch
