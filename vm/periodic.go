package vm

import "runtime"

// PeriodicWork is the safe-point check every evaluator must call at each
// backward jump. When the interrupt flag is clear it returns nil after a
// single atomic load. Otherwise, in order:
//
//  1. On the main thread, queued pending calls run; the first failure is
//     returned.
//  2. If another thread asked for the global lock, ts releases it and takes
//     it back, letting the other thread run in between. Finding a foreign
//     thread state current at either end is fatal.
//  3. If another thread is finalizing the runtime, the goroutine exits
//     while it does not hold the lock. PeriodicWork does not return.
//  4. A posted asynchronous exception is taken, cleared and returned.
//
// A non-nil result must be propagated by the evaluator as the failure of
// the current frame.
func (ts *ThreadState) PeriodicWork() error {
	if !ts.rt.breaker.isSet() {
		return nil
	}
	return ts.handleInterrupts()
}

func (ts *ThreadState) handleInterrupts() error {
	rt := ts.rt

	if rt.breaker.pendingCallsToDo() {
		if err := ts.MakePendingCalls(); err != nil {
			return err
		}
	}

	if rt.breaker.dropRequested() {
		if prev := rt.current.Swap(nil); prev != ts {
			fatal("periodic work: thread state mix-up: thread %d yielding while %s was current", ts.id, describe(prev))
		}
		rt.gil.drop(ts)

		// Other threads run here.

		rt.gil.take(ts)
		if fin := rt.finalizing.Load(); fin != nil && fin != ts {
			rt.gil.drop(ts)
			ts.exit()
		}
		if prev := rt.current.Swap(ts); prev != nil {
			fatal("periodic work: orphan thread state: %s current after thread %d reacquired the lock", describe(prev), ts.id)
		}
	}

	return ts.takeAsyncExc()
}

// exit terminates the calling goroutine during runtime finalization.
// Deferred calls run; the caller never resumes.
func (ts *ThreadState) exit() {
	log.Debugf("thread %d exiting: runtime finalizing on %s", ts.id, describe(ts.rt.finalizing.Load()))
	runtime.Goexit()
}
