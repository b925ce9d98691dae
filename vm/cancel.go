package vm

import (
	"context"
	"sync"
)

// InterruptOnDone posts context.Cause(ctx) as an asynchronous exception to
// ts when ctx is done. Evaluation on ts then fails at its next safe point.
//
// The returned stop function ends the interruption. It reports true if ctx
// had not fired yet. Otherwise it waits for the post and withdraws it if no
// safe point has taken it, so nothing from ctx reaches later work on ts.
func (ts *ThreadState) InterruptOnDone(ctx context.Context) (stop func() bool) {
	var seq uint64
	posted := make(chan struct{})
	stopPost := context.AfterFunc(ctx, func() {
		defer close(posted)
		seq = ts.postAsyncExc(context.Cause(ctx))
	})

	var (
		once    sync.Once
		stopped bool
	)
	return func() bool {
		once.Do(func() {
			if stopPost() {
				stopped = true
				return
			}
			<-posted
			ts.withdrawAsyncExc(seq)
		})
		return stopped
	}
}
