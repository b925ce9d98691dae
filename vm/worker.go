package vm

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// workRequest represents a unit of work to be executed on a worker thread.
type workRequest struct {
	ctx  context.Context
	fn   func(*ThreadState) (string, error)
	done chan workResult
}

// workResult holds the return value from a worker request.
type workResult struct {
	value string
	err   error
}

// Worker is an attached thread: a goroutine locked to its OS thread that
// owns one ThreadState and runs requests on it one at a time, each while
// holding the global lock.
type Worker struct {
	ts       *ThreadState
	requests chan workRequest
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker attaches a new thread state to the interpreter and starts the
// goroutine that serves it.
func (i *Interpreter) NewWorker() *Worker {
	w := &Worker{
		ts:       i.NewThreadState(),
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// ThreadState returns the worker's thread state.
func (w *Worker) ThreadState() *ThreadState {
	return w.ts
}

// loop processes requests sequentially on a dedicated OS thread.
func (w *Worker) loop() {
	runtime.LockOSThread()

	var current *workRequest
	defer func() {
		// Reached normally on Stop, or through runtime.Goexit when another
		// thread finalizes the runtime.
		close(w.done)
		if current != nil {
			current.done <- workResult{err: ErrThreadExited}
		}
	}()

	for {
		select {
		case req := <-w.requests:
			current = &req
			req.done <- w.execute(req)
			current = nil
		case <-w.quit:
			return
		}
	}
}

// execute runs a request holding the global lock, turning panics other than
// fatal errors into errors.
func (w *Worker) execute(req workRequest) workResult {
	w.ts.Acquire()

	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				if fe, ok := r.(*FatalError); ok {
					panic(fe)
				}
				result.err = fmt.Errorf("panic on thread %d: %v", w.ts.id, r)
			}
		}()
		if req.ctx != nil {
			stop := w.ts.InterruptOnDone(req.ctx)
			defer stop()
		}
		result.value, result.err = req.fn(w.ts)
	}()

	// Not deferred: after runtime.Goexit the lock is no longer held.
	w.ts.Release()
	return result
}

// Do runs fn on the worker's thread while holding the global lock and
// blocks until it completes. Returns the result and any error (including
// panics).
func (w *Worker) Do(fn func(*ThreadState) (string, error)) (string, error) {
	return w.submit(workRequest{fn: fn, done: make(chan workResult, 1)})
}

// DoContext is Do with cancellation: when ctx is done, its cause is posted
// to the worker's thread state as an asynchronous exception, so evaluation
// fails at the next safe point.
func (w *Worker) DoContext(ctx context.Context, fn func(*ThreadState) (string, error)) (string, error) {
	return w.submit(workRequest{ctx: ctx, fn: fn, done: make(chan workResult, 1)})
}

func (w *Worker) submit(req workRequest) (string, error) {
	select {
	case w.requests <- req:
	case <-w.done:
		return "", ErrThreadExited
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.done:
		select {
		case result := <-req.done:
			return result.value, result.err
		default:
			return "", ErrThreadExited
		}
	}
}

// Evaluate runs the chunk registered under name on the worker's thread.
func (w *Worker) Evaluate(ctx context.Context, name string, args ...string) (string, error) {
	return w.DoContext(ctx, func(ts *ThreadState) (string, error) {
		return ts.Run(name, args...)
	})
}

// Done is closed when the worker's goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop shuts down the worker goroutine and detaches its thread state. It
// may be called more than once, from any goroutine.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		<-w.done
		w.ts.Close()
	})
}
