package vm

import (
	"fmt"
	"sync"

	"github.com/chazu/framehook/pkg/bytecode"
)

// ThreadState is the execution state of one attached thread: the frame it
// is running, its call depth and any asynchronous exception posted to it.
//
// Apart from SetAsyncExc, its methods must be called from the goroutine
// that owns it, and evaluation requires holding the global lock.
type ThreadState struct {
	interp *Interpreter
	rt     *Runtime
	id     uint32

	frame *bytecode.Frame
	depth int
	limit int

	excMu    sync.Mutex
	asyncExc error
	excSeq   uint64 // number of posts, guarded by excMu
}

// ID returns the thread state's identifier, unique within its runtime.
func (ts *ThreadState) ID() uint32 { return ts.id }

// Interpreter returns the interpreter the thread state is attached to.
func (ts *ThreadState) Interpreter() *Interpreter { return ts.interp }

// Frame returns the frame currently being evaluated, or nil.
func (ts *ThreadState) Frame() *bytecode.Frame { return ts.frame }

// Depth returns the number of nested Evaluate calls in progress.
func (ts *ThreadState) Depth() int { return ts.depth }

// Evaluate runs f with the interpreter's installed evaluator. It is the
// single entry point for frame evaluation: top-level calls, OpCall and
// resumption of suspended frames all come through here.
func (ts *ThreadState) Evaluate(f *bytecode.Frame, throwflag bool) (string, error) {
	if ts.depth >= ts.limit {
		return "", &RecursionError{Name: f.Name(), Limit: ts.limit}
	}
	prev := ts.frame
	if prev != f {
		f.Back = prev
	}
	ts.frame = f
	ts.depth++
	defer func() {
		ts.frame = prev
		ts.depth--
	}()
	return ts.interp.evaluator.EvalFrame(ts, f, throwflag)
}

// Run evaluates the chunk registered under name with args in a new frame.
func (ts *ThreadState) Run(name string, args ...string) (string, error) {
	chunk, ok := ts.interp.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCode, name)
	}
	return ts.Evaluate(bytecode.NewFrame(chunk, args), false)
}

// SafePoint implements bytecode.Host.
func (ts *ThreadState) SafePoint() error {
	return ts.PeriodicWork()
}

// Call implements bytecode.Host. The callee is evaluated through Evaluate,
// so nested calls reach the installed evaluator too.
func (ts *ThreadState) Call(caller *bytecode.Frame, name string, args []string) (string, error) {
	chunk, ok := ts.interp.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCode, name)
	}
	f := bytecode.NewFrame(chunk, args)
	f.Back = caller
	return ts.Evaluate(f, false)
}

// Acquire takes the global lock for ts and makes it current. If another
// thread is finalizing the runtime, the calling goroutine exits instead.
func (ts *ThreadState) Acquire() {
	rt := ts.rt
	rt.gil.take(ts)
	if fin := rt.finalizing.Load(); fin != nil && fin != ts {
		rt.gil.drop(ts)
		ts.exit()
	}
	if prev := rt.current.Swap(ts); prev != nil {
		fatal("acquire: thread %d found orphan thread state %d", ts.id, prev.id)
	}
}

// Release gives up the global lock. ts must be current.
func (ts *ThreadState) Release() {
	rt := ts.rt
	if prev := rt.current.Swap(nil); prev != ts {
		fatal("release: thread state mix-up: thread %d released while %s was current", ts.id, describe(prev))
	}
	rt.gil.drop(ts)
}

// Close detaches the thread state from its interpreter and discards any
// undelivered asynchronous exception. It must not hold the global lock.
func (ts *ThreadState) Close() {
	ts.SetAsyncExc(nil)
	ts.interp.detach(ts)
	ts.rt.mainThread.CompareAndSwap(ts, nil)
}

// SetAsyncExc posts err to be raised at the thread's next safe point. It
// may be called from any goroutine. Posting again before delivery replaces
// the earlier exception, so only the latest is delivered. A nil err clears
// the post.
func (ts *ThreadState) SetAsyncExc(err error) {
	ts.postAsyncExc(err)
}

// postAsyncExc is SetAsyncExc returning the post's sequence number.
func (ts *ThreadState) postAsyncExc(err error) uint64 {
	ts.excMu.Lock()
	defer ts.excMu.Unlock()

	prev := ts.asyncExc
	ts.asyncExc = err
	ts.excSeq++
	switch {
	case prev == nil && err != nil:
		ts.rt.breaker.signalAsyncExc()
	case prev != nil && err == nil:
		ts.rt.breaker.unsignalAsyncExc()
	case prev != nil && err != nil:
		log.Debugf("thread %d: asynchronous exception %q replaced by %q", ts.id, prev, err)
	}
	return ts.excSeq
}

// withdrawAsyncExc clears the post numbered seq if it is still undelivered
// and nothing was posted after it.
func (ts *ThreadState) withdrawAsyncExc(seq uint64) {
	ts.excMu.Lock()
	defer ts.excMu.Unlock()

	if ts.excSeq == seq && ts.asyncExc != nil {
		ts.asyncExc = nil
		ts.rt.breaker.unsignalAsyncExc()
	}
}

// takeAsyncExc returns and clears the posted exception.
func (ts *ThreadState) takeAsyncExc() error {
	ts.excMu.Lock()
	defer ts.excMu.Unlock()

	err := ts.asyncExc
	if err != nil {
		ts.asyncExc = nil
		ts.rt.breaker.unsignalAsyncExc()
	}
	return err
}

func describe(ts *ThreadState) string {
	if ts == nil {
		return "no thread"
	}
	return fmt.Sprintf("thread %d", ts.id)
}
