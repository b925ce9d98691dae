package vm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/framehook/pkg/bytecode"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Runtime.SwitchInterval.Duration = time.Millisecond
	return cfg
}

// newTestInterp returns an interpreter on a fresh runtime with the given
// chunks registered.
func newTestInterp(t *testing.T, cfg *Config, chunks ...*bytecode.Chunk) *Interpreter {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	interp := NewRuntime(cfg).NewInterpreter()
	for _, c := range chunks {
		interp.Register(c)
	}
	return interp
}

// attach creates a thread state holding the lock, released at cleanup.
func attach(t *testing.T, interp *Interpreter) *ThreadState {
	t.Helper()
	ts := interp.NewThreadState()
	ts.Acquire()
	t.Cleanup(func() {
		if interp.rt.Current() == ts {
			ts.Release()
		}
	})
	return ts
}

func constChunk(name, value string) *bytecode.Chunk {
	c := bytecode.NewChunk(name)
	c.EmitConstant(value)
	c.Emit(bytecode.OpReturn)
	return c
}

// countdownChunk loops n times and returns "0".
func countdownChunk(name, n string) *bytecode.Chunk {
	c := bytecode.NewChunk(name)
	c.EmitConstant(n)
	c.EmitLocal(bytecode.OpStoreLocal, 0)
	loop := c.CurrentOffset()
	c.EmitLocal(bytecode.OpLoadLocal, 0)
	c.Emit(bytecode.OpConstZero)
	c.Emit(bytecode.OpGt)
	exit := c.EmitJump(bytecode.OpJumpFalse)
	c.EmitLocal(bytecode.OpLoadLocal, 0)
	c.Emit(bytecode.OpConstOne)
	c.Emit(bytecode.OpSub)
	c.EmitLocal(bytecode.OpStoreLocal, 0)
	c.EmitLoop(loop)
	c.PatchJump(exit)
	c.EmitLocal(bytecode.OpLoadLocal, 0)
	c.Emit(bytecode.OpReturn)
	return c
}

// foreverChunk loops until a safe point fails.
func foreverChunk(name string) *bytecode.Chunk {
	c := bytecode.NewChunk(name)
	loop := c.CurrentOffset()
	c.Emit(bytecode.OpNop)
	c.EmitLoop(loop)
	return c
}

// callerChunk calls callee with no arguments and returns its result.
func callerChunk(name, callee string) *bytecode.Chunk {
	c := bytecode.NewChunk(name)
	c.EmitCall(callee, 0)
	c.Emit(bytecode.OpReturn)
	return c
}

// countingHost wraps a thread state and counts safe points.
type countingHost struct {
	ts         *ThreadState
	safePoints *atomic.Int64
}

func (h countingHost) SafePoint() error {
	h.safePoints.Add(1)
	return h.ts.PeriodicWork()
}

func (h countingHost) Call(caller *bytecode.Frame, name string, args []string) (string, error) {
	return h.ts.Call(caller, name, args)
}

// countingEvaluator runs the default loop and counts frames and safe points.
type countingEvaluator struct {
	frames     atomic.Int64
	safePoints atomic.Int64
}

func (e *countingEvaluator) EvalFrame(ts *ThreadState, f *bytecode.Frame, throwflag bool) (string, error) {
	e.frames.Add(1)
	return bytecode.Run(f, throwflag, countingHost{ts: ts, safePoints: &e.safePoints})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// hasAsyncExc reports whether ts holds an undelivered asynchronous
// exception.
func hasAsyncExc(ts *ThreadState) bool {
	ts.excMu.Lock()
	defer ts.excMu.Unlock()
	return ts.asyncExc != nil
}

// expectFatal runs fn and reports whether it panicked with a *FatalError.
func expectFatal(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if _, ok := r.(*FatalError); !ok {
			t.Errorf("recovered %v, want *FatalError", r)
		}
	}()
	fn()
}
