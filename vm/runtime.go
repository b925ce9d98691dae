package vm

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"

	"github.com/chazu/framehook/pkg/bytecode"
)

// Runtime is the process-level state shared by every interpreter and
// thread: the global execution lock, the interrupt flag, the pending-call
// queue and the thread that currently holds the lock.
//
// Several runtimes may coexist in one process; they share nothing.
type Runtime struct {
	cfg *Config

	gil     gil
	breaker evalBreaker
	pending pendingCalls

	current    atomic.Pointer[ThreadState] // holder of the lock
	mainThread atomic.Pointer[ThreadState] // runs pending calls
	finalizing atomic.Pointer[ThreadState]

	// Only ever incremented; Add is a locked instruction on every platform.
	nextThreadID atomix.Uint32
	nextInterpID atomix.Uint32

	mu      sync.Mutex
	interps []*Interpreter
}

// NewRuntime creates a runtime. A nil cfg uses DefaultConfig.
func NewRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.applyDefaults()
	}
	r := &Runtime{cfg: cfg}
	r.gil.init(cfg.Runtime.SwitchInterval.Duration, &r.breaker)
	r.pending.init(cfg.Runtime.PendingCalls, &r.breaker)
	log.Debugf("runtime created: switch interval %s, %d pending calls, recursion limit %d",
		cfg.Runtime.SwitchInterval, cfg.Runtime.PendingCalls, cfg.Runtime.RecursionLimit)
	return r
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() *Config {
	return r.cfg
}

// NewInterpreter creates an interpreter running the default evaluator.
func (r *Runtime) NewInterpreter() *Interpreter {
	interp := &Interpreter{
		rt:        r,
		id:        r.nextInterpID.Add(1),
		evaluator: DefaultEvaluator{},
		code:      make(map[string]*bytecode.Chunk),
	}
	r.mu.Lock()
	r.interps = append(r.interps, interp)
	r.mu.Unlock()
	return interp
}

// Current returns the thread state holding the global lock, or nil.
func (r *Runtime) Current() *ThreadState {
	return r.current.Load()
}

// MainThread returns the thread state that runs pending calls: the first
// thread state created on this runtime.
func (r *Runtime) MainThread() *ThreadState {
	return r.mainThread.Load()
}

// LockStats returns counters of the global execution lock.
func (r *Runtime) LockStats() LockStats {
	return r.gil.stats()
}

// Finalize marks the runtime as shutting down on behalf of ts, which must
// hold the global lock. From then on every other thread exits the next time
// it reacquires the lock.
func (r *Runtime) Finalize(ts *ThreadState) {
	if r.current.Load() != ts {
		fatal("finalize: thread %d does not hold the global lock", ts.id)
	}
	r.finalizing.Store(ts)
	log.Infof("runtime finalizing on thread %d", ts.id)
}

// Finalizing returns the thread finalizing the runtime, or nil.
func (r *Runtime) Finalizing() *ThreadState {
	return r.finalizing.Load()
}
