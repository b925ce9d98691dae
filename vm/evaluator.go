package vm

import "github.com/chazu/framehook/pkg/bytecode"

// Evaluator executes frames. The interpreter calls the installed evaluator
// for every frame evaluated through ThreadState.Evaluate, including frames
// called from inside other frames, so implementations must be reentrant.
//
// An evaluator must call ts.PeriodicWork at every backward jump and
// anywhere else it could run for an unbounded time, and return the error
// it reports unchanged. Without that, other threads never get the global
// lock and pending calls never run. Nothing enforces this.
//
// throwflag asks the evaluator to raise f.Thrown at the frame's resume
// point instead of continuing normally.
type Evaluator interface {
	EvalFrame(ts *ThreadState, f *bytecode.Frame, throwflag bool) (string, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ts *ThreadState, f *bytecode.Frame, throwflag bool) (string, error)

// EvalFrame calls fn(ts, f, throwflag).
func (fn EvaluatorFunc) EvalFrame(ts *ThreadState, f *bytecode.Frame, throwflag bool) (string, error) {
	return fn(ts, f, throwflag)
}

// DefaultEvaluator is the built-in evaluator: bytecode.Run with the thread
// state as host.
type DefaultEvaluator struct{}

// EvalFrame implements Evaluator.
func (DefaultEvaluator) EvalFrame(ts *ThreadState, f *bytecode.Frame, throwflag bool) (string, error) {
	return bytecode.Run(f, throwflag, ts)
}
