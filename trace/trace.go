package trace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/chazu/framehook/pkg/bytecode"
	"github.com/chazu/framehook/vm"
)

// ScriptError is a JavaScript exception raised by a trace script.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return "trace script: " + e.Message
}

// Tracer is a frame evaluator that reports every frame to a JavaScript
// program before and after handing it to a base evaluator.
//
// The script may define any of:
//
//	function enter(name, depth, resumed) { ... }
//	function leave(name, depth, result, error) { ... }
//
// error is null when the frame succeeded. An exception thrown by enter
// fails the frame without running it; one thrown by leave replaces the
// frame's outcome. print(...) and log(...) are available to the script.
//
// Script functions run on whichever thread evaluates the frame, always
// under the global execution lock, so a single goja runtime is shared.
type Tracer struct {
	js     *goja.Runtime
	base   vm.Evaluator
	enter  goja.Callable
	leave  goja.Callable
	output func(string)
	frames uint64
}

// New compiles script and returns a tracer around base. A nil base uses
// vm.DefaultEvaluator.
func New(script string, base vm.Evaluator) (*Tracer, error) {
	if base == nil {
		base = vm.DefaultEvaluator{}
	}
	t := &Tracer{
		js:     goja.New(),
		base:   base,
		output: func(string) {},
	}

	set := func(name string, fn func(goja.FunctionCall) goja.Value) error {
		if err := t.js.Set(name, fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
		return nil
	}
	if err := set("print", t.jsPrint); err != nil {
		return nil, err
	}
	if err := set("log", t.jsLog); err != nil {
		return nil, err
	}

	if _, err := t.js.RunString(script); err != nil {
		return nil, scriptError(err)
	}

	t.enter, _ = goja.AssertFunction(t.js.Get("enter"))
	t.leave, _ = goja.AssertFunction(t.js.Get("leave"))
	if t.enter == nil && t.leave == nil {
		log.Warning("trace script defines neither enter nor leave")
	}
	return t, nil
}

// SetOutput sets the function used for print() output.
func (t *Tracer) SetOutput(fn func(string)) {
	if fn == nil {
		t.output = func(string) {}
	} else {
		t.output = fn
	}
}

// Frames returns the number of frames traced.
func (t *Tracer) Frames() uint64 { return t.frames }

// Interrupt stops the script function currently running, failing its
// frame. Safe to call from another goroutine.
func (t *Tracer) Interrupt(reason string) {
	t.js.Interrupt(reason)
}

// EvalFrame implements vm.Evaluator.
func (t *Tracer) EvalFrame(ts *vm.ThreadState, f *bytecode.Frame, throwflag bool) (string, error) {
	t.frames++
	name := t.js.ToValue(f.Name())
	depth := t.js.ToValue(ts.Depth())

	if t.enter != nil {
		resumed := t.js.ToValue(f.State() != bytecode.FrameCreated)
		if _, err := t.enter(goja.Undefined(), name, depth, resumed); err != nil {
			return "", t.fail(err)
		}
	}

	result, err := t.base.EvalFrame(ts, f, throwflag)

	if t.leave != nil {
		errValue := goja.Null()
		if err != nil {
			errValue = t.js.ToValue(bytecode.ErrorText(err))
		}
		if _, jsErr := t.leave(goja.Undefined(), name, depth, t.js.ToValue(result), errValue); jsErr != nil {
			return "", t.fail(jsErr)
		}
	}
	return result, err
}

func (t *Tracer) fail(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		t.js.ClearInterrupt()
	}
	return scriptError(err)
}

func scriptError(err error) error {
	var jsErr *goja.Exception
	if errors.As(err, &jsErr) {
		return &ScriptError{Message: jsErr.Value().String()}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &ScriptError{Message: fmt.Sprint(interrupted.Value())}
	}
	return err
}

func (t *Tracer) jsPrint(call goja.FunctionCall) goja.Value {
	t.output(joinArgs(call))
	return goja.Undefined()
}

func (t *Tracer) jsLog(call goja.FunctionCall) goja.Value {
	log.Info(joinArgs(call))
	return goja.Undefined()
}

func joinArgs(call goja.FunctionCall) string {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}
