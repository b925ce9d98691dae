package bytecode

import (
	"errors"
	"fmt"
	"testing"
)

// testHost counts safe points and resolves calls from a map of chunks.
type testHost struct {
	safePoints int
	failAt     int // SafePoint call number that fails; 0 never fails
	failErr    error
	chunks     map[string]*Chunk
	calls      []string
}

func (h *testHost) SafePoint() error {
	h.safePoints++
	if h.failAt != 0 && h.safePoints == h.failAt {
		return h.failErr
	}
	return nil
}

func (h *testHost) Call(caller *Frame, name string, args []string) (string, error) {
	h.calls = append(h.calls, name)
	c, ok := h.chunks[name]
	if !ok {
		return "", fmt.Errorf("no chunk named %q", name)
	}
	f := NewFrame(c, args)
	f.Back = caller
	return Run(f, false, h)
}

func runChunk(t *testing.T, c *Chunk, args ...string) (string, *testHost) {
	t.Helper()
	h := &testHost{}
	result, err := Run(NewFrame(c, args), false, h)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return result, h
}

// countdown builds: i = n; while i > 0 { i = i - 1 }; return i
func countdown(n string) *Chunk {
	c := NewChunk("countdown")
	c.EmitConstant(n)
	c.EmitLocal(OpStoreLocal, 0)
	loop := c.CurrentOffset()
	c.EmitLocal(OpLoadLocal, 0)
	c.Emit(OpConstZero)
	c.Emit(OpGt)
	exit := c.EmitJump(OpJumpFalse)
	c.EmitLocal(OpLoadLocal, 0)
	c.Emit(OpConstOne)
	c.Emit(OpSub)
	c.EmitLocal(OpStoreLocal, 0)
	c.EmitLoop(loop)
	c.PatchJump(exit)
	c.EmitLocal(OpLoadLocal, 0)
	c.Emit(OpReturn)
	return c
}

func TestRunArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b string
		want string
	}{
		{"add", OpAdd, "2", "3", "5"},
		{"sub", OpSub, "2", "3", "-1"},
		{"mul", OpMul, "4", "3", "12"},
		{"div", OpDiv, "7", "2", "3"},
		{"mod", OpMod, "7", "2", "1"},
		{"lt", OpLt, "1", "2", "true"},
		{"ge", OpGe, "1", "2", "false"},
		{"eq", OpEq, "a", "a", "true"},
		{"ne", OpNe, "a", "b", "true"},
		{"and", OpAnd, "true", "0", "false"},
		{"or", OpOr, "", "x", "true"},
		{"concat", OpConcat, "foo", "bar", "foobar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunk(tt.name)
			c.EmitConstant(tt.a)
			c.EmitConstant(tt.b)
			c.Emit(tt.op)
			c.Emit(OpReturn)

			if got, _ := runChunk(t, c); got != tt.want {
				t.Errorf("%s(%q, %q) = %q, want %q", tt.op, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRunStackOps(t *testing.T) {
	c := NewChunk("stack")
	c.EmitConstant("a")
	c.EmitConstant("b")
	c.EmitConstant("c")
	c.Emit(OpRot)
	c.Emit(OpSwap)
	c.Emit(OpConcat)
	c.Emit(OpConcat)
	c.Emit(OpReturn)

	// [a b c] ROT -> [b c a]; SWAP -> [b a c]; CONCAT -> [b ac]; CONCAT -> [bac]
	if got, _ := runChunk(t, c); got != "bac" {
		t.Errorf("result = %q, want %q", got, "bac")
	}
}

func TestRunUnaryAndParams(t *testing.T) {
	c := NewChunk("unary")
	c.ParamCount = 1
	c.ParamNames = []string{"s"}
	c.EmitWithOperand(OpLoadParam, 0)
	c.Emit(OpStrLen)
	c.Emit(OpNeg)
	c.EmitWithOperand(OpLoadParam, 5) // missing param pushes ""
	c.Emit(OpConcat)
	c.Emit(OpReturn)

	if got, _ := runChunk(t, c, "hello"); got != "-5" {
		t.Errorf("result = %q, want %q", got, "-5")
	}
}

func TestRunImplicitReturn(t *testing.T) {
	c := NewChunk("implicit")
	c.EmitConstant("top")

	if got, _ := runChunk(t, c); got != "top" {
		t.Errorf("result = %q, want %q", got, "top")
	}

	empty := NewChunk("empty")
	if got, _ := runChunk(t, empty); got != "" {
		t.Errorf("empty result = %q, want empty", got)
	}
}

func TestRunLoopSafePoints(t *testing.T) {
	got, h := runChunk(t, countdown("10"))
	if got != "0" {
		t.Errorf("countdown result = %q, want %q", got, "0")
	}
	// One on entry plus one per backward jump.
	if h.safePoints != 11 {
		t.Errorf("safePoints = %d, want 11", h.safePoints)
	}
}

func TestRunSafePointFailureStopsLoop(t *testing.T) {
	interrupt := errors.New("interrupted")
	h := &testHost{failAt: 4, failErr: interrupt}
	f := NewFrame(countdown("1000000"), nil)

	_, err := Run(f, false, h)
	if !errors.Is(err, interrupt) {
		t.Fatalf("Run() error = %v, want %v", err, interrupt)
	}
	if h.safePoints != 4 {
		t.Errorf("safePoints = %d, want 4", h.safePoints)
	}
	if f.State() != FrameCompleted {
		t.Errorf("State() = %s, want completed", f.State())
	}
}

func TestRunEntrySafePointFailure(t *testing.T) {
	interrupt := errors.New("pending call failed")
	h := &testHost{failAt: 1, failErr: interrupt}
	c := NewChunk("never")
	c.EmitConstant("unreached")
	c.Emit(OpReturn)

	if _, err := Run(NewFrame(c, nil), false, h); !errors.Is(err, interrupt) {
		t.Errorf("Run() error = %v, want %v", err, interrupt)
	}
}

func TestRunDivisionByZero(t *testing.T) {
	for _, op := range []Opcode{OpDiv, OpMod} {
		c := NewChunk("div")
		c.Emit(OpConstOne)
		c.Emit(OpConstZero)
		c.Emit(op)
		c.Emit(OpReturn)

		_, err := Run(NewFrame(c, nil), false, &testHost{})
		if !errors.Is(err, ErrDivisionByZero) {
			t.Errorf("%s by zero error = %v, want ErrDivisionByZero", op, err)
		}
	}
}

func TestRunTryCatchesRaise(t *testing.T) {
	c := NewChunk("try")
	try := c.EmitTry()
	c.EmitConstant("boom")
	c.Emit(OpRaise)
	c.Emit(OpEndTry)
	c.EmitConstant("not reached")
	c.Emit(OpReturn)
	c.PatchJump(try)
	c.EmitConstant("caught: ")
	c.Emit(OpSwap)
	c.Emit(OpConcat)
	c.Emit(OpReturn)

	if got, _ := runChunk(t, c); got != "caught: boom" {
		t.Errorf("result = %q, want %q", got, "caught: boom")
	}
}

func TestRunTryCatchesOpcodeError(t *testing.T) {
	c := NewChunk("try-div")
	c.EmitConstant("junk") // below the handler's stack depth
	try := c.EmitTry()
	c.EmitConstant("partial")
	c.Emit(OpConstOne)
	c.Emit(OpConstZero)
	c.Emit(OpDiv)
	c.Emit(OpEndTry)
	c.Emit(OpReturn)
	c.PatchJump(try)
	c.Emit(OpSwap)
	c.Emit(OpConcat)
	c.Emit(OpReturn)

	if got, _ := runChunk(t, c); got != "division by zerojunk" {
		t.Errorf("result = %q, want %q", got, "division by zerojunk")
	}
}

func TestRunUncaughtRaise(t *testing.T) {
	c := NewChunk("raise")
	c.EmitConstant("bad input")
	c.Emit(OpRaise)

	_, err := Run(NewFrame(c, nil), false, &testHost{})
	var raised *RaisedError
	if !errors.As(err, &raised) || raised.Message != "bad input" {
		t.Errorf("Run() error = %v, want RaisedError(bad input)", err)
	}
}

func TestRunEndTryWithoutHandler(t *testing.T) {
	c := NewChunk("bad")
	c.Emit(OpEndTry)

	if _, err := Run(NewFrame(c, nil), false, &testHost{}); err == nil {
		t.Error("Run() succeeded, want error")
	}
}

func TestRunStackUnderflow(t *testing.T) {
	c := NewChunk("underflow")
	c.Emit(OpAdd)

	if _, err := Run(NewFrame(c, nil), false, &testHost{}); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Run() error = %v, want ErrStackUnderflow", err)
	}
}

func TestRunUnknownOpcode(t *testing.T) {
	c := NewChunk("unknown")
	c.Code = append(c.Code, 0xEE)

	if _, err := Run(NewFrame(c, nil), false, &testHost{}); err == nil {
		t.Error("Run() succeeded, want error")
	}
}

func TestRunCall(t *testing.T) {
	double := NewChunk("double")
	double.EmitWithOperand(OpLoadParam, 0)
	double.EmitWithOperand(OpLoadParam, 0)
	double.Emit(OpAdd)
	double.Emit(OpReturn)

	main := NewChunk("main")
	main.EmitConstant("21")
	main.EmitCall("double", 1)
	main.Emit(OpReturn)

	h := &testHost{chunks: map[string]*Chunk{"double": double}}
	got, err := Run(NewFrame(main, nil), false, h)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got != "42" {
		t.Errorf("result = %q, want %q", got, "42")
	}
	if len(h.calls) != 1 || h.calls[0] != "double" {
		t.Errorf("calls = %v, want [double]", h.calls)
	}
	// Entry safe point of main and of double.
	if h.safePoints != 2 {
		t.Errorf("safePoints = %d, want 2", h.safePoints)
	}
}

func TestRunCallError(t *testing.T) {
	main := NewChunk("main")
	main.EmitCall("missing", 0)
	main.Emit(OpReturn)

	if _, err := Run(NewFrame(main, nil), false, &testHost{}); err == nil {
		t.Error("Run() succeeded calling a missing chunk")
	}
}

// generator yields 1, then 2, then returns "done".
func generator() *Chunk {
	c := NewChunk("gen")
	c.Emit(OpConstOne)
	c.Emit(OpYield)
	c.EmitConstant("2")
	c.Emit(OpYield)
	c.EmitConstant("done")
	c.Emit(OpReturn)
	return c
}

func TestRunYieldAndResume(t *testing.T) {
	f := NewFrame(generator(), nil)
	h := &testHost{}

	for _, want := range []string{"1", "2", "done"} {
		got, err := Run(f, false, h)
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if got != want {
			t.Errorf("Run() = %q, want %q", got, want)
		}
	}
	if f.State() != FrameCompleted {
		t.Errorf("State() = %s, want completed", f.State())
	}
	if _, err := Run(f, false, h); !errors.Is(err, ErrFrameCompleted) {
		t.Errorf("Run() on completed frame = %v, want ErrFrameCompleted", err)
	}
}

func TestRunResumeWithThrow(t *testing.T) {
	f := NewFrame(generator(), nil)
	h := &testHost{}

	if _, err := Run(f, false, h); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if f.State() != FrameSuspended {
		t.Fatalf("State() = %s, want suspended", f.State())
	}

	stop := errors.New("stop iteration")
	f.Throw(stop)
	if _, err := Run(f, true, h); !errors.Is(err, stop) {
		t.Errorf("Run(throw) error = %v, want %v", err, stop)
	}
	if f.Thrown != nil {
		t.Error("Thrown not cleared after being raised")
	}
	// The throw path does not run the entry safe point.
	if h.safePoints != 1 {
		t.Errorf("safePoints = %d, want 1", h.safePoints)
	}
}

func TestRunThrowCaughtAtResumePoint(t *testing.T) {
	c := NewChunk("catching-gen")
	try := c.EmitTry()
	c.EmitConstant("first")
	c.Emit(OpYield)
	c.Emit(OpEndTry)
	c.EmitConstant("no throw")
	c.Emit(OpReturn)
	c.PatchJump(try)
	c.Emit(OpReturn)

	f := NewFrame(c, nil)
	h := &testHost{}
	if got, err := Run(f, false, h); err != nil || got != "first" {
		t.Fatalf("Run() = (%q, %v), want (first, nil)", got, err)
	}

	f.Throw(&RaisedError{Message: "thrown in"})
	got, err := Run(f, true, h)
	if err != nil {
		t.Fatalf("Run(throw) error: %v", err)
	}
	if got != "thrown in" {
		t.Errorf("Run(throw) = %q, want %q", got, "thrown in")
	}
}

func TestRunThrowWithoutException(t *testing.T) {
	f := NewFrame(generator(), nil)
	if _, err := Run(f, true, &testHost{}); !errors.Is(err, ErrNothingThrown) {
		t.Errorf("Run(throw) error = %v, want ErrNothingThrown", err)
	}
}

func TestFrameBeginFinish(t *testing.T) {
	f := NewFrame(NewChunk("x"), nil)
	if err := f.Begin(); err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if err := f.Begin(); !errors.Is(err, ErrFrameRunning) {
		t.Errorf("second Begin() = %v, want ErrFrameRunning", err)
	}
	if _, err := Run(f, false, &testHost{}); !errors.Is(err, ErrFrameRunning) {
		t.Errorf("Run() on running frame = %v, want ErrFrameRunning", err)
	}
	f.Finish()
	if err := f.Begin(); !errors.Is(err, ErrFrameCompleted) {
		t.Errorf("Begin() after Finish = %v, want ErrFrameCompleted", err)
	}
}

func TestIsTruthy(t *testing.T) {
	for _, s := range []string{"", "false", "0", "nil"} {
		if IsTruthy(s) {
			t.Errorf("IsTruthy(%q) = true, want false", s)
		}
	}
	for _, s := range []string{"1", "true", "x", "-1"} {
		if !IsTruthy(s) {
			t.Errorf("IsTruthy(%q) = false, want true", s)
		}
	}
}
