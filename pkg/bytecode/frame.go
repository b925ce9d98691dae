package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameCompleted is returned when a completed frame is evaluated again.
	ErrFrameCompleted = errors.New("frame already completed")

	// ErrFrameRunning is returned when a frame is re-entered while it runs.
	ErrFrameRunning = errors.New("frame already running")

	// ErrNothingThrown is raised when a frame is resumed with the throw flag
	// but no exception was attached with Throw.
	ErrNothingThrown = errors.New("resumed with throw flag but nothing was thrown")

	// ErrDivisionByZero is raised by OpDiv and OpMod.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrStackUnderflow is raised when an instruction pops an empty stack.
	ErrStackUnderflow = errors.New("operand stack underflow")
)

// RaisedError is the error produced by OpRaise.
type RaisedError struct {
	Message string
}

func (e *RaisedError) Error() string {
	return e.Message
}

// ErrorText returns the string pushed onto the stack when err is caught by
// an OpTry handler.
func ErrorText(err error) string {
	var raised *RaisedError
	if errors.As(err, &raised) {
		return raised.Message
	}
	return err.Error()
}

// FrameState is the lifecycle state of a frame.
type FrameState uint8

const (
	FrameCreated FrameState = iota
	FrameRunning
	FrameSuspended
	FrameCompleted
)

func (s FrameState) String() string {
	switch s {
	case FrameCreated:
		return "created"
	case FrameRunning:
		return "running"
	case FrameSuspended:
		return "suspended"
	case FrameCompleted:
		return "completed"
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

type handler struct {
	target int // absolute offset of the handler code
	sp     int // stack depth to restore
}

// Frame is the activation record of one chunk invocation. A frame that
// executed OpYield can be resumed by evaluating it again.
type Frame struct {
	Chunk  *Chunk
	Args   []string
	Locals []string

	// Back is the calling frame, set by whoever pushes this frame.
	Back *Frame

	// Thrown is raised at the resume point when the frame is evaluated
	// with the throw flag set. It is cleared once raised.
	Thrown error

	ip       int
	stack    []string
	handlers []handler
	state    FrameState
}

// NewFrame creates a frame ready to run chunk with args.
func NewFrame(chunk *Chunk, args []string) *Frame {
	return &Frame{
		Chunk:  chunk,
		Args:   args,
		Locals: make([]string, chunk.LocalCount),
		stack:  make([]string, 0, 16),
	}
}

// State returns the frame's lifecycle state.
func (f *Frame) State() FrameState { return f.state }

// IP returns the offset of the next instruction.
func (f *Frame) IP() int { return f.ip }

// Name returns the name of the frame's chunk.
func (f *Frame) Name() string { return f.Chunk.Name }

// Throw attaches err to be raised when the frame next resumes with the
// throw flag.
func (f *Frame) Throw(err error) {
	f.Thrown = err
}

// Begin moves a created frame to running. Evaluators other than Run call it
// before executing a fresh frame and call Finish when they are done.
func (f *Frame) Begin() error {
	switch f.state {
	case FrameCreated:
		f.state = FrameRunning
		return nil
	case FrameCompleted:
		return ErrFrameCompleted
	case FrameRunning:
		return ErrFrameRunning
	}
	return fmt.Errorf("frame %q is %s", f.Name(), f.state)
}

// Finish marks the frame completed and drops its operand stack.
func (f *Frame) Finish() {
	f.state = FrameCompleted
	f.stack = nil
	f.handlers = nil
}

func (f *Frame) takeThrown() error {
	err := f.Thrown
	f.Thrown = nil
	if err == nil {
		return ErrNothingThrown
	}
	return err
}

// unwind transfers control to the innermost handler with the error text on
// the stack. It reports false when no handler is installed.
func (f *Frame) unwind(err error) bool {
	n := len(f.handlers)
	if n == 0 {
		return false
	}
	h := f.handlers[n-1]
	f.handlers = f.handlers[:n-1]
	f.stack = append(f.stack[:h.sp], ErrorText(err))
	f.ip = h.target
	return true
}
