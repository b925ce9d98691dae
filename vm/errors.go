package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrPendingCallsFull is returned by AddPendingCall when the queue is at
	// capacity. The call was not queued.
	ErrPendingCallsFull = errors.New("pending call queue is full")

	// ErrEvaluatorFrozen is returned when the evaluator is changed after the
	// interpreter created its first thread state.
	ErrEvaluatorFrozen = errors.New("evaluator cannot change once a thread state exists")

	// ErrThreadExited fails worker requests whose goroutine exited because
	// another thread is finalizing the runtime.
	ErrThreadExited = errors.New("thread exited during runtime finalization")

	// ErrModuleNotFound is returned by a Loader when no module with the
	// requested name exists. The installer treats it as "no extension".
	ErrModuleNotFound = errors.New("extension module not found")

	// ErrExtensionInstalled is returned by InstallExtension when the
	// interpreter already installed an extension.
	ErrExtensionInstalled = errors.New("extension already installed")

	// ErrUnknownCode is returned when OpCall names a chunk that was never
	// registered with the interpreter.
	ErrUnknownCode = errors.New("unknown code unit")
)

// RecursionError is returned when evaluation nests deeper than the
// configured recursion limit.
type RecursionError struct {
	Name  string
	Limit int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("maximum recursion depth %d exceeded calling %s", e.Limit, e.Name)
}

// FatalError is the panic payload for broken runtime invariants, such as
// finding another thread's state current after reacquiring the lock. It is
// never returned as an error and must not be recovered from.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Message
}

// fatal logs at critical level and panics with a *FatalError.
func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Critical(msg)
	panic(&FatalError{Message: msg})
}
