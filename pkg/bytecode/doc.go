// Package bytecode provides the code unit, the execution frame and the
// default evaluation loop of the framehook runtime.
//
// # Chunks
//
// A Chunk is a compiled code unit: a name, a code section of stack-based
// instructions, a constant pool of strings, and parameter and local counts.
// Chunks serialize to the "FHBC" format for storage on disk.
//
// Every chunk carries one extra-data slot. The slot holds a value tagged with
// an *ExtraKey naming its owner. Alternate evaluators use it to attach
// per-chunk state such as profiles or compiled forms:
//
//	var profileKey = bytecode.NewExtraKey("profiler")
//
//	p, ok := chunk.ExtraFor(profileKey)
//	if !ok {
//		p = newProfile()
//		chunk.SetExtra(profileKey, p)
//	}
//
// A value that implements Releaser is released when it is replaced or when
// the chunk is closed. The runtime never looks inside the slot.
//
// # Frames and Run
//
// A Frame is one activation of a chunk. Run executes a frame until it
// returns, fails or yields. A yielded frame is suspended and continues where
// it stopped the next time it is run; running it with the throw flag raises
// Frame.Thrown at that point instead.
//
// Run calls Host.SafePoint on entry and on every backward jump it takes.
// Errors from safe points, failing instructions and OpRaise all unwind to
// the innermost OpTry handler, which receives the error text on the stack.
//
// Values are strings. Arithmetic parses operands as integers, and the
// values "", "false", "0" and "nil" are false.
package bytecode
