package jit

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chazu/framehook/pkg/bytecode"
)

// ErrUnsupported is returned by Compile for chunks that need the default
// loop's frame state: exception handlers or suspension.
var ErrUnsupported = errors.New("chunk needs frame state")

// instr is one pre-decoded instruction. Operands are resolved at compile
// time: constants to their values, jump offsets to instruction indices.
type instr struct {
	op     bytecode.Opcode
	arg    int    // local slot, parameter index, argc or jump target index
	str    string // constant value or callee name
	origin int    // byte offset in the chunk, for error messages
}

// Code is the compiled form of a chunk.
type Code struct {
	name   string
	instrs []instr
}

// Len returns the number of instructions.
func (c *Code) Len() int { return len(c.instrs) }

// Compile translates chunk into pre-decoded instructions. The chunk must
// pass Verify.
func Compile(chunk *bytecode.Chunk) (*Code, error) {
	if err := chunk.Verify(); err != nil {
		return nil, err
	}

	raw := chunk.Code
	index := make(map[int]int, len(raw)) // byte offset -> instruction index
	var instrs []instr

	for offset := 0; offset < len(raw); {
		op := bytecode.Opcode(raw[offset])
		if op.NeedsFrameState() || op == bytecode.OpEndTry {
			return nil, fmt.Errorf("%s: %w: %s at offset %d", chunk.Name, ErrUnsupported, op, offset)
		}
		index[offset] = len(instrs)

		in := instr{op: op, origin: offset}
		operands := raw[offset+1 : offset+op.InstructionLen()]
		switch op {
		case bytecode.OpConst:
			in.str = chunk.Constants[binary.BigEndian.Uint16(operands)]
		case bytecode.OpLoadLocal, bytecode.OpStoreLocal, bytecode.OpLoadParam:
			in.arg = int(operands[0])
		case bytecode.OpCall:
			in.str = chunk.Constants[binary.BigEndian.Uint16(operands)]
			in.arg = int(operands[2])
		case bytecode.OpJump, bytecode.OpJumpTrue, bytecode.OpJumpFalse:
			// Byte target for now; rewritten to an index below.
			in.arg = offset + op.InstructionLen() + int(int16(binary.BigEndian.Uint16(operands)))
		}
		instrs = append(instrs, in)
		offset += op.InstructionLen()
	}
	index[len(raw)] = len(instrs)

	for n := range instrs {
		if instrs[n].op.IsJump() {
			instrs[n].arg = index[instrs[n].arg]
		}
	}

	return &Code{name: chunk.Name, instrs: instrs}, nil
}
