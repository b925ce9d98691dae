package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder

	// Header
	if c.Name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", c.Name))
	}
	sb.WriteString(fmt.Sprintf("; framehook bytecode v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", c.Flags))
	if c.Flags&ChunkFlagDebug != 0 {
		sb.WriteString(" [DEBUG]")
	}
	if c.Flags&ChunkFlagHasHandlers != 0 {
		sb.WriteString(" [HANDLERS]")
	}
	if c.Flags&ChunkFlagGenerator != 0 {
		sb.WriteString(" [GENERATOR]")
	}
	sb.WriteString("\n")

	if c.ParamCount > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): %s\n", c.ParamCount, strings.Join(c.ParamNames, ", ")))
	}
	if c.LocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", c.LocalCount))
	}
	sb.WriteString("\n")

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, s := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %q\n", i, truncate(s, 40)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)

		if srcLine, srcCol := c.GetSourceLocation(uint32(offset)); c.Flags&ChunkFlagDebug != 0 && srcLine > 0 {
			sb.WriteString(fmt.Sprintf("%04X  %-30s ; line %d:%d\n", offset, line, srcLine, srcCol))
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}

		offset += instrLen
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n-3] + "..."
	}
	return s
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	instrLen := op.InstructionLen()
	if offset+instrLen > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst:
		idx := c.readUint16(offset + 1)
		return fmt.Sprintf("CONST %d ; %q", idx, truncate(c.constantAt(idx), 20)), instrLen

	case OpLoadLocal, OpStoreLocal:
		slot := int(c.Code[offset+1])
		if name := c.getVarName(slot); name != "" {
			return fmt.Sprintf("%s %d ; %s", info.Name, slot, name), instrLen
		}
		return fmt.Sprintf("%s %d", info.Name, slot), instrLen

	case OpLoadParam:
		idx := int(c.Code[offset+1])
		if idx < len(c.ParamNames) {
			return fmt.Sprintf("LOAD_PARAM %d ; %s", idx, c.ParamNames[idx]), instrLen
		}
		return fmt.Sprintf("LOAD_PARAM %d", idx), instrLen

	case OpJump, OpJumpTrue, OpJumpFalse, OpTry:
		delta := c.readInt16(offset + 1)
		target := offset + instrLen + int(delta)
		return fmt.Sprintf("%s %+d ; -> %04X", info.Name, delta, target), instrLen

	case OpCall:
		idx := c.readUint16(offset + 1)
		argc := c.Code[offset+3]
		return fmt.Sprintf("CALL %s/%d", c.constantAt(idx), argc), instrLen
	}

	if info.OperandLen == 0 {
		return info.Name, instrLen
	}
	operands := make([]string, 0, info.OperandLen)
	for i := 0; i < info.OperandLen; i++ {
		operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
	}
	return fmt.Sprintf("%s %s", info.Name, strings.Join(operands, " ")), instrLen
}

func (c *Chunk) constantAt(idx uint16) string {
	if int(idx) < len(c.Constants) {
		return c.Constants[idx]
	}
	return "<bad constant>"
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	line, _ := c.disassembleInstruction(offset)
	return line
}

// readUint16 reads a big-endian uint16 from the code at the given offset.
func (c *Chunk) readUint16(offset int) uint16 {
	if offset+1 >= len(c.Code) {
		return 0
	}
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// readInt16 reads a big-endian int16 from the code at the given offset.
func (c *Chunk) readInt16(offset int) int16 {
	return int16(c.readUint16(offset))
}

// getVarName returns the variable name for a local slot if available.
func (c *Chunk) getVarName(slot int) string {
	if slot < len(c.VarNames) {
		return c.VarNames[slot]
	}
	return ""
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		offset += instrLen
	}
	return lines
}

// InstructionCount returns the number of instructions in the chunk.
// Note: This iterates through all code, so it's O(n).
func (c *Chunk) InstructionCount() int {
	count := 0
	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		offset += op.InstructionLen()
		count++
	}
	return count
}

// Verify checks that every instruction is known, complete, references an
// existing constant and jumps to an instruction boundary. Chunks loaded from
// outside the process should be verified before they are run.
func (c *Chunk) Verify() error {
	starts := make(map[int]bool)
	type branch struct{ at, target int }
	var branches []branch

	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		if !op.IsKnown() {
			return fmt.Errorf("%s: unknown opcode 0x%02X at offset %d", c.Name, byte(op), offset)
		}
		n := op.InstructionLen()
		if offset+n > len(c.Code) {
			return fmt.Errorf("%s: truncated %s at offset %d", c.Name, op, offset)
		}
		starts[offset] = true

		switch op {
		case OpConst, OpCall:
			if idx := c.readUint16(offset + 1); int(idx) >= len(c.Constants) {
				return fmt.Errorf("%s: constant index %d out of range at offset %d", c.Name, idx, offset)
			}
		case OpLoadLocal, OpStoreLocal:
			if slot := c.Code[offset+1]; slot >= c.LocalCount {
				return fmt.Errorf("%s: local slot %d out of range at offset %d", c.Name, slot, offset)
			}
		case OpJump, OpJumpTrue, OpJumpFalse, OpTry:
			branches = append(branches, branch{offset, offset + n + int(c.readInt16(offset+1))})
		}
		offset += n
	}

	for _, b := range branches {
		if b.target != len(c.Code) && !starts[b.target] {
			return fmt.Errorf("%s: branch at offset %d targets %d, not an instruction", c.Name, b.at, b.target)
		}
	}
	return nil
}
