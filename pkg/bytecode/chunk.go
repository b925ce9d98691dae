package bytecode

import (
	"encoding/binary"
	"fmt"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for bytecode files: "FHBC" (framehook bytecode)
var BytecodeMagic = []byte{'F', 'H', 'B', 'C'}

// ChunkFlags contains compilation flags for a chunk.
type ChunkFlags uint16

const (
	// ChunkFlagDebug indicates debug information is present.
	ChunkFlagDebug ChunkFlags = 1 << 0

	// ChunkFlagHasHandlers indicates the chunk installs exception handlers.
	ChunkFlagHasHandlers ChunkFlags = 1 << 1

	// ChunkFlagGenerator indicates the chunk may suspend with OpYield.
	ChunkFlagGenerator ChunkFlags = 1 << 2
)

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	BytecodeOffset uint32 // Offset in code section
	Line           uint32 // Source line number (1-based)
	Column         uint16 // Source column number (1-based)
}

// Chunk is a compiled code unit: the immutable body of a callable plus one
// extra-data slot owned by whichever evaluator claims it.
//
// Everything except the extra-data slot is fixed once the chunk is handed to
// an interpreter. The slot is read and written by code holding the global
// execution lock.
type Chunk struct {
	// Header
	Version uint16     // Bytecode format version
	Flags   ChunkFlags // Compilation flags
	Name    string     // Name used by OpCall and in diagnostics

	// Code section
	Code []byte // Bytecode instructions

	// Constant pool - strings referenced by OpConst and OpCall
	Constants []string

	// Parameter information
	ParamCount uint8    // Number of parameters
	ParamNames []string // Parameter names (for debugging/reflection)

	// Local variables
	LocalCount uint8 // Number of local variable slots needed

	// Debug information (optional, present if ChunkFlagDebug is set)
	SourceMap []SourceLocation // Bytecode offset -> source location
	VarNames  []string         // Local variable names for debugging

	extraKey *ExtraKey
	extra    any
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Name:      name,
		Code:      make([]byte, 0, 64),
		Constants: make([]string, 0, 8),
	}
}

// AddConstant adds a string constant to the pool and returns its index.
// If the constant already exists, returns the existing index.
func (c *Chunk) AddConstant(value string) uint16 {
	for i, s := range c.Constants {
		if s == value {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index uint16) string {
	return c.Constants[index]
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	switch op {
	case OpYield:
		c.Flags |= ChunkFlagGenerator
	}
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitConstant emits an OpConst instruction for the given value.
// Adds the constant to the pool if not already present.
func (c *Chunk) EmitConstant(value string) int {
	idx := c.AddConstant(value)
	return c.EmitWithOperand(OpConst, byte(idx>>8), byte(idx))
}

// EmitLocal emits a load or store of a local slot.
func (c *Chunk) EmitLocal(op Opcode, slot uint8) int {
	if slot >= c.LocalCount {
		c.LocalCount = slot + 1
	}
	return c.EmitWithOperand(op, slot)
}

// EmitCall emits an OpCall to the code unit registered under name.
func (c *Chunk) EmitCall(name string, argc uint8) int {
	idx := c.AddConstant(name)
	return c.EmitWithOperand(OpCall, byte(idx>>8), byte(idx), argc)
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1                              // Return offset of the placeholder bytes
}

// EmitTry emits an OpTry with a placeholder handler offset.
// Patch it with PatchJump once the handler position is known.
func (c *Chunk) EmitTry() int {
	c.Flags |= ChunkFlagHasHandlers
	return c.EmitJump(OpTry)
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) {
	c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) {
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) {
	jumpFrom := len(c.Code) + 3 // After this instruction
	delta := loopStart - jumpFrom

	c.Code = append(c.Code, byte(OpJump))
	c.Code = append(c.Code, byte(delta>>8), byte(delta))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// AddSourceLocation adds a debug source location mapping.
func (c *Chunk) AddSourceLocation(bytecodeOffset uint32, line uint32, column uint16) {
	c.Flags |= ChunkFlagDebug
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: bytecodeOffset,
		Line:           line,
		Column:         column,
	})
}

// GetSourceLocation returns the source location for a bytecode offset.
// Returns line 0, column 0 if no mapping exists.
func (c *Chunk) GetSourceLocation(offset uint32) (line uint32, column uint16) {
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if c.SourceMap[i].BytecodeOffset <= offset {
			return c.SourceMap[i].Line, c.SourceMap[i].Column
		}
	}
	return 0, 0
}

// Serialize encodes the chunk to bytes for storage/transport.
// The extra-data slot is runtime state and is never serialized.
// Format:
//
//	[magic:4] [version:2] [flags:2]
//	[name_len:2] [name:...]
//	[code_len:4] [code:...]
//	[const_count:2] [constants:...]
//	[param_count:1] [param_names:...]
//	[local_count:1]
//	[debug_present:1] [debug_info:...] (if ChunkFlagDebug)
func (c *Chunk) Serialize() ([]byte, error) {
	if len(c.Name) > 0xFFFF {
		return nil, fmt.Errorf("chunk name too long: %d bytes", len(c.Name))
	}
	if len(c.ParamNames) != int(c.ParamCount) {
		return nil, fmt.Errorf("chunk %q: %d parameter names for %d parameters", c.Name, len(c.ParamNames), c.ParamCount)
	}

	estimatedSize := 10 + len(c.Name) + len(c.Code) + len(c.Constants)*32 + 100
	buf := make([]byte, 0, estimatedSize)

	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, c.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Flags))

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Name)))
	buf = append(buf, c.Name...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for _, s := range c.Constants {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("chunk %q: constant too long: %d bytes", c.Name, len(s))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}

	buf = append(buf, c.ParamCount)
	for _, name := range c.ParamNames {
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
	}

	buf = append(buf, c.LocalCount)

	if c.Flags&ChunkFlagDebug != 0 {
		buf = append(buf, 1)

		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.SourceMap)))
		for _, loc := range c.SourceMap {
			buf = binary.BigEndian.AppendUint32(buf, loc.BytecodeOffset)
			buf = binary.BigEndian.AppendUint32(buf, loc.Line)
			buf = binary.BigEndian.AppendUint16(buf, loc.Column)
		}

		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.VarNames)))
		for _, name := range c.VarNames {
			buf = append(buf, byte(len(name)))
			buf = append(buf, name...)
		}
	} else {
		buf = append(buf, 0)
	}

	return buf, nil
}

// chunkReader walks a serialized chunk, remembering the first failure.
type chunkReader struct {
	data []byte
	pos  int
}

func (r *chunkReader) need(n int, what string) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("unexpected end of bytecode reading %s at pos %d", what, r.pos)
	}
	return nil
}

func (r *chunkReader) u8(what string) (uint8, error) {
	if err := r.need(1, what); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *chunkReader) u16(what string) (uint16, error) {
	if err := r.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *chunkReader) u32(what string) (uint32, error) {
	if err := r.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *chunkReader) bytes(n int, what string) ([]byte, error) {
	if err := r.need(n, what); err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *chunkReader) shortString(what string) (string, error) {
	n, err := r.u8(what + " length")
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n), what)
	return string(b), err
}

// Deserialize decodes a chunk from bytes.
func Deserialize(data []byte) (*Chunk, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bytecode too short: need at least 8 bytes, got %d", len(data))
	}
	if string(data[0:4]) != string(BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	c := &Chunk{
		Version: binary.BigEndian.Uint16(data[4:6]),
		Flags:   ChunkFlags(binary.BigEndian.Uint16(data[6:8])),
	}
	if c.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", c.Version, BytecodeVersion)
	}

	r := &chunkReader{data: data, pos: 8}

	nameLen, err := r.u16("name length")
	if err != nil {
		return nil, err
	}
	name, err := r.bytes(int(nameLen), "name")
	if err != nil {
		return nil, err
	}
	c.Name = string(name)

	codeLen, err := r.u32("code length")
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(codeLen), "code section")
	if err != nil {
		return nil, err
	}
	c.Code = make([]byte, codeLen)
	copy(c.Code, code)

	constCount, err := r.u16("constant count")
	if err != nil {
		return nil, err
	}
	c.Constants = make([]string, constCount)
	for i := range c.Constants {
		n, err := r.u16(fmt.Sprintf("constant %d length", i))
		if err != nil {
			return nil, err
		}
		s, err := r.bytes(int(n), fmt.Sprintf("constant %d", i))
		if err != nil {
			return nil, err
		}
		c.Constants[i] = string(s)
	}

	if c.ParamCount, err = r.u8("param count"); err != nil {
		return nil, err
	}
	c.ParamNames = make([]string, c.ParamCount)
	for i := range c.ParamNames {
		if c.ParamNames[i], err = r.shortString(fmt.Sprintf("param %d name", i)); err != nil {
			return nil, err
		}
	}

	if c.LocalCount, err = r.u8("local count"); err != nil {
		return nil, err
	}

	hasDebug, err := r.u8("debug marker")
	if err != nil {
		return nil, err
	}
	if hasDebug != 0 {
		n, err := r.u16("source map count")
		if err != nil {
			return nil, err
		}
		c.SourceMap = make([]SourceLocation, n)
		for i := range c.SourceMap {
			if err := r.need(10, fmt.Sprintf("source location %d", i)); err != nil {
				return nil, err
			}
			c.SourceMap[i].BytecodeOffset, _ = r.u32("")
			c.SourceMap[i].Line, _ = r.u32("")
			c.SourceMap[i].Column, _ = r.u16("")
		}

		n, err = r.u16("var names count")
		if err != nil {
			return nil, err
		}
		c.VarNames = make([]string, n)
		for i := range c.VarNames {
			if c.VarNames[i], err = r.shortString(fmt.Sprintf("var name %d", i)); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}
