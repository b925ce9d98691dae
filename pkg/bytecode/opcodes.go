package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements
	OpRot  Opcode = 0x04 // Rotate top three: a b c -> b c a

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpConstNil   Opcode = 0x11 // Push nil/empty string
	OpConstTrue  Opcode = 0x12 // Push "true"
	OpConstFalse Opcode = 0x13 // Push "false"
	OpConstZero  Opcode = 0x14 // Push "0"
	OpConstOne   Opcode = 0x15 // Push "1"

	// ========================================================================
	// Locals and parameters (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Push local variable: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x21 // Pop and store to local: OpStoreLocal <slot:u8>
	OpLoadParam  Opcode = 0x22 // Push parameter: OpLoadParam <index:u8>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient; raises on zero divisor
	OpMod Opcode = 0x54 // Pop two, push remainder; raises on zero divisor
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x67)
	// ========================================================================

	OpEq Opcode = 0x60 // Pop two, push "true" if equal, "false" otherwise
	OpNe Opcode = 0x61 // Pop two, push "true" if not equal
	OpLt Opcode = 0x62 // Pop two, push "true" if a < b
	OpLe Opcode = 0x63 // Pop two, push "true" if a <= b
	OpGt Opcode = 0x64 // Pop two, push "true" if a > b
	OpGe Opcode = 0x65 // Pop two, push "true" if a >= b

	// ========================================================================
	// Logical operations (0x68-0x6F)
	// ========================================================================

	OpNot Opcode = 0x68 // Logical NOT: push "true" if TOS is falsy
	OpAnd Opcode = 0x69 // Logical AND of the top two values
	OpOr  Opcode = 0x6A // Logical OR of the top two values

	// ========================================================================
	// String operations (0x70-0x7F)
	// ========================================================================

	OpConcat Opcode = 0x70 // Concatenate top two strings
	OpStrLen Opcode = 0x71 // Get string length (push as string)

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpTrue  Opcode = 0x81 // Jump if top is truthy: OpJumpTrue <offset:i16>
	OpJumpFalse Opcode = 0x82 // Jump if top is falsy: OpJumpFalse <offset:i16>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall Opcode = 0x90 // Call a named code unit: OpCall <name:u16> <argc:u8>

	// ========================================================================
	// Exceptions and suspension (0xC0-0xCF)
	// ========================================================================

	OpTry    Opcode = 0xC0 // Push handler: OpTry <offset:i16>
	OpEndTry Opcode = 0xC1 // Pop innermost handler
	OpRaise  Opcode = 0xC2 // Pop message and raise it
	OpYield  Opcode = 0xC3 // Pop value and suspend the frame

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn    Opcode = 0xF0 // Return top of stack
	OpReturnNil Opcode = 0xF1 // Return nil/empty string
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},
	OpRot:  {"ROT", 3, 3, 0},

	OpConst:      {"CONST", 0, 1, 2},
	OpConstNil:   {"CONST_NIL", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},
	OpConstZero:  {"CONST_ZERO", 0, 1, 0},
	OpConstOne:   {"CONST_ONE", 0, 1, 0},

	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},
	OpLoadParam:  {"LOAD_PARAM", 0, 1, 1},

	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	OpEq: {"EQ", 2, 1, 0},
	OpNe: {"NE", 2, 1, 0},
	OpLt: {"LT", 2, 1, 0},
	OpLe: {"LE", 2, 1, 0},
	OpGt: {"GT", 2, 1, 0},
	OpGe: {"GE", 2, 1, 0},

	OpNot: {"NOT", 1, 1, 0},
	OpAnd: {"AND", 2, 1, 0},
	OpOr:  {"OR", 2, 1, 0},

	OpConcat: {"CONCAT", 2, 1, 0},
	OpStrLen: {"STRLEN", 1, 1, 0},

	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	OpCall: {"CALL", -1, 1, 3}, // Pops argc args

	OpTry:    {"TRY", 0, 0, 2},
	OpEndTry: {"END_TRY", 0, 0, 0},
	OpRaise:  {"RAISE", 1, 0, 0},
	OpYield:  {"YIELD", 1, 0, 0},

	OpReturn:    {"RETURN", 1, 0, 0},
	OpReturnNil: {"RETURN_NIL", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsKnown reports whether op has an entry in the opcode table.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpFalse
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnNil
}

// NeedsFrameState returns true for opcodes whose semantics depend on
// resumable frame state (handler stack or suspension).
func (op Opcode) NeedsFrameState() bool {
	return op == OpTry || op == OpYield
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
