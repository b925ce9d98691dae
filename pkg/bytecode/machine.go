package bytecode

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Host is the environment a frame runs in. The runtime's thread state
// implements it.
type Host interface {
	// SafePoint runs periodic work. A non-nil error is raised in the frame.
	SafePoint() error

	// Call evaluates the chunk registered under name with args on behalf of
	// caller, going back through the installed evaluator.
	Call(caller *Frame, name string, args []string) (string, error)
}

// Run is the default evaluation loop. It runs f until it returns, yields or
// fails. A suspended frame continues at its saved offset; with throwflag set
// it first raises f.Thrown at that point.
//
// SafePoint is called on entry and on every backward jump taken.
func Run(f *Frame, throwflag bool, host Host) (string, error) {
	switch f.state {
	case FrameCompleted:
		return "", ErrFrameCompleted
	case FrameRunning:
		return "", ErrFrameRunning
	}
	f.state = FrameRunning

	var err error
	if throwflag {
		err = f.takeThrown()
	} else {
		err = host.SafePoint()
	}

	m := &machine{f: f, code: f.Chunk.Code, host: host}
	for {
		if err == nil {
			var result string
			var yielded bool
			result, yielded, err = m.run()
			if err == nil {
				if yielded {
					f.state = FrameSuspended
				} else {
					f.Finish()
				}
				return result, nil
			}
		}
		if !f.unwind(err) {
			f.Finish()
			return "", err
		}
		err = nil
		m.fault = nil
	}
}

type machine struct {
	f     *Frame
	code  []byte
	host  Host
	fault error
}

// run executes instructions until return, yield or the first error.
func (m *machine) run() (string, bool, error) {
	f := m.f
	for f.ip < len(m.code) {
		op := Opcode(m.code[f.ip])
		f.ip++

		switch op {
		// ============ Stack Operations ============
		case OpNop:

		case OpPop:
			m.pop()

		case OpDup:
			v := m.pop()
			m.push(v)
			m.push(v)

		case OpSwap:
			b := m.pop()
			a := m.pop()
			m.push(b)
			m.push(a)

		case OpRot:
			// [a b c] -> [b c a]
			c := m.pop()
			b := m.pop()
			a := m.pop()
			m.push(b)
			m.push(c)
			m.push(a)

		// ============ Constants ============
		case OpConst:
			idx := m.readUint16()
			if int(idx) >= len(f.Chunk.Constants) {
				return "", false, fmt.Errorf("constant index %d out of range at offset %d", idx, f.ip-3)
			}
			m.push(f.Chunk.Constants[idx])

		case OpConstNil:
			m.push("")

		case OpConstTrue:
			m.push("true")

		case OpConstFalse:
			m.push("false")

		case OpConstZero:
			m.push("0")

		case OpConstOne:
			m.push("1")

		// ============ Locals and Parameters ============
		case OpLoadLocal:
			slot := int(m.code[f.ip])
			f.ip++
			if slot >= len(f.Locals) {
				return "", false, fmt.Errorf("local slot %d out of range at offset %d", slot, f.ip-2)
			}
			m.push(f.Locals[slot])

		case OpStoreLocal:
			slot := int(m.code[f.ip])
			f.ip++
			if slot >= len(f.Locals) {
				return "", false, fmt.Errorf("local slot %d out of range at offset %d", slot, f.ip-2)
			}
			f.Locals[slot] = m.pop()

		case OpLoadParam:
			idx := int(m.code[f.ip])
			f.ip++
			if idx < len(f.Args) {
				m.push(f.Args[idx])
			} else {
				m.push("") // Missing param
			}

		// ============ Arithmetic ============
		case OpAdd:
			b := m.popInt()
			a := m.popInt()
			m.pushInt(a + b)

		case OpSub:
			b := m.popInt()
			a := m.popInt()
			m.pushInt(a - b)

		case OpMul:
			b := m.popInt()
			a := m.popInt()
			m.pushInt(a * b)

		case OpDiv:
			b := m.popInt()
			a := m.popInt()
			if b == 0 {
				return "", false, ErrDivisionByZero
			}
			m.pushInt(a / b)

		case OpMod:
			b := m.popInt()
			a := m.popInt()
			if b == 0 {
				return "", false, ErrDivisionByZero
			}
			m.pushInt(a % b)

		case OpNeg:
			m.pushInt(-m.popInt())

		// ============ Comparison ============
		case OpEq:
			b := m.pop()
			a := m.pop()
			m.pushBool(a == b)

		case OpNe:
			b := m.pop()
			a := m.pop()
			m.pushBool(a != b)

		case OpLt:
			b := m.popInt()
			a := m.popInt()
			m.pushBool(a < b)

		case OpLe:
			b := m.popInt()
			a := m.popInt()
			m.pushBool(a <= b)

		case OpGt:
			b := m.popInt()
			a := m.popInt()
			m.pushBool(a > b)

		case OpGe:
			b := m.popInt()
			a := m.popInt()
			m.pushBool(a >= b)

		// ============ Logical ============
		case OpNot:
			m.pushBool(!IsTruthy(m.pop()))

		case OpAnd:
			b := m.pop()
			a := m.pop()
			m.pushBool(IsTruthy(a) && IsTruthy(b))

		case OpOr:
			b := m.pop()
			a := m.pop()
			m.pushBool(IsTruthy(a) || IsTruthy(b))

		// ============ String Operations ============
		case OpConcat:
			b := m.pop()
			a := m.pop()
			m.push(a + b)

		case OpStrLen:
			m.pushInt(len(m.pop()))

		// ============ Control Flow ============
		case OpJump:
			if err := m.jump(m.readInt16()); err != nil {
				return "", false, err
			}

		case OpJumpTrue:
			offset := m.readInt16()
			if IsTruthy(m.pop()) {
				if err := m.jump(offset); err != nil {
					return "", false, err
				}
			}

		case OpJumpFalse:
			offset := m.readInt16()
			if !IsTruthy(m.pop()) {
				if err := m.jump(offset); err != nil {
					return "", false, err
				}
			}

		// ============ Calls ============
		case OpCall:
			nameIdx := m.readUint16()
			argc := int(m.code[f.ip])
			f.ip++
			if int(nameIdx) >= len(f.Chunk.Constants) {
				return "", false, fmt.Errorf("call name index %d out of range", nameIdx)
			}
			args := make([]string, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = m.pop()
			}
			if m.fault != nil {
				return "", false, m.fault
			}
			result, err := m.host.Call(f, f.Chunk.Constants[nameIdx], args)
			if err != nil {
				return "", false, err
			}
			m.push(result)

		// ============ Exceptions and Suspension ============
		case OpTry:
			offset := m.readInt16()
			f.handlers = append(f.handlers, handler{target: f.ip + int(offset), sp: len(f.stack)})

		case OpEndTry:
			if len(f.handlers) == 0 {
				return "", false, fmt.Errorf("END_TRY without handler at offset %d", f.ip-1)
			}
			f.handlers = f.handlers[:len(f.handlers)-1]

		case OpRaise:
			msg := m.pop()
			if m.fault != nil {
				return "", false, m.fault
			}
			return "", false, &RaisedError{Message: msg}

		case OpYield:
			v := m.pop()
			return v, true, m.fault

		// ============ Return ============
		case OpReturn:
			v := m.pop()
			return v, false, m.fault

		case OpReturnNil:
			return "", false, nil

		default:
			return "", false, fmt.Errorf("unknown opcode: 0x%02x at offset %d", byte(op), f.ip-1)
		}

		if m.fault != nil {
			return "", false, m.fault
		}
	}

	// Implicit return of stack top or empty
	if n := len(f.stack); n > 0 {
		return f.stack[n-1], false, nil
	}
	return "", false, nil
}

// jump moves the instruction pointer; backward jumps are safe points.
func (m *machine) jump(offset int16) error {
	m.f.ip += int(offset)
	if offset < 0 {
		return m.host.SafePoint()
	}
	return nil
}

// Stack helpers

func (m *machine) push(val string) {
	m.f.stack = append(m.f.stack, val)
}

func (m *machine) pop() string {
	n := len(m.f.stack)
	if n == 0 {
		m.fault = ErrStackUnderflow
		return ""
	}
	v := m.f.stack[n-1]
	m.f.stack = m.f.stack[:n-1]
	return v
}

func (m *machine) popInt() int {
	n, _ := strconv.Atoi(m.pop())
	return n
}

func (m *machine) pushInt(n int) {
	m.push(strconv.Itoa(n))
}

func (m *machine) pushBool(b bool) {
	m.push(FormatBool(b))
}

// Bytecode reading helpers

func (m *machine) readUint16() uint16 {
	val := binary.BigEndian.Uint16(m.code[m.f.ip:])
	m.f.ip += 2
	return val
}

func (m *machine) readInt16() int16 {
	return int16(m.readUint16())
}

// IsTruthy reports whether a value counts as true for conditional jumps.
func IsTruthy(s string) bool {
	return s != "" && s != "false" && s != "0" && s != "nil"
}

// FormatBool returns the value representation of b.
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
