package jit

import (
	"fmt"
	"strconv"

	"github.com/chazu/framehook/pkg/bytecode"
	"github.com/chazu/framehook/vm"
)

// executor runs compiled code for one frame.
type executor struct {
	stack []string
	fault error
}

// Run executes code in the fresh frame f on ts. Values and failures are
// the same as the default loop's; PeriodicWork runs on entry and at every
// backward jump taken.
func (c *Code) Run(ts *vm.ThreadState, f *bytecode.Frame) (string, error) {
	if err := f.Begin(); err != nil {
		return "", err
	}
	defer f.Finish()

	if err := ts.PeriodicWork(); err != nil {
		return "", err
	}

	x := executor{stack: make([]string, 0, 16)}
	code := c.instrs
	locals := f.Locals

	for pc := 0; pc < len(code); {
		in := &code[pc]
		pc++

		switch in.op {
		case bytecode.OpNop:

		case bytecode.OpPop:
			x.pop()

		case bytecode.OpDup:
			v := x.pop()
			x.push(v)
			x.push(v)

		case bytecode.OpSwap:
			b := x.pop()
			a := x.pop()
			x.push(b)
			x.push(a)

		case bytecode.OpRot:
			top := x.pop()
			b := x.pop()
			a := x.pop()
			x.push(b)
			x.push(top)
			x.push(a)

		case bytecode.OpConst:
			x.push(in.str)
		case bytecode.OpConstNil:
			x.push("")
		case bytecode.OpConstTrue:
			x.push("true")
		case bytecode.OpConstFalse:
			x.push("false")
		case bytecode.OpConstZero:
			x.push("0")
		case bytecode.OpConstOne:
			x.push("1")

		case bytecode.OpLoadLocal:
			if in.arg >= len(locals) {
				return "", fmt.Errorf("local slot %d out of range at offset %d", in.arg, in.origin)
			}
			x.push(locals[in.arg])

		case bytecode.OpStoreLocal:
			if in.arg >= len(locals) {
				return "", fmt.Errorf("local slot %d out of range at offset %d", in.arg, in.origin)
			}
			locals[in.arg] = x.pop()

		case bytecode.OpLoadParam:
			if in.arg < len(f.Args) {
				x.push(f.Args[in.arg])
			} else {
				x.push("")
			}

		case bytecode.OpAdd:
			b, a := x.popInt(), x.popInt()
			x.pushInt(a + b)
		case bytecode.OpSub:
			b, a := x.popInt(), x.popInt()
			x.pushInt(a - b)
		case bytecode.OpMul:
			b, a := x.popInt(), x.popInt()
			x.pushInt(a * b)
		case bytecode.OpDiv:
			b, a := x.popInt(), x.popInt()
			if b == 0 {
				return "", bytecode.ErrDivisionByZero
			}
			x.pushInt(a / b)
		case bytecode.OpMod:
			b, a := x.popInt(), x.popInt()
			if b == 0 {
				return "", bytecode.ErrDivisionByZero
			}
			x.pushInt(a % b)
		case bytecode.OpNeg:
			x.pushInt(-x.popInt())

		case bytecode.OpEq:
			b, a := x.pop(), x.pop()
			x.push(bytecode.FormatBool(a == b))
		case bytecode.OpNe:
			b, a := x.pop(), x.pop()
			x.push(bytecode.FormatBool(a != b))
		case bytecode.OpLt:
			b, a := x.popInt(), x.popInt()
			x.push(bytecode.FormatBool(a < b))
		case bytecode.OpLe:
			b, a := x.popInt(), x.popInt()
			x.push(bytecode.FormatBool(a <= b))
		case bytecode.OpGt:
			b, a := x.popInt(), x.popInt()
			x.push(bytecode.FormatBool(a > b))
		case bytecode.OpGe:
			b, a := x.popInt(), x.popInt()
			x.push(bytecode.FormatBool(a >= b))

		case bytecode.OpNot:
			x.push(bytecode.FormatBool(!bytecode.IsTruthy(x.pop())))
		case bytecode.OpAnd:
			b, a := x.pop(), x.pop()
			x.push(bytecode.FormatBool(bytecode.IsTruthy(a) && bytecode.IsTruthy(b)))
		case bytecode.OpOr:
			b, a := x.pop(), x.pop()
			x.push(bytecode.FormatBool(bytecode.IsTruthy(a) || bytecode.IsTruthy(b)))

		case bytecode.OpConcat:
			b, a := x.pop(), x.pop()
			x.push(a + b)
		case bytecode.OpStrLen:
			x.pushInt(len(x.pop()))

		case bytecode.OpJump:
			if in.arg < pc {
				if err := ts.PeriodicWork(); err != nil {
					return "", err
				}
			}
			pc = in.arg

		case bytecode.OpJumpTrue, bytecode.OpJumpFalse:
			if bytecode.IsTruthy(x.pop()) == (in.op == bytecode.OpJumpTrue) {
				if in.arg < pc {
					if err := ts.PeriodicWork(); err != nil {
						return "", err
					}
				}
				pc = in.arg
			}

		case bytecode.OpCall:
			args := make([]string, in.arg)
			for i := in.arg - 1; i >= 0; i-- {
				args[i] = x.pop()
			}
			if x.fault != nil {
				return "", x.fault
			}
			result, err := ts.Call(f, in.str, args)
			if err != nil {
				return "", err
			}
			x.push(result)

		case bytecode.OpRaise:
			msg := x.pop()
			if x.fault != nil {
				return "", x.fault
			}
			return "", &bytecode.RaisedError{Message: msg}

		case bytecode.OpReturn:
			v := x.pop()
			return v, x.fault

		case bytecode.OpReturnNil:
			return "", nil

		default:
			return "", fmt.Errorf("%s: unexpected %s at offset %d", c.name, in.op, in.origin)
		}

		if x.fault != nil {
			return "", x.fault
		}
	}

	if n := len(x.stack); n > 0 {
		return x.stack[n-1], nil
	}
	return "", nil
}

func (x *executor) push(v string) {
	x.stack = append(x.stack, v)
}

func (x *executor) pop() string {
	n := len(x.stack)
	if n == 0 {
		x.fault = bytecode.ErrStackUnderflow
		return ""
	}
	v := x.stack[n-1]
	x.stack = x.stack[:n-1]
	return v
}

func (x *executor) popInt() int {
	n, _ := strconv.Atoi(x.pop())
	return n
}

func (x *executor) pushInt(n int) {
	x.push(strconv.Itoa(n))
}
