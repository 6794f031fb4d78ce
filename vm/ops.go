package vm

import (
	"fmt"
	"math"

	"github.com/chazu/yarnvm/bytecode"
)

// binaryOp applies an arithmetic, comparison or logical opcode to the left
// and right operands. Every kind combination is either defined here or is
// a TypeMismatch.
func binaryOp(op bytecode.Opcode, l, r Value) (Value, error) {
	switch op {
	case bytecode.OpAdd:
		return add(l, r)

	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		if l.kind != KindNumber || r.kind != KindNumber {
			return Value{}, mismatch(op, l, r)
		}
		return arith(op, l.num, r.num)

	case bytecode.OpEq:
		return BoolValue(l.Equal(r)), nil
	case bytecode.OpNe:
		return BoolValue(!l.Equal(r)), nil

	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		c, err := compare(op, l, r)
		if err != nil {
			return Value{}, err
		}
		switch op {
		case bytecode.OpLt:
			return BoolValue(c < 0), nil
		case bytecode.OpLe:
			return BoolValue(c <= 0), nil
		case bytecode.OpGt:
			return BoolValue(c > 0), nil
		default:
			return BoolValue(c >= 0), nil
		}

	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor:
		if l.kind != KindBool || r.kind != KindBool {
			return Value{}, mismatch(op, l, r)
		}
		switch op {
		case bytecode.OpAnd:
			return BoolValue(l.b && r.b), nil
		case bytecode.OpOr:
			return BoolValue(l.b || r.b), nil
		default:
			return BoolValue(l.b != r.b), nil
		}
	}
	return Value{}, fmt.Errorf("%w: %s is not a binary operator", ErrInvalidOpcode, op)
}

// unaryOp applies NEG or NOT.
func unaryOp(op bytecode.Opcode, v Value) (Value, error) {
	switch op {
	case bytecode.OpNeg:
		if v.kind != KindNumber {
			return Value{}, fmt.Errorf("%w: %s needs a number, got %#v", ErrTypeMismatch, op, v)
		}
		return NumberValue(-v.num), nil
	case bytecode.OpNot:
		if v.kind != KindBool {
			return Value{}, fmt.Errorf("%w: %s needs a bool, got %#v", ErrTypeMismatch, op, v)
		}
		return BoolValue(!v.b), nil
	}
	return Value{}, fmt.Errorf("%w: %s is not a unary operator", ErrInvalidOpcode, op)
}

// add sums numbers and concatenates when either side is a string.
// Number and bool never mix.
func add(l, r Value) (Value, error) {
	switch {
	case l.kind == KindNumber && r.kind == KindNumber:
		return NumberValue(l.num + r.num), nil
	case l.kind == KindString && r.IsValid(), r.kind == KindString && l.IsValid():
		return StringValue(l.String() + r.String()), nil
	}
	return Value{}, mismatch(bytecode.OpAdd, l, r)
}

func arith(op bytecode.Opcode, a, b float64) (Value, error) {
	switch op {
	case bytecode.OpSub:
		return NumberValue(a - b), nil
	case bytecode.OpMul:
		return NumberValue(a * b), nil
	case bytecode.OpDiv:
		if b == 0 {
			return Value{}, fmt.Errorf("%w: %s / %s", ErrDivideByZero, FormatNumber(a), FormatNumber(b))
		}
		return NumberValue(a / b), nil
	default:
		if b == 0 {
			return Value{}, fmt.Errorf("%w: %s %% %s", ErrDivideByZero, FormatNumber(a), FormatNumber(b))
		}
		return NumberValue(math.Mod(a, b)), nil
	}
}

// compare orders two numbers or two strings.
func compare(op bytecode.Opcode, l, r Value) (int, error) {
	switch {
	case l.kind == KindNumber && r.kind == KindNumber:
		switch {
		case l.num < r.num:
			return -1, nil
		case l.num > r.num:
			return 1, nil
		}
		return 0, nil
	case l.kind == KindString && r.kind == KindString:
		switch {
		case l.str < r.str:
			return -1, nil
		case l.str > r.str:
			return 1, nil
		}
		return 0, nil
	}
	return 0, mismatch(op, l, r)
}

func mismatch(op bytecode.Opcode, l, r Value) error {
	return fmt.Errorf("%w: %s %#v, %#v", ErrTypeMismatch, op, l, r)
}
