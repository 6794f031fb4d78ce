package vm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/chazu/yarnvm/bytecode"
)

// Kind identifies the type of value stored in a Value.
type Kind uint8

const (
	KindInvalid Kind = iota // zero Value: no value
	KindNumber
	KindString
	KindBool

	// KindAny is only meaningful in parameter signatures.
	KindAny Kind = 0xFF
)

// String returns a human-readable name for Kind.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is a closed tagged union of number, string and bool.
// The zero Value is invalid and stands for "no value"; it is never pushed
// onto the stack or stored in a variable.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Constructors

func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

// FromOperand converts a bytecode operand into a runtime value.
func FromOperand(o bytecode.Operand) Value {
	switch o.Kind {
	case bytecode.OperandNumber:
		return NumberValue(o.Num)
	case bytecode.OperandString:
		return StringValue(o.Str)
	case bytecode.OperandBool:
		return BoolValue(o.Bool)
	default:
		return Value{}
	}
}

// Accessors

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsValid() bool     { return v.kind != KindInvalid }
func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsString() string  { return v.str }
func (v Value) AsBool() bool      { return v.b }

// String returns the canonical text form: shortest decimal for numbers
// (integral values print without a fraction), "true"/"false" for bools.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return FormatNumber(v.num)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// GoString includes the kind, for test failure messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("string(%q)", v.str)
	case KindInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("%s(%s)", v.kind, v.String())
	}
}

// Equal reports whether two values have the same kind and value.
// Values of different kinds are never equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == other.num
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	default:
		return true
	}
}

// FormatNumber renders a number in canonical text form.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Coerce converts v to kind following the text-argument rules used for
// command and function parameters: any value converts to a string, numeric
// text converts to a number and "true"/"false" to a bool. KindAny accepts v
// unchanged.
func Coerce(v Value, kind Kind) (Value, error) {
	if kind == KindAny || v.kind == kind {
		return v, nil
	}
	switch kind {
	case KindString:
		if v.IsValid() {
			return StringValue(v.String()), nil
		}
	case KindNumber:
		if v.kind == KindString {
			if n, err := strconv.ParseFloat(v.str, 64); err == nil {
				return NumberValue(n), nil
			}
		}
	case KindBool:
		if v.kind == KindString {
			if b, err := strconv.ParseBool(v.str); err == nil && (v.str == "true" || v.str == "false") {
				return BoolValue(b), nil
			}
		}
	}
	return Value{}, fmt.Errorf("%w: cannot use %#v as %s", ErrTypeMismatch, v, kind)
}
