package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Function is a synchronous library function callable with CALL_FUNC.
type Function struct {
	// Params declares argument kinds, checked strictly; KindAny accepts anything.
	Params []Kind
	Call   func(args []Value) (Value, error)
}

// AddFunction registers a host function, replacing any builtin of the
// same name.
func (vm *VM) AddFunction(name string, fn func(args []Value) (Value, error), params ...Kind) {
	vm.funcs[name] = Function{Params: params, Call: fn}
}

// HasFunction reports whether name resolves to a function.
func (vm *VM) HasFunction(name string) bool {
	_, ok := vm.funcs[name]
	return ok
}

func (vm *VM) callFunction(name string, args []Value) (Value, error) {
	fn, ok := vm.funcs[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	if len(args) != len(fn.Params) {
		return Value{}, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrTypeMismatch, name, len(fn.Params), len(args))
	}
	for i, kind := range fn.Params {
		if kind != KindAny && args[i].kind != kind {
			return Value{}, fmt.Errorf("%w: %s argument %d is %#v, want %s", ErrTypeMismatch, name, i, args[i], kind)
		}
	}
	result, err := fn.Call(args)
	if err != nil {
		return Value{}, fmt.Errorf("function %s: %w", name, err)
	}
	if !result.IsValid() {
		return Value{}, fmt.Errorf("%w: function %s returned no value", ErrTypeMismatch, name)
	}
	return result, nil
}

// registerBuiltins installs the standard function library.
func (vm *VM) registerBuiltins() {
	num := func(f func(float64) float64) func([]Value) (Value, error) {
		return func(args []Value) (Value, error) {
			return NumberValue(f(args[0].num)), nil
		}
	}

	vm.AddFunction("visited", func(args []Value) (Value, error) {
		n, err := vm.visitCount(args[0].str)
		return BoolValue(n > 0), err
	}, KindString)
	vm.AddFunction("visited_count", func(args []Value) (Value, error) {
		n, err := vm.visitCount(args[0].str)
		return NumberValue(float64(n)), err
	}, KindString)

	vm.AddFunction("random", func(args []Value) (Value, error) {
		return NumberValue(vm.rng.Float64()), nil
	})
	vm.AddFunction("random_range", func(args []Value) (Value, error) {
		lo, hi := math.Floor(args[0].num), math.Floor(args[1].num)
		if hi < lo {
			lo, hi = hi, lo
		}
		if !isFinite(lo) || !isFinite(hi) || hi-lo >= 1<<62 {
			return Value{}, fmt.Errorf("%w: random_range(%s, %s) is not a drawable range",
				ErrTypeMismatch, FormatNumber(args[0].num), FormatNumber(args[1].num))
		}
		return NumberValue(lo + float64(vm.rng.Int64N(int64(hi-lo)+1))), nil
	}, KindNumber, KindNumber)
	vm.AddFunction("dice", func(args []Value) (Value, error) {
		if !isFinite(args[0].num) || args[0].num >= 1<<62 {
			return Value{}, fmt.Errorf("%w: dice(%s)", ErrTypeMismatch, FormatNumber(args[0].num))
		}
		sides := int64(args[0].num)
		if sides < 1 {
			return Value{}, fmt.Errorf("dice needs at least one side, got %s", FormatNumber(args[0].num))
		}
		return NumberValue(float64(1 + vm.rng.Int64N(sides))), nil
	}, KindNumber)

	vm.AddFunction("round", num(math.Round), KindNumber)
	vm.AddFunction("round_places", func(args []Value) (Value, error) {
		scale := math.Pow(10, math.Trunc(args[1].num))
		return NumberValue(math.Round(args[0].num*scale) / scale), nil
	}, KindNumber, KindNumber)
	vm.AddFunction("floor", num(math.Floor), KindNumber)
	vm.AddFunction("ceil", num(math.Ceil), KindNumber)
	vm.AddFunction("inc", num(func(n float64) float64 {
		if n == math.Trunc(n) {
			return n + 1
		}
		return math.Ceil(n)
	}), KindNumber)
	vm.AddFunction("dec", num(func(n float64) float64 {
		if n == math.Trunc(n) {
			return n - 1
		}
		return math.Floor(n)
	}), KindNumber)
	vm.AddFunction("decimal", num(func(n float64) float64 {
		_, frac := math.Modf(n)
		return frac
	}), KindNumber)
	vm.AddFunction("int", num(math.Trunc), KindNumber)

	vm.AddFunction("string", func(args []Value) (Value, error) {
		return StringValue(args[0].String()), nil
	}, KindAny)
	vm.AddFunction("number", func(args []Value) (Value, error) {
		switch v := args[0]; v.kind {
		case KindNumber:
			return v, nil
		case KindBool:
			if v.b {
				return NumberValue(1), nil
			}
			return NumberValue(0), nil
		case KindString:
			n, err := strconv.ParseFloat(v.str, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, v.str)
			}
			return NumberValue(n), nil
		}
		return Value{}, fmt.Errorf("%w: number of %#v", ErrTypeMismatch, args[0])
	}, KindAny)
	vm.AddFunction("bool", func(args []Value) (Value, error) {
		switch v := args[0]; v.kind {
		case KindBool:
			return v, nil
		case KindNumber:
			return BoolValue(v.num != 0), nil
		case KindString:
			return Coerce(v, KindBool)
		}
		return Value{}, fmt.Errorf("%w: bool of %#v", ErrTypeMismatch, args[0])
	}, KindAny)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
