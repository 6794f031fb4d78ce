package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/yarnvm/bytecode"
)

func callBuiltin(t *testing.T, vm *VM, name string, args ...Value) (Value, error) {
	t.Helper()
	return vm.callFunction(name, args)
}

func TestBuiltinFunctions(t *testing.T) {
	vm := NewVM(bytecode.NewBuilder("t").MustBuild(), nil)
	n, s, b := NumberValue, StringValue, BoolValue

	tests := []struct {
		name string
		args []Value
		want Value
	}{
		{"round", []Value{n(2.5)}, n(3)},
		{"round_places", []Value{n(3.14159), n(2)}, n(3.14)},
		{"floor", []Value{n(-1.5)}, n(-2)},
		{"ceil", []Value{n(1.2)}, n(2)},
		{"inc", []Value{n(1)}, n(2)},
		{"inc", []Value{n(1.2)}, n(2)},
		{"dec", []Value{n(1)}, n(0)},
		{"dec", []Value{n(1.8)}, n(1)},
		{"decimal", []Value{n(3.25)}, n(0.25)},
		{"int", []Value{n(-3.7)}, n(-3)},
		{"string", []Value{n(4)}, s("4")},
		{"string", []Value{b(true)}, s("true")},
		{"number", []Value{s("12")}, n(12)},
		{"number", []Value{b(true)}, n(1)},
		{"bool", []Value{n(0)}, b(false)},
		{"bool", []Value{s("true")}, b(true)},
		{"visited", []Value{s("Nowhere")}, b(false)},
		{"visited_count", []Value{s("Nowhere")}, n(0)},
	}
	for _, tt := range tests {
		got, err := callBuiltin(t, vm, tt.name, tt.args...)
		if err != nil {
			t.Errorf("%s(%v): %v", tt.name, tt.args, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s(%v) = %#v, want %#v", tt.name, tt.args, got, tt.want)
		}
	}
}

func TestBuiltinErrors(t *testing.T) {
	vm := NewVM(bytecode.NewBuilder("t").MustBuild(), nil)

	if _, err := callBuiltin(t, vm, "number", StringValue("abc")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("number(abc) = %v, want ErrTypeMismatch", err)
	}
	if _, err := callBuiltin(t, vm, "round"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("round() = %v, want arity ErrTypeMismatch", err)
	}
	if _, err := callBuiltin(t, vm, "dice", NumberValue(0)); err == nil {
		t.Error("dice(0) should fail")
	}
	if _, err := callBuiltin(t, vm, "nope"); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("nope() = %v, want ErrUnknownFunction", err)
	}

	undrawable := []struct {
		name string
		args []Value
	}{
		{"random_range", []Value{NumberValue(0), NumberValue(1e19)}},
		{"random_range", []Value{NumberValue(-1e19), NumberValue(1e19)}},
		{"random_range", []Value{NumberValue(math.NaN()), NumberValue(3)}},
		{"random_range", []Value{NumberValue(1), NumberValue(math.Inf(1))}},
		{"dice", []Value{NumberValue(math.NaN())}},
		{"dice", []Value{NumberValue(1e30)}},
	}
	for _, tt := range undrawable {
		if _, err := callBuiltin(t, vm, tt.name, tt.args...); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("%s%v = %v, want ErrTypeMismatch", tt.name, tt.args, err)
		}
	}
}

func TestRandomRangeTooWideFailsRun(t *testing.T) {
	b := bytecode.NewBuilder("wide")
	n := b.Node("Start")
	n.PushNumber(0)
	n.PushNumber(1e19)
	n.Call("random_range", 2)
	m := NewVM(b.MustBuild(), nil)
	if err := m.Start("Start"); err != nil {
		t.Fatal(err)
	}

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		_, err = m.Step()
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) || !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Step = %v, want ExecError wrapping ErrTypeMismatch", err)
	}
	if execErr.Op != bytecode.OpCallFunc {
		t.Errorf("failed at %s, want CALL_FUNC", execErr.Op)
	}
}

func TestRandomRange(t *testing.T) {
	vm := NewVM(bytecode.NewBuilder("t").MustBuild(), nil)
	vm.SetRandomSeed(7)
	for i := 0; i < 50; i++ {
		v, err := callBuiltin(t, vm, "random_range", NumberValue(3), NumberValue(5))
		if err != nil {
			t.Fatal(err)
		}
		if v.AsNumber() < 3 || v.AsNumber() > 5 {
			t.Fatalf("random_range(3, 5) = %v", v)
		}
	}
	v, _ := callBuiltin(t, vm, "random")
	if v.AsNumber() < 0 || v.AsNumber() >= 1 {
		t.Errorf("random() = %v", v)
	}
}

func TestAddFunctionOverridesBuiltin(t *testing.T) {
	vm := NewVM(bytecode.NewBuilder("t").MustBuild(), nil)
	vm.AddFunction("round", func(args []Value) (Value, error) {
		return StringValue("mine"), nil
	}, KindAny)
	vm.AddFunction("greet", func(args []Value) (Value, error) {
		return StringValue("hi " + args[0].AsString()), nil
	}, KindString)

	if v, _ := callBuiltin(t, vm, "round", BoolValue(true)); v.AsString() != "mine" {
		t.Errorf("round override = %#v", v)
	}
	if v, _ := callBuiltin(t, vm, "greet", StringValue("Ann")); v.AsString() != "hi Ann" {
		t.Errorf("greet = %#v", v)
	}
	if !vm.HasFunction("greet") || vm.HasFunction("shout") {
		t.Error("HasFunction mismatch")
	}

	vm.AddFunction("void", func([]Value) (Value, error) { return Value{}, nil })
	if _, err := callBuiltin(t, vm, "void"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("function without result = %v, want ErrTypeMismatch", err)
	}
}
