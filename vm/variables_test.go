package vm

import (
	"errors"
	"reflect"
	"testing"
)

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	if _, ok, _ := s.Get("$x"); ok {
		t.Error("empty store reported $x")
	}
	if err := s.Set("$x", NumberValue(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("$x", StringValue("one")); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s.Get("$x"); !ok || !v.Equal(StringValue("one")) {
		t.Errorf("$x = %#v, %v", v, ok)
	}
	if err := s.Set("$y", Value{}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Set(invalid) = %v, want ErrTypeMismatch", err)
	}
}

func TestMemoryStorageExportImport(t *testing.T) {
	s := NewMemoryStorage()
	s.Set("$a", NumberValue(1))
	s.Set("$b", BoolValue(true))

	saved, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	s.Set("$a", NumberValue(99))
	if saved["$a"].AsNumber() != 1 {
		t.Error("Export must return a copy")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if len(s.Names()) != 0 {
		t.Errorf("Names after Clear = %v", s.Names())
	}
	if err := s.Import(saved); err != nil {
		t.Fatal(err)
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"$a", "$b"}) {
		t.Errorf("Names = %v", got)
	}
	if v, _, _ := s.Get("$a"); !v.Equal(NumberValue(1)) {
		t.Errorf("$a = %#v after import", v)
	}
}

func TestValidateVariableName(t *testing.T) {
	for _, name := range []string{"$gold", "$Yarn.Internal.Visiting.Start"} {
		if err := ValidateVariableName(name); err != nil {
			t.Errorf("%q: %v", name, err)
		}
	}
	for _, name := range []string{"gold", "$", ""} {
		if err := ValidateVariableName(name); !errors.Is(err, ErrInvalidVariableName) {
			t.Errorf("%q: %v, want ErrInvalidVariableName", name, err)
		}
	}
}
