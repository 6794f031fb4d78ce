package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestSerializeRoundTrip(t *testing.T) {
	p := choiceProgram(t)

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if !bytes.HasPrefix(data, ProgramMagic) {
		t.Fatalf("missing magic: % x", data[:4])
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if got.Name != p.Name || got.Version != ProgramVersion {
		t.Errorf("header = %q v%d", got.Name, got.Version)
	}
	if !reflect.DeepEqual(got.InitialValues, p.InitialValues) {
		t.Errorf("initial values = %v, want %v", got.InitialValues, p.InitialValues)
	}
	if len(got.Nodes) != len(p.Nodes) {
		t.Fatalf("node count = %d, want %d", len(got.Nodes), len(p.Nodes))
	}
	for i := range p.Nodes {
		if !reflect.DeepEqual(got.Nodes[i], p.Nodes[i]) {
			t.Errorf("node %d differs:\n got %+v\nwant %+v", i, got.Nodes[i], p.Nodes[i])
		}
	}

	// Serialization is deterministic
	again, err := got.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-serialized bytes differ")
	}
}

func TestReadProgram(t *testing.T) {
	data, err := choiceProgram(t).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	p, err := ReadProgram(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadProgram failed: %v", err)
	}
	if p.Node("Refused") == nil {
		t.Error("Refused node missing after load")
	}
}

func TestDeserializeErrors(t *testing.T) {
	good, err := choiceProgram(t).Serialize()
	if err != nil {
		t.Fatal(err)
	}

	withVersion := func(v uint16) []byte {
		b := append([]byte(nil), good...)
		binary.BigEndian.PutUint16(b[4:6], v)
		return b
	}

	tests := []struct {
		name     string
		data     []byte
		sentinel error
	}{
		{"too short", []byte("YSB"), ErrMalformedProgram},
		{"bad magic", append([]byte("NOPE"), good[4:]...), ErrMalformedProgram},
		{"future version", withVersion(ProgramVersion + 1), ErrUnsupportedVersion},
		{"zero version", withVersion(0), ErrUnsupportedVersion},
		{"truncated", good[:len(good)-3], ErrMalformedProgram},
		{"trailing bytes", append(append([]byte(nil), good...), 0x00), ErrMalformedProgram},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Deserialize(tt.data)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}
			if p != nil {
				t.Error("no partial program should be returned")
			}
		})
	}
}

func TestDeserializeInvalidOpcode(t *testing.T) {
	b := NewBuilder("x")
	b.Node("Start").Emit(OpStop)
	data, err := b.MustBuild().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	// The last instruction is [opcode][operand_count=0]
	data[len(data)-2] = 0xEE
	if _, err := Deserialize(data); !errors.Is(err, ErrMalformedProgram) {
		t.Fatalf("expected ErrMalformedProgram, got %v", err)
	}
}

func TestDeserializeOperandMismatch(t *testing.T) {
	b := NewBuilder("x")
	b.Node("Start").PushBool(true)
	data, err := b.MustBuild().Serialize()
	if err != nil {
		t.Fatal(err)
	}
	// [PUSH_BOOL][1][kind=bool][1] -> change kind to number would truncate,
	// so swap the opcode to PUSH_STRING instead.
	data[len(data)-4] = byte(OpPushString)
	if _, err := Deserialize(data); !errors.Is(err, ErrMalformedProgram) {
		t.Fatalf("expected ErrMalformedProgram, got %v", err)
	}
}

func TestSerializeRejectsOversizedCounts(t *testing.T) {
	many := make([]string, 70000)
	for i := range many {
		many[i] = fmt.Sprintf("t%d", i)
	}
	manyInitial := make(map[string]Operand, len(many))
	manyLabels := make(map[string]int, len(many))
	for _, s := range many {
		manyInitial["$"+s] = NumberOperand(0)
		manyLabels[s] = 0
	}
	stop := []Instruction{{Op: OpStop}}

	tests := []struct {
		name string
		prog *Program
	}{
		{"initial values", &Program{
			InitialValues: manyInitial,
			Nodes:         []*Node{{Name: "Start", Instructions: stop}},
		}},
		{"tags", &Program{
			Nodes: []*Node{{Name: "Start", Tags: many, Instructions: stop}},
		}},
		{"labels", &Program{
			Nodes: []*Node{{Name: "Start", Labels: manyLabels, Instructions: stop}},
		}},
		{"operands", &Program{
			Nodes: []*Node{{Name: "Start", Instructions: []Instruction{
				{Op: OpPushNumber, Operands: make([]Operand, 256)},
			}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.prog.Serialize(); err == nil {
				t.Fatal("expected Serialize to reject the program")
			}
		})
	}
}
