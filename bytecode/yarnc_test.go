package bytecode

import (
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// Minimal protobuf encoders mirroring the yarn_spinner.proto messages.

func pbBytes(num protowire.Number, payload []byte) []byte {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func pbString(num protowire.Number, s string) []byte {
	return pbBytes(num, []byte(s))
}

func pbVarint(num protowire.Number, v uint64) []byte {
	b := protowire.AppendTag(nil, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func yStr(s string) []byte { return pbString(1, s) }

func yBool(v bool) []byte {
	if v {
		return pbVarint(2, 1)
	}
	return pbVarint(2, 0)
}

func yFloat(f float32) []byte {
	b := protowire.AppendTag(nil, 3, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(f))
}

func yInstr(op uint64, operands ...[]byte) []byte {
	var b []byte
	if op != 0 {
		b = pbVarint(1, op)
	}
	for _, o := range operands {
		b = append(b, pbBytes(2, o)...)
	}
	return b
}

func yNode(name string, labels map[string]int, instrs ...[]byte) []byte {
	b := pbString(1, name)
	for _, in := range instrs {
		b = append(b, pbBytes(2, in)...)
	}
	for label, off := range labels {
		entry := append(pbString(1, label), pbVarint(2, uint64(off))...)
		b = append(b, pbBytes(3, entry)...)
	}
	return b
}

func yProgram(name string, initial map[string][]byte, nodes ...[]byte) []byte {
	b := pbString(1, name)
	for _, n := range nodes {
		var nodeName string
		walkMessage(n, func(f protoField) error {
			if f.num == 1 {
				nodeName = string(f.bytes)
			}
			return nil
		})
		entry := append(pbString(1, nodeName), pbBytes(2, n)...)
		b = append(b, pbBytes(2, entry)...)
	}
	for k, v := range initial {
		entry := append(pbString(1, k), pbBytes(2, v)...)
		b = append(b, pbBytes(3, entry)...)
	}
	return b
}

func shopYarnc() []byte {
	start := yNode("Start", map[string]int{"L_buy": 10, "L_else": 12},
		yInstr(yarnRunLine, yStr("line:hello")),
		yInstr(yarnPushVariable, yStr("$gold")),
		yInstr(yarnPushFloat, yFloat(10)),
		yInstr(yarnPushFloat, yFloat(2)),
		yInstr(yarnCallFunc, yStr("Number.GreaterThan")),
		yInstr(yarnJumpIfFalse, yStr("L_else")),
		yInstr(yarnPop),
		yInstr(yarnAddOption, yStr("line:buy"), yStr("L_buy"), yFloat(0), yBool(false)),
		yInstr(yarnShowOptions),
		yInstr(yarnJump),
		yInstr(yarnPushString, yStr("Shop")),
		yInstr(yarnRunNode),
		yInstr(yarnPop),
		yInstr(yarnStop),
	)
	shop := yNode("Shop", nil,
		yInstr(yarnPushFloat, yFloat(3)),
		yInstr(yarnPushFloat, yFloat(1)),
		yInstr(yarnCallFunc, yStr("dice")),
		yInstr(yarnRunLine, yStr("line:shop"), yFloat(1)),
		yInstr(yarnRunCommand, yStr("playSound ding")),
		yInstr(yarnStop),
	)
	return yProgram("shop", map[string][]byte{"$gold": yFloat(15)}, start, shop)
}

func TestImportYarnc(t *testing.T) {
	p, err := ImportYarnc(shopYarnc())
	if err != nil {
		t.Fatalf("ImportYarnc failed: %v", err)
	}
	if p.Name != "shop" {
		t.Errorf("name = %q", p.Name)
	}
	if got := p.NodeNames(); len(got) != 2 || got[0] != "Shop" || got[1] != "Start" {
		t.Errorf("nodes = %v, want sorted [Shop Start]", got)
	}
	if v := p.InitialValues["$gold"]; v.Kind != OperandNumber || v.Num != 15 {
		t.Errorf("$gold initial = %v", v)
	}

	want := []Opcode{
		OpRunLine, OpLoadVar, OpPushNumber, OpNop, OpGt, OpJumpIfFalse, OpPop,
		OpAddOption, OpShowOptions, OpNop, OpNop, OpGotoNode, OpPop, OpStop,
	}
	start := p.Node("Start")
	if len(start.Instructions) != len(want) {
		t.Fatalf("Start has %d instructions, want %d", len(start.Instructions), len(want))
	}
	for i, op := range want {
		if start.Instructions[i].Op != op {
			t.Errorf("Start[%d] = %s, want %s", i, start.Instructions[i].Op, op)
		}
	}

	if got := start.Instructions[5].Int(0); got != 12 {
		t.Errorf("JUMP_IF_FALSE target = %d, want 12", got)
	}
	opt := start.Instructions[7]
	if opt.Str(1) != "Start" || opt.Int(2) != 10 || opt.Bool(4) {
		t.Errorf("option = %s", DisassembleInstruction(opt))
	}
	if got := start.Instructions[11].Str(0); got != "Shop" {
		t.Errorf("GOTO_NODE target = %q", got)
	}

	shop := p.Node("Shop")
	call := shop.Instructions[2]
	if call.Op != OpCallFunc || call.Str(0) != "dice" || call.Int(1) != 1 {
		t.Errorf("call = %s", DisassembleInstruction(call))
	}
	if shop.Instructions[1].Op != OpNop {
		t.Errorf("argument count push should fold to NOP, got %s", shop.Instructions[1].Op)
	}
	cmd := shop.Instructions[4]
	if cmd.Op != OpRunCommand || cmd.Int(1) != 0 || cmd.Bool(2) {
		t.Errorf("command = %s", DisassembleInstruction(cmd))
	}
}

func TestImportYarncErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xFF, 0xFF, 0xFF}},
		{"push null", yProgram("x", nil, yNode("Start", nil, yInstr(yarnPushNull)))},
		{"undefined label", yProgram("x", nil, yNode("Start", nil, yInstr(yarnJumpTo, yStr("nope"))))},
		{"bare dynamic jump", yProgram("x", nil, yNode("Start", nil, yInstr(yarnPushString, yStr("L")), yInstr(yarnJump)))},
		{"call without argc", yProgram("x", nil, yNode("Start", nil, yInstr(yarnCallFunc, yStr("dice"))))},
		{"unknown operator", yProgram("x", nil, yNode("Start", nil,
			yInstr(yarnPushFloat, yFloat(2)), yInstr(yarnCallFunc, yStr("Number.Frobnicate"))))},
		{"run node without name", yProgram("x", nil, yNode("Start", nil, yInstr(yarnRunNode)))},
		{"unknown opcode", yProgram("x", nil, yNode("Start", nil, yInstr(99)))},
		{"wrong operand kind", yProgram("x", nil, yNode("Start", nil, yInstr(yarnRunLine, yFloat(1))))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportYarnc(tt.data); !errors.Is(err, ErrMalformedProgram) {
				t.Fatalf("expected ErrMalformedProgram, got %v", err)
			}
		})
	}
}

func TestImportYarncUnresolvedNode(t *testing.T) {
	data := yProgram("x", nil, yNode("Start", nil,
		yInstr(yarnPushString, yStr("Nowhere")),
		yInstr(yarnRunNode),
	))
	if _, err := ImportYarnc(data); !errors.Is(err, ErrUnresolvedReference) {
		t.Fatalf("expected ErrUnresolvedReference, got %v", err)
	}
}

func yVisitTracking(variable string) [][]byte {
	return [][]byte{
		yInstr(yarnPushVariable, yStr(variable)),
		yInstr(yarnPushFloat, yFloat(1)),
		yInstr(yarnPushFloat, yFloat(2)),
		yInstr(yarnCallFunc, yStr("Number.Add")),
		yInstr(yarnStoreVariable, yStr(variable)),
		yInstr(yarnPop),
	}
}

func TestImportYarncDropsVisitTracking(t *testing.T) {
	instrs := [][]byte{yInstr(yarnRunLine, yStr("line:hello"))}
	instrs = append(instrs, yVisitTracking(VisitPrefix+"Start")...)
	instrs = append(instrs, yVisitTracking(VisitPrefix+"Other")...)
	instrs = append(instrs, yInstr(yarnStop))

	p, err := ImportYarnc(yProgram("visits", nil, yNode("Start", nil, instrs...)))
	if err != nil {
		t.Fatalf("ImportYarnc failed: %v", err)
	}

	// The node's own counter is left to the VM; other variables are
	// ordinary arithmetic.
	want := []Opcode{
		OpRunLine,
		OpNop, OpNop, OpNop, OpNop, OpNop, OpNop,
		OpLoadVar, OpPushNumber, OpNop, OpAdd, OpStoreVar, OpPop,
		OpStop,
	}
	start := p.Node("Start")
	if len(start.Instructions) != len(want) {
		t.Fatalf("Start has %d instructions, want %d", len(start.Instructions), len(want))
	}
	for i, op := range want {
		if start.Instructions[i].Op != op {
			t.Errorf("Start[%d] = %s, want %s", i, start.Instructions[i].Op, op)
		}
	}
}
