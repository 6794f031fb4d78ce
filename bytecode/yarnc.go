package bytecode

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Opcodes of Yarn Spinner v2 compiled programs (.yarnc).
const (
	yarnJumpTo        = 0
	yarnJump          = 1
	yarnRunLine       = 2
	yarnRunCommand    = 3
	yarnAddOption     = 4
	yarnShowOptions   = 5
	yarnPushString    = 6
	yarnPushFloat     = 7
	yarnPushBool      = 8
	yarnPushNull      = 9
	yarnJumpIfFalse   = 10
	yarnPop           = 11
	yarnCallFunc      = 12
	yarnPushVariable  = 13
	yarnStoreVariable = 14
	yarnStop          = 15
	yarnRunNode       = 16
)

// yarnOperators maps operator function names (after the type prefix) to
// native opcodes. Yarn compiles operators as CALL_FUNC "Number.Add" etc.
var yarnOperators = map[string]Opcode{
	"Add":                  OpAdd,
	"Minus":                OpSub,
	"Multiply":             OpMul,
	"Divide":               OpDiv,
	"Modulo":               OpMod,
	"UnaryMinus":           OpNeg,
	"EqualTo":              OpEq,
	"NotEqualTo":           OpNe,
	"LessThan":             OpLt,
	"LessThanOrEqualTo":    OpLe,
	"GreaterThan":          OpGt,
	"GreaterThanOrEqualTo": OpGe,
	"Not":                  OpNot,
	"And":                  OpAnd,
	"Or":                   OpOr,
	"Xor":                  OpXor,
}

type yarnInstruction struct {
	op       uint64
	operands []Operand
}

type yarnNode struct {
	name         string
	instructions []yarnInstruction
	labels       map[string]int
	tags         []string
}

// ReadYarnc reads a Yarn Spinner v2 compiled program from r and converts it.
func ReadYarnc(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading yarnc: %w", err)
	}
	return ImportYarnc(data)
}

// ImportYarnc converts a Yarn Spinner v2 compiled program into a validated
// Program. Instruction offsets are preserved one-for-one so label targets
// stay valid; stack idioms with no native equivalent (argument counts pushed
// before CALL_FUNC, node names pushed before RUN_NODE, the dynamic JUMP after
// SHOW_OPTIONS) are folded into the consuming instruction and leave a NOP.
func ImportYarnc(data []byte) (*Program, error) {
	p := &Program{
		Version:       ProgramVersion,
		InitialValues: make(map[string]Operand),
	}
	var nodes []*yarnNode

	err := walkMessage(data, func(f protoField) error {
		switch f.num {
		case 1:
			s, err := f.str("program name")
			p.Name = s
			return err
		case 2:
			_, value, err := mapEntry(f, "node")
			if err != nil {
				return err
			}
			n, err := parseYarnNode(value.bytes)
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
		case 3:
			key, value, err := mapEntry(f, "initial value")
			if err != nil {
				return err
			}
			o, err := parseYarnOperand(value.bytes)
			if err != nil {
				return err
			}
			p.InitialValues[key] = o
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].name < nodes[j].name })
	for _, yn := range nodes {
		n, err := translateYarnNode(yn)
		if err != nil {
			return nil, err
		}
		p.Nodes = append(p.Nodes, n)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseYarnNode(b []byte) (*yarnNode, error) {
	n := &yarnNode{labels: make(map[string]int)}
	err := walkMessage(b, func(f protoField) error {
		switch f.num {
		case 1:
			s, err := f.str("node name")
			n.name = s
			return err
		case 2:
			if f.typ != protowire.BytesType {
				return f.wrongType("instruction")
			}
			in, err := parseYarnInstruction(f.bytes)
			if err != nil {
				return err
			}
			n.instructions = append(n.instructions, in)
		case 3:
			key, value, err := mapEntry(f, "label")
			if err != nil {
				return err
			}
			n.labels[key] = int(int32(value.varint))
		case 4:
			s, err := f.str("tag")
			n.tags = append(n.tags, s)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n.name == "" {
		return nil, fmt.Errorf("%w: yarnc node without a name", ErrMalformedProgram)
	}
	return n, nil
}

func parseYarnInstruction(b []byte) (yarnInstruction, error) {
	var in yarnInstruction
	err := walkMessage(b, func(f protoField) error {
		switch f.num {
		case 1:
			if f.typ != protowire.VarintType {
				return f.wrongType("opcode")
			}
			in.op = f.varint
		case 2:
			if f.typ != protowire.BytesType {
				return f.wrongType("operand")
			}
			o, err := parseYarnOperand(f.bytes)
			if err != nil {
				return err
			}
			in.operands = append(in.operands, o)
		}
		return nil
	})
	return in, err
}

func parseYarnOperand(b []byte) (Operand, error) {
	var o Operand
	err := walkMessage(b, func(f protoField) error {
		switch f.num {
		case 1:
			s, err := f.str("string operand")
			o = StringOperand(s)
			return err
		case 2:
			if f.typ != protowire.VarintType {
				return f.wrongType("bool operand")
			}
			o = BoolOperand(f.varint != 0)
		case 3:
			if f.typ != protowire.Fixed32Type {
				return f.wrongType("float operand")
			}
			o = NumberOperand(float64(math.Float32frombits(f.fixed32)))
		}
		return nil
	})
	if err == nil && o.Kind == 0 {
		err = fmt.Errorf("%w: yarnc operand has no value", ErrMalformedProgram)
	}
	return o, err
}

func translateYarnNode(yn *yarnNode) (*Node, error) {
	n := &Node{
		Name:         yn.name,
		Instructions: make([]Instruction, len(yn.instructions)),
		Tags:         yn.tags,
		Labels:       yn.labels,
	}
	src := yn.instructions

	fail := func(i int, format string, args ...any) error {
		return fmt.Errorf("%w: yarnc %s[%d]: %s", ErrMalformedProgram, yn.name, i, fmt.Sprintf(format, args...))
	}
	operand := func(i, k int, kind OperandKind) (Operand, error) {
		if k >= len(src[i].operands) {
			return Operand{}, fail(i, "missing operand %d", k)
		}
		o := src[i].operands[k]
		if o.Kind != kind {
			return Operand{}, fail(i, "operand %d is %s, want %s", k, o.Kind, kind)
		}
		return o, nil
	}
	optional := func(i, k int, def Operand) (Operand, error) {
		if k >= len(src[i].operands) {
			return def, nil
		}
		return operand(i, k, def.Kind)
	}
	label := func(i, k int) (Operand, error) {
		o, err := operand(i, k, OperandString)
		if err != nil {
			return Operand{}, err
		}
		off, ok := yn.labels[o.Str]
		if !ok {
			return Operand{}, fail(i, "undefined label %q", o.Str)
		}
		return NumberOperand(float64(off)), nil
	}
	previous := func(i int, op uint64) bool {
		return i > 0 && src[i-1].op == op
	}

	for i, yi := range src {
		var (
			out  Instruction
			errs [5]error
		)
		switch yi.op {
		case yarnJumpTo:
			var target Operand
			target, errs[0] = label(i, 0)
			out = Instruction{Op: OpJump, Operands: []Operand{target}}

		case yarnJump:
			if !previous(i, yarnShowOptions) {
				return nil, fail(i, "dynamic JUMP is only supported after SHOW_OPTIONS")
			}
			out = Instruction{Op: OpNop}

		case yarnRunLine:
			var id, subs Operand
			id, errs[0] = operand(i, 0, OperandString)
			subs, errs[1] = optional(i, 1, NumberOperand(0))
			out = Instruction{Op: OpRunLine, Operands: []Operand{id, subs}}

		case yarnRunCommand:
			var text, subs Operand
			text, errs[0] = operand(i, 0, OperandString)
			subs, errs[1] = optional(i, 1, NumberOperand(0))
			out = Instruction{Op: OpRunCommand, Operands: []Operand{text, subs, BoolOperand(false)}}

		case yarnAddOption:
			var id, dest, subs, cond Operand
			id, errs[0] = operand(i, 0, OperandString)
			dest, errs[1] = label(i, 1)
			subs, errs[2] = optional(i, 2, NumberOperand(0))
			cond, errs[3] = optional(i, 3, BoolOperand(false))
			out = Instruction{Op: OpAddOption, Operands: []Operand{id, StringOperand(yn.name), dest, subs, cond}}

		case yarnShowOptions:
			out = Instruction{Op: OpShowOptions}

		case yarnPushString:
			var s Operand
			s, errs[0] = operand(i, 0, OperandString)
			out = Instruction{Op: OpPushString, Operands: []Operand{s}}

		case yarnPushFloat:
			var f Operand
			f, errs[0] = operand(i, 0, OperandNumber)
			out = Instruction{Op: OpPushNumber, Operands: []Operand{f}}

		case yarnPushBool:
			var b Operand
			b, errs[0] = operand(i, 0, OperandBool)
			out = Instruction{Op: OpPushBool, Operands: []Operand{b}}

		case yarnPushNull:
			return nil, fail(i, "PUSH_NULL has no equivalent value kind")

		case yarnJumpIfFalse:
			var target Operand
			target, errs[0] = label(i, 0)
			out = Instruction{Op: OpJumpIfFalse, Operands: []Operand{target}}

		case yarnPop:
			out = Instruction{Op: OpPop}

		case yarnCallFunc:
			var name Operand
			name, errs[0] = operand(i, 0, OperandString)
			if errs[0] != nil {
				break
			}
			if !previous(i, yarnPushFloat) || len(src[i-1].operands) == 0 {
				return nil, fail(i, "CALL_FUNC %q without a preceding argument count", name.Str)
			}
			argc := src[i-1].operands[0]
			n.Instructions[i-1] = Instruction{Op: OpNop}
			if prefix, op, ok := strings.Cut(name.Str, "."); ok && isYarnTypeName(prefix) {
				native, known := yarnOperators[op]
				if !known {
					return nil, fail(i, "unknown operator %q", name.Str)
				}
				out = Instruction{Op: native}
				break
			}
			out = Instruction{Op: OpCallFunc, Operands: []Operand{name, argc}}

		case yarnPushVariable:
			var name Operand
			name, errs[0] = operand(i, 0, OperandString)
			out = Instruction{Op: OpLoadVar, Operands: []Operand{name}}

		case yarnStoreVariable:
			var name Operand
			name, errs[0] = operand(i, 0, OperandString)
			out = Instruction{Op: OpStoreVar, Operands: []Operand{name}}

		case yarnStop:
			out = Instruction{Op: OpStop}

		case yarnRunNode:
			if !previous(i, yarnPushString) || len(src[i-1].operands) == 0 {
				return nil, fail(i, "RUN_NODE without a preceding node name")
			}
			target := src[i-1].operands[0]
			n.Instructions[i-1] = Instruction{Op: OpNop}
			out = Instruction{Op: OpGotoNode, Operands: []Operand{target}}

		default:
			return nil, fail(i, "unknown opcode %d", yi.op)
		}

		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		n.Instructions[i] = out
	}

	// The VM counts visits itself on node exit, so the compiler's own
	// tracking block would count each visit twice.
	for i := range src {
		if isYarnVisitTracking(src[i:], VisitPrefix+yn.name) {
			for k := i; k < i+len(yarnVisitTracking); k++ {
				n.Instructions[k] = Instruction{Op: OpNop}
			}
		}
	}
	return n, nil
}

// yarnVisitTracking is the block Yarn Spinner compilers append to tracked
// nodes: load the visit variable, add one, store it back.
var yarnVisitTracking = [...]uint64{
	yarnPushVariable, yarnPushFloat, yarnPushFloat, yarnCallFunc, yarnStoreVariable, yarnPop,
}

func isYarnVisitTracking(src []yarnInstruction, variable string) bool {
	if len(src) < len(yarnVisitTracking) {
		return false
	}
	for k, op := range yarnVisitTracking {
		if src[k].op != op || (op != yarnPop && len(src[k].operands) != 1) {
			return false
		}
	}
	arg := func(k int) Operand { return src[k].operands[0] }
	return arg(0).Kind == OperandString && arg(0).Str == variable &&
		arg(1).Kind == OperandNumber && arg(1).Num == 1 &&
		arg(2).Kind == OperandNumber && arg(2).Num == 2 &&
		arg(3).Kind == OperandString && arg(3).Str == "Number.Add" &&
		arg(4).Kind == OperandString && arg(4).Str == variable
}

func isYarnTypeName(s string) bool {
	switch s {
	case "Number", "String", "Bool":
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Protobuf wire helpers
// ---------------------------------------------------------------------------

type protoField struct {
	num     protowire.Number
	typ     protowire.Type
	bytes   []byte
	varint  uint64
	fixed32 uint32
}

func (f protoField) wrongType(what string) error {
	return fmt.Errorf("%w: yarnc %s field %d has wire type %d", ErrMalformedProgram, what, f.num, f.typ)
}

func (f protoField) str(what string) (string, error) {
	if f.typ != protowire.BytesType {
		return "", f.wrongType(what)
	}
	return string(f.bytes), nil
}

// walkMessage calls visit for every field of an encoded message. Fields of
// group or fixed64 type are skipped.
func walkMessage(b []byte, visit func(f protoField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: yarnc: %v", ErrMalformedProgram, protowire.ParseError(n))
		}
		b = b[n:]

		f := protoField{num: num, typ: typ}
		switch typ {
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: yarnc field %d: %v", ErrMalformedProgram, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

// mapEntry decodes a map<string, V> entry, returning the key and raw value field.
func mapEntry(f protoField, what string) (string, protoField, error) {
	if f.typ != protowire.BytesType {
		return "", protoField{}, f.wrongType(what)
	}
	var (
		key   string
		value protoField
	)
	err := walkMessage(f.bytes, func(e protoField) error {
		switch e.num {
		case 1:
			s, err := e.str(what + " key")
			key = s
			return err
		case 2:
			value = e
		}
		return nil
	})
	return key, value, err
}
