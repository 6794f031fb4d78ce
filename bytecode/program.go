package bytecode

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// OperandKind identifies the type of an instruction operand.
type OperandKind uint8

const (
	OperandString OperandKind = 1
	OperandNumber OperandKind = 2
	OperandBool   OperandKind = 3
)

// String returns a human-readable name for OperandKind.
func (k OperandKind) String() string {
	switch k {
	case OperandString:
		return "string"
	case OperandNumber:
		return "number"
	case OperandBool:
		return "bool"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// Operand is a typed instruction operand.
type Operand struct {
	Kind OperandKind
	Str  string
	Num  float64
	Bool bool
}

// StringOperand returns a string operand.
func StringOperand(s string) Operand { return Operand{Kind: OperandString, Str: s} }

// NumberOperand returns a number operand.
func NumberOperand(n float64) Operand { return Operand{Kind: OperandNumber, Num: n} }

// BoolOperand returns a bool operand.
func BoolOperand(b bool) Operand { return Operand{Kind: OperandBool, Bool: b} }

// String formats the operand the way the disassembler prints it.
func (o Operand) String() string {
	switch o.Kind {
	case OperandString:
		return strconv.Quote(o.Str)
	case OperandNumber:
		return strconv.FormatFloat(o.Num, 'g', -1, 64)
	case OperandBool:
		return strconv.FormatBool(o.Bool)
	default:
		return "<invalid>"
	}
}

// isIndex reports whether a number operand holds a non-negative integer.
func (o Operand) isIndex() bool {
	return o.Kind == OperandNumber && o.Num >= 0 && o.Num == math.Trunc(o.Num) && o.Num <= math.MaxInt32
}

// Instruction is a single opcode with its typed operands.
type Instruction struct {
	Op       Opcode
	Operands []Operand
}

// Str returns string operand i. The program must have been validated.
func (in Instruction) Str(i int) string { return in.Operands[i].Str }

// Int returns number operand i as an int. The program must have been validated.
func (in Instruction) Int(i int) int { return int(in.Operands[i].Num) }

// Num returns number operand i.
func (in Instruction) Num(i int) float64 { return in.Operands[i].Num }

// Bool returns bool operand i.
func (in Instruction) Bool(i int) bool { return in.Operands[i].Bool }

// Node is a named, independently addressable instruction sequence.
type Node struct {
	Name         string
	Instructions []Instruction
	Tags         []string

	// Labels maps jump label names to instruction offsets. Debug only.
	Labels map[string]int
}

// VisitPrefix namespaces the variables that count node visits.
const VisitPrefix = "$Yarn.Internal.Visiting."

// Address identifies an instruction by node index and offset.
type Address struct {
	Node   int
	Offset int
}

// Program is a compiled story: a node table plus declared initial values.
// A Program is immutable once validated and may be shared between runs.
type Program struct {
	Version uint16
	Name    string
	Nodes   []*Node

	// InitialValues holds declared defaults for story variables.
	InitialValues map[string]Operand

	index map[string]int
}

// NodeIndex returns the index of the named node.
func (p *Program) NodeIndex(name string) (int, bool) {
	if p.index != nil {
		i, ok := p.index[name]
		return i, ok
	}
	for i, n := range p.Nodes {
		if n.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Node returns the named node, or nil.
func (p *Program) Node(name string) *Node {
	if i, ok := p.NodeIndex(name); ok {
		return p.Nodes[i]
	}
	return nil
}

// NodeNames returns node names in table order.
func (p *Program) NodeNames() []string {
	names := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		names[i] = n.Name
	}
	return names
}

// LineIDs returns every line ID referenced by RUN_LINE and ADD_OPTION, sorted.
func (p *Program) LineIDs() []string {
	seen := make(map[string]bool)
	for _, n := range p.Nodes {
		for _, in := range n.Instructions {
			if (in.Op == OpRunLine || in.Op == OpAddOption) && len(in.Operands) > 0 {
				seen[in.Operands[0].Str] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CommandNames returns the command names statically known from RUN_COMMAND
// text, sorted. Commands whose name is itself a substitution are skipped.
func (p *Program) CommandNames() []string {
	seen := make(map[string]bool)
	for _, n := range p.Nodes {
		for _, in := range n.Instructions {
			if in.Op != OpRunCommand || len(in.Operands) == 0 {
				continue
			}
			fields := strings.Fields(in.Operands[0].Str)
			if len(fields) == 0 || strings.Contains(fields[0], "{") {
				continue
			}
			seen[fields[0]] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
