package bytecode

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedProgram    = errors.New("malformed program")
	ErrUnsupportedVersion  = errors.New("unsupported program version")
	ErrUnresolvedReference = errors.New("unresolved reference")
)

// Validate checks the program eagerly so that nothing malformed surfaces
// mid-run: opcodes and operand kinds, jump targets, and node references.
// On success the node index is built.
func (p *Program) Validate() error {
	index := make(map[string]int, len(p.Nodes))
	for i, n := range p.Nodes {
		if n == nil || n.Name == "" {
			return fmt.Errorf("%w: node %d has no name", ErrMalformedProgram, i)
		}
		if _, dup := index[n.Name]; dup {
			return fmt.Errorf("%w: duplicate node %q", ErrMalformedProgram, n.Name)
		}
		index[n.Name] = i
	}

	for name, v := range p.InitialValues {
		if v.Kind < OperandString || v.Kind > OperandBool {
			return fmt.Errorf("%w: initial value for %s has invalid kind %d", ErrMalformedProgram, name, v.Kind)
		}
	}

	for _, n := range p.Nodes {
		for off, in := range n.Instructions {
			if err := p.validateInstruction(index, n, off, in); err != nil {
				return err
			}
		}
	}

	p.index = index
	return nil
}

// Validated reports whether Validate has succeeded on p.
func (p *Program) Validated() bool {
	return p.index != nil
}

func (p *Program) validateInstruction(index map[string]int, n *Node, off int, in Instruction) error {
	fail := func(sentinel error, format string, args ...any) error {
		return fmt.Errorf("%w: %s[%d] %s: %s", sentinel, n.Name, off, in.Op, fmt.Sprintf(format, args...))
	}

	info, ok := opcodeInfoTable[in.Op]
	if !ok {
		return fmt.Errorf("%w: %s[%d]: invalid opcode 0x%02X", ErrMalformedProgram, n.Name, off, byte(in.Op))
	}
	if len(in.Operands) != len(info.Operands) {
		return fail(ErrMalformedProgram, "expected %d operands, got %d", len(info.Operands), len(in.Operands))
	}
	for i, kind := range info.Operands {
		if in.Operands[i].Kind != kind {
			return fail(ErrMalformedProgram, "operand %d is %s, want %s", i, in.Operands[i].Kind, kind)
		}
	}

	offset := func(i int) error {
		if !in.Operands[i].isIndex() {
			return fail(ErrMalformedProgram, "operand %d is not a count or offset: %s", i, in.Operands[i])
		}
		return nil
	}

	switch in.Op {
	case OpJump, OpJumpIfFalse:
		if err := offset(0); err != nil {
			return err
		}
		if in.Int(0) > len(n.Instructions) {
			return fail(ErrMalformedProgram, "jump target %d out of range", in.Int(0))
		}

	case OpRunLine, OpRunCommand, OpCallFunc:
		return offset(1)

	case OpAddOption:
		dest, ok := index[in.Str(1)]
		if !ok {
			return fail(ErrUnresolvedReference, "node %q", in.Str(1))
		}
		if err := offset(2); err != nil {
			return err
		}
		if in.Int(2) > len(p.Nodes[dest].Instructions) {
			return fail(ErrMalformedProgram, "destination %s[%d] out of range", in.Str(1), in.Int(2))
		}
		return offset(3)

	case OpGotoNode, OpCallNode:
		if _, ok := index[in.Str(0)]; !ok {
			return fail(ErrUnresolvedReference, "node %q", in.Str(0))
		}
	}
	return nil
}
