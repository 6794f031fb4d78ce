package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of every node.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; Yarn Story Bytecode v%d\n", p.Version))
	if p.Name != "" {
		sb.WriteString(fmt.Sprintf("; Program: %s\n", p.Name))
	}

	if len(p.InitialValues) > 0 {
		names := make([]string, 0, len(p.InitialValues))
		for name := range p.InitialValues {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("; Initial values:\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf(";   %s = %s\n", name, p.InitialValues[name]))
		}
	}

	for _, n := range p.Nodes {
		sb.WriteString("\n")
		sb.WriteString(n.Disassemble())
	}
	return sb.String()
}

// Disassemble returns a human-readable listing of the node.
func (n *Node) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", n.Name))
	if len(n.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("; Tags: %s\n", strings.Join(n.Tags, " ")))
	}

	// Invert labels so they print above their target
	labelsAt := make(map[int][]string)
	for label, off := range n.Labels {
		labelsAt[off] = append(labelsAt[off], label)
	}

	for off, in := range n.Instructions {
		labels := labelsAt[off]
		sort.Strings(labels)
		for _, label := range labels {
			sb.WriteString(fmt.Sprintf("%s:\n", label))
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", off, DisassembleInstruction(in)))
	}
	return sb.String()
}

// DisassembleInstruction formats a single instruction.
func DisassembleInstruction(in Instruction) string {
	if len(in.Operands) == 0 {
		return in.Op.String()
	}
	parts := make([]string, len(in.Operands))
	for i, o := range in.Operands {
		parts[i] = o.String()
	}
	return fmt.Sprintf("%-14s %s", in.Op.String(), strings.Join(parts, " "))
}
