package vm

import (
	"fmt"

	"github.com/chazu/yarnvm/bytecode"
)

// OutcomeKind says what a single Step produced.
type OutcomeKind uint8

const (
	StepContinue OutcomeKind = iota
	StepEmitLine
	StepPresentChoices
	StepInvokeCommand
	StepJumpToNode
	StepReturnFromNode
	StepProgramEnded
)

var outcomeNames = [...]string{
	StepContinue:       "Continue",
	StepEmitLine:       "EmitLine",
	StepPresentChoices: "PresentChoices",
	StepInvokeCommand:  "InvokeCommand",
	StepJumpToNode:     "JumpToNode",
	StepReturnFromNode: "ReturnFromNode",
	StepProgramEnded:   "ProgramEnded",
}

func (k OutcomeKind) String() string {
	if int(k) < len(outcomeNames) {
		return outcomeNames[k]
	}
	return fmt.Sprintf("OutcomeKind(%d)", k)
}

// Outcome is the result of executing one instruction. Only the field
// matching Kind is set.
type Outcome struct {
	Kind    OutcomeKind
	Line    Line       // StepEmitLine
	Options []Option   // StepPresentChoices
	Command Invocation // StepInvokeCommand
	Node    string     // StepJumpToNode, StepReturnFromNode: the node now executing
}

// Line is an emitted line before string-table resolution.
type Line struct {
	ID            string
	Substitutions []string
	Node          string
}

// Option is one entry of a pending choice set.
type Option struct {
	Index         int
	LineID        string
	Substitutions []string
	Destination   bytecode.Address
	Available     bool
}

// Invocation is a command ready for host dispatch.
type Invocation struct {
	Name        string
	Args        []Value
	Text        string // full command text after substitution
	WantsResult bool
}
