package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/yarnvm/bytecode"
)

// ---------------------------------------------------------------------------
// Execution errors: fatal to the run
// ---------------------------------------------------------------------------

var (
	ErrInvalidOpcode       = errors.New("invalid opcode")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUndefinedVariable   = errors.New("undefined variable")
	ErrCallStackOverflow   = errors.New("call stack overflow")
	ErrDivideByZero        = errors.New("division by zero")
	ErrUnknownFunction     = errors.New("unknown function")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrBadCommandArguments = errors.New("bad command arguments")
	ErrBadCommandResult    = errors.New("bad command result")
)

// ---------------------------------------------------------------------------
// Usage errors: recoverable, VM state unchanged
// ---------------------------------------------------------------------------

var (
	ErrNotStarted          = errors.New("vm not started")
	ErrSuspended           = errors.New("vm is suspended")
	ErrProgramEnded        = errors.New("program has ended")
	ErrNotAwaitingOption   = errors.New("not awaiting an option")
	ErrNotAwaitingCommand  = errors.New("not awaiting a command result")
	ErrOptionIndex         = errors.New("option index out of range")
	ErrOptionUnavailable   = errors.New("option is unavailable")
	ErrInvalidVariableName = errors.New("invalid variable name")
)

// ErrPending is returned by a Blocking command handler that completes
// later; the host finishes it with CompleteCommand.
var ErrPending = errors.New("command pending")

// ExecError records where a fatal execution error happened.
type ExecError struct {
	Node   string
	Offset int
	Op     bytecode.Opcode
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s[%d] %s: %v", e.Node, e.Offset, e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
