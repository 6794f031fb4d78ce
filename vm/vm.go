package vm

import (
	"fmt"
	"math/rand/v2"

	"github.com/tliron/commonlog"

	"github.com/chazu/yarnvm/bytecode"
)

// DefaultMaxCallDepth bounds CALL_NODE nesting unless SetMaxCallDepth
// says otherwise.
const DefaultMaxCallDepth = 64

var log = commonlog.GetLogger("yarnvm.vm")

// ---------------------------------------------------------------------------
// VM: Instruction-level interpreter
// ---------------------------------------------------------------------------

// VM executes a validated Program one instruction at a time. It owns the
// instruction pointer, value stack and call stack; variables live in the
// VariableStorage it was given. A VM is not safe for concurrent use.
type VM struct {
	prog    *bytecode.Program
	storage VariableStorage
	funcs   map[string]Function
	rng     *rand.Rand

	maxCallDepth int

	pc      bytecode.Address
	stack   []Value
	calls   []bytecode.Address
	options []Option

	started        bool
	ended          bool
	awaitingOption bool
	pending        *Invocation

	// err latches the first fatal error; the VM never runs again after it.
	err error
}

// NewVM creates a VM for prog. A nil storage gets a fresh MemoryStorage.
func NewVM(prog *bytecode.Program, storage VariableStorage) *VM {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	vm := &VM{
		prog:         prog,
		storage:      storage,
		funcs:        make(map[string]Function),
		rng:          rand.New(rand.NewPCG(0, 0)),
		maxCallDepth: DefaultMaxCallDepth,
		stack:        make([]Value, 0, 16),
	}
	vm.registerBuiltins()
	return vm
}

// SetMaxCallDepth bounds the call stack. Values below 1 are ignored.
func (vm *VM) SetMaxCallDepth(depth int) {
	if depth > 0 {
		vm.maxCallDepth = depth
	}
}

// SetRandomSeed reseeds the generator used by random, random_range and dice.
func (vm *VM) SetRandomSeed(seed uint64) {
	vm.rng = rand.New(rand.NewPCG(seed, seed))
}

// Program returns the program being executed.
func (vm *VM) Program() *bytecode.Program { return vm.prog }

// Storage returns the variable store.
func (vm *VM) Storage() VariableStorage { return vm.storage }

// Start positions the VM at the first instruction of node and clears all
// execution state. Variables are kept.
func (vm *VM) Start(node string) error {
	if vm.err != nil {
		return vm.err
	}
	idx, ok := vm.prog.NodeIndex(node)
	if !ok {
		return fmt.Errorf("%w: start node %q", bytecode.ErrUnresolvedReference, node)
	}
	vm.pc = bytecode.Address{Node: idx}
	vm.stack = vm.stack[:0]
	vm.calls = vm.calls[:0]
	vm.options = nil
	vm.pending = nil
	vm.awaitingOption = false
	vm.ended = false
	vm.started = true
	log.Debugf("start at %s", node)
	return nil
}

// ---------------------------------------------------------------------------
// State queries
// ---------------------------------------------------------------------------

// Err returns the fatal error that stopped the VM, if any.
func (vm *VM) Err() error { return vm.err }

// Started reports whether Start has been called.
func (vm *VM) Started() bool { return vm.started }

// Ended reports whether the program has ended.
func (vm *VM) Ended() bool { return vm.ended }

// AwaitingOption reports whether a choice set is pending.
func (vm *VM) AwaitingOption() bool { return vm.awaitingOption }

// AwaitingCommand reports whether a command invocation is pending.
func (vm *VM) AwaitingCommand() bool { return vm.pending != nil }

// CurrentNode returns the name of the executing node, or "" before Start.
func (vm *VM) CurrentNode() string {
	if !vm.started {
		return ""
	}
	return vm.prog.Nodes[vm.pc.Node].Name
}

// PC returns the address of the next instruction.
func (vm *VM) PC() bytecode.Address { return vm.pc }

// Options returns a copy of the pending choice set.
func (vm *VM) Options() []Option {
	if !vm.awaitingOption {
		return nil
	}
	return append([]Option(nil), vm.options...)
}

// Pending returns the command awaiting CompleteCommand.
func (vm *VM) Pending() (Invocation, bool) {
	if vm.pending == nil {
		return Invocation{}, false
	}
	return *vm.pending, true
}

// StackDepth returns the number of values on the value stack.
func (vm *VM) StackDepth() int { return len(vm.stack) }

// CallDepth returns the number of return addresses on the call stack.
func (vm *VM) CallDepth() int { return len(vm.calls) }

// ---------------------------------------------------------------------------
// Resumption
// ---------------------------------------------------------------------------

// SelectOption resolves a pending choice set by jumping to the destination
// of option index. Usage errors leave the VM unchanged.
func (vm *VM) SelectOption(index int) error {
	if vm.err != nil {
		return vm.err
	}
	if !vm.awaitingOption {
		return ErrNotAwaitingOption
	}
	if index < 0 || index >= len(vm.options) {
		return fmt.Errorf("%w: %d of %d", ErrOptionIndex, index, len(vm.options))
	}
	opt := vm.options[index]
	if !opt.Available {
		return fmt.Errorf("%w: %d", ErrOptionUnavailable, index)
	}

	if opt.Destination.Node != vm.pc.Node {
		if err := vm.exitNode(); err != nil {
			return vm.fail(bytecode.OpShowOptions, err)
		}
	}
	vm.pc = opt.Destination
	vm.options = nil
	vm.awaitingOption = false
	log.Debugf("selected option %d (%s)", index, opt.LineID)
	return nil
}

// CompleteCommand resolves the pending command. When the instruction wants
// a result, result must be a valid Value and is pushed; otherwise it is
// discarded.
func (vm *VM) CompleteCommand(result Value) error {
	if vm.err != nil {
		return vm.err
	}
	if vm.pending == nil {
		return ErrNotAwaitingCommand
	}
	inv := vm.pending
	vm.pending = nil
	if inv.WantsResult {
		if !result.IsValid() {
			return vm.fail(bytecode.OpRunCommand, fmt.Errorf("%w: %s produced no value", ErrBadCommandResult, inv.Name))
		}
		vm.push(result)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Step: execute one instruction
// ---------------------------------------------------------------------------

// Step executes exactly one instruction. Fatal errors come back as
// *ExecError and stop the VM for good; usage errors (not started, ended,
// suspended) leave it unchanged.
func (vm *VM) Step() (Outcome, error) {
	switch {
	case vm.err != nil:
		return Outcome{}, vm.err
	case !vm.started:
		return Outcome{}, ErrNotStarted
	case vm.ended:
		return Outcome{}, ErrProgramEnded
	case vm.awaitingOption, vm.pending != nil:
		return Outcome{}, ErrSuspended
	}

	node := vm.prog.Nodes[vm.pc.Node]
	if vm.pc.Offset >= len(node.Instructions) {
		// Falling off the end of a node returns from it.
		out, err := vm.ret()
		if err != nil {
			return Outcome{}, vm.fail(bytecode.OpReturn, err)
		}
		return out, nil
	}

	in := node.Instructions[vm.pc.Offset]
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("%s[%04d] %s", node.Name, vm.pc.Offset, bytecode.DisassembleInstruction(in))
	}
	vm.pc.Offset++

	out, err := vm.exec(in)
	if err != nil {
		vm.pc.Offset--
		return Outcome{}, vm.fail(in.Op, err)
	}
	return out, nil
}

// fail latches err as the VM's fatal error, annotated with its location.
func (vm *VM) fail(op bytecode.Opcode, err error) error {
	vm.err = &ExecError{
		Node:   vm.prog.Nodes[vm.pc.Node].Name,
		Offset: vm.pc.Offset,
		Op:     op,
		Err:    err,
	}
	log.Errorf("%s", vm.err)
	return vm.err
}

func (vm *VM) exec(in bytecode.Instruction) (Outcome, error) {
	cont := Outcome{Kind: StepContinue}

	switch in.Op {
	case bytecode.OpNop:
		return cont, nil

	case bytecode.OpPop:
		_, err := vm.pop()
		return cont, err

	case bytecode.OpDup:
		v, err := vm.peek()
		if err != nil {
			return cont, err
		}
		vm.push(v)
		return cont, nil

	case bytecode.OpPushString, bytecode.OpPushNumber, bytecode.OpPushBool:
		vm.push(FromOperand(in.Operands[0]))
		return cont, nil

	case bytecode.OpLoadVar:
		v, err := vm.load(in.Str(0))
		if err != nil {
			return cont, err
		}
		vm.push(v)
		return cont, nil

	case bytecode.OpStoreVar:
		v, err := vm.peek()
		if err != nil {
			return cont, err
		}
		return cont, vm.storage.Set(in.Str(0), v)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe,
		bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor:
		if len(vm.stack) < 2 {
			return cont, fmt.Errorf("%w: %s needs 2 operands, have %d", ErrStackUnderflow, in.Op, len(vm.stack))
		}
		n := len(vm.stack)
		result, err := binaryOp(in.Op, vm.stack[n-2], vm.stack[n-1])
		if err != nil {
			return cont, err
		}
		vm.stack = vm.stack[:n-2]
		vm.push(result)
		return cont, nil

	case bytecode.OpNeg, bytecode.OpNot:
		v, err := vm.peek()
		if err != nil {
			return cont, err
		}
		result, err := unaryOp(in.Op, v)
		if err != nil {
			return cont, err
		}
		vm.stack[len(vm.stack)-1] = result
		return cont, nil

	case bytecode.OpJump:
		vm.pc.Offset = in.Int(0)
		return cont, nil

	case bytecode.OpJumpIfFalse:
		v, err := vm.peek()
		if err != nil {
			return cont, err
		}
		if v.kind != KindBool {
			return cont, fmt.Errorf("%w: condition is %#v", ErrTypeMismatch, v)
		}
		if !v.b {
			vm.pc.Offset = in.Int(0)
		}
		return cont, nil

	case bytecode.OpRunLine:
		subs, err := vm.popStrings(in.Int(1))
		if err != nil {
			return cont, err
		}
		return Outcome{Kind: StepEmitLine, Line: Line{
			ID:            in.Str(0),
			Substitutions: subs,
			Node:          vm.CurrentNode(),
		}}, nil

	case bytecode.OpAddOption:
		return cont, vm.addOption(in)

	case bytecode.OpShowOptions:
		if len(vm.options) == 0 {
			log.Debugf("no options to show, ending")
			return vm.stop()
		}
		vm.awaitingOption = true
		return Outcome{Kind: StepPresentChoices, Options: vm.Options()}, nil

	case bytecode.OpRunCommand:
		return vm.runCommand(in)

	case bytecode.OpCallFunc:
		return cont, vm.callFunc(in.Str(0), in.Int(1))

	case bytecode.OpGotoNode:
		if err := vm.exitNode(); err != nil {
			return cont, err
		}
		vm.stack = vm.stack[:0]
		vm.pc = vm.addressOf(in.Str(0))
		return Outcome{Kind: StepJumpToNode, Node: in.Str(0)}, nil

	case bytecode.OpCallNode:
		if len(vm.calls) >= vm.maxCallDepth {
			return cont, fmt.Errorf("%w: depth %d calling %s", ErrCallStackOverflow, vm.maxCallDepth, in.Str(0))
		}
		vm.calls = append(vm.calls, vm.pc)
		vm.pc = vm.addressOf(in.Str(0))
		return Outcome{Kind: StepJumpToNode, Node: in.Str(0)}, nil

	case bytecode.OpReturn:
		return vm.ret()

	case bytecode.OpStop:
		return vm.stop()
	}

	return cont, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, byte(in.Op))
}

// ---------------------------------------------------------------------------
// Instruction helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() (Value, error) {
	v, err := vm.peek()
	if err != nil {
		return Value{}, err
	}
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	return vm.stack[len(vm.stack)-1], nil
}

// popStrings pops n values, first-pushed first, in canonical text form.
func (vm *VM) popStrings(n int) ([]string, error) {
	if n > len(vm.stack) {
		return nil, fmt.Errorf("%w: need %d substitutions, have %d", ErrStackUnderflow, n, len(vm.stack))
	}
	if n == 0 {
		return nil, nil
	}
	base := len(vm.stack) - n
	out := make([]string, n)
	for i, v := range vm.stack[base:] {
		out[i] = v.String()
	}
	vm.stack = vm.stack[:base]
	return out, nil
}

// load reads a variable from storage, falling back to the program's
// declared initial value.
func (vm *VM) load(name string) (Value, error) {
	v, ok, err := vm.storage.Get(name)
	if err != nil {
		return Value{}, fmt.Errorf("load %s: %w", name, err)
	}
	if ok {
		return v, nil
	}
	if init, ok := vm.prog.InitialValues[name]; ok {
		return FromOperand(init), nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
}

func (vm *VM) addOption(in bytecode.Instruction) error {
	need := in.Int(3)
	if in.Bool(4) {
		need++
	}
	if need > len(vm.stack) {
		return fmt.Errorf("%w: option needs %d values, have %d", ErrStackUnderflow, need, len(vm.stack))
	}
	if in.Bool(4) {
		cond := vm.stack[len(vm.stack)-1-in.Int(3)]
		if cond.kind != KindBool {
			return fmt.Errorf("%w: option condition is %#v", ErrTypeMismatch, cond)
		}
	}

	subs, _ := vm.popStrings(in.Int(3))
	available := true
	if in.Bool(4) {
		cond, _ := vm.pop()
		available = cond.b
	}

	vm.options = append(vm.options, Option{
		Index:         len(vm.options),
		LineID:        in.Str(0),
		Substitutions: subs,
		Destination:   vm.addressOf(in.Str(1), in.Int(2)),
		Available:     available,
	})
	return nil
}

func (vm *VM) runCommand(in bytecode.Instruction) (Outcome, error) {
	subs, err := vm.popStrings(in.Int(1))
	if err != nil {
		return Outcome{}, err
	}
	text := bytecode.Substitute(in.Str(0), subs)
	words := SplitCommandText(text)
	if len(words) == 0 {
		return Outcome{}, fmt.Errorf("%w: empty command %q", ErrBadCommandArguments, in.Str(0))
	}

	args := make([]Value, len(words)-1)
	for i, w := range words[1:] {
		args[i] = StringValue(w)
	}
	inv := Invocation{
		Name:        words[0],
		Args:        args,
		Text:        text,
		WantsResult: in.Bool(2),
	}
	vm.pending = &inv
	return Outcome{Kind: StepInvokeCommand, Command: inv}, nil
}

func (vm *VM) callFunc(name string, argc int) error {
	if argc > len(vm.stack) {
		return fmt.Errorf("%w: %s needs %d arguments, have %d", ErrStackUnderflow, name, argc, len(vm.stack))
	}
	base := len(vm.stack) - argc
	args := append([]Value(nil), vm.stack[base:]...)
	result, err := vm.callFunction(name, args)
	if err != nil {
		return err
	}
	vm.stack = vm.stack[:base]
	vm.push(result)
	return nil
}

// addressOf resolves a node name against the validated node table.
func (vm *VM) addressOf(node string, offset ...int) bytecode.Address {
	idx, _ := vm.prog.NodeIndex(node)
	addr := bytecode.Address{Node: idx}
	if len(offset) > 0 {
		addr.Offset = offset[0]
	}
	return addr
}

func (vm *VM) ret() (Outcome, error) {
	if len(vm.calls) == 0 {
		return vm.stop()
	}
	if err := vm.exitNode(); err != nil {
		return Outcome{}, err
	}
	top := len(vm.calls) - 1
	vm.pc = vm.calls[top]
	vm.calls = vm.calls[:top]
	return Outcome{Kind: StepReturnFromNode, Node: vm.CurrentNode()}, nil
}

func (vm *VM) stop() (Outcome, error) {
	if err := vm.exitNode(); err != nil {
		return Outcome{}, err
	}
	vm.ended = true
	vm.options = nil
	log.Debugf("program ended in %s", vm.CurrentNode())
	return Outcome{Kind: StepProgramEnded}, nil
}

// exitNode records a completed visit of the current node.
func (vm *VM) exitNode() error {
	name := vm.CurrentNode()
	n, err := vm.visitCount(name)
	if err != nil {
		return err
	}
	return vm.storage.Set(VisitVariable(name), NumberValue(float64(n+1)))
}

func (vm *VM) visitCount(node string) (int, error) {
	v, ok, err := vm.storage.Get(VisitVariable(node))
	if err != nil {
		return 0, fmt.Errorf("visit count %s: %w", node, err)
	}
	if !ok || v.kind != KindNumber {
		return 0, nil
	}
	return int(v.num), nil
}
