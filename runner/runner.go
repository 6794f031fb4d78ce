package runner

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/yarnvm/bytecode"
	"github.com/chazu/yarnvm/linetable"
	"github.com/chazu/yarnvm/vm"
)

// ---------------------------------------------------------------------------
// Usage errors: recoverable, state unchanged
// ---------------------------------------------------------------------------

var (
	ErrFinished           = errors.New("run has finished")
	ErrAwaitingChoice     = errors.New("run is waiting for a choice")
	ErrAwaitingCommand    = errors.New("run is waiting for a command to complete")
	ErrNotAwaitingChoice  = errors.New("run is not waiting for a choice")
	ErrNotAwaitingCommand = errors.New("run is not waiting for a command")
	ErrInvalidChoiceIndex = errors.New("invalid choice index")
	ErrChoiceUnavailable  = errors.New("choice is unavailable")
)

// State is the lifecycle of a run.
type State uint8

const (
	NotStarted State = iota
	Running
	WaitingOnLine
	WaitingOnChoice
	WaitingOnCommand
	Finished
	Failed
)

var stateNames = [...]string{
	NotStarted:       "NotStarted",
	Running:          "Running",
	WaitingOnLine:    "WaitingOnLine",
	WaitingOnChoice:  "WaitingOnChoice",
	WaitingOnCommand: "WaitingOnCommand",
	Finished:         "Finished",
	Failed:           "Failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Line is a delivered line of dialogue with its text resolved.
type Line struct {
	ID            string
	Text          string
	Node          string
	Tags          []string
	Substitutions []string
}

// Choice is one entry of the pending choice set.
type Choice struct {
	Index     int
	ID        string
	Text      string
	Tags      []string
	Available bool
}

// ---------------------------------------------------------------------------
// Runner: the host-facing execution controller
// ---------------------------------------------------------------------------

// Runner drives a VM to its suspension points, resolves lines through the
// string table and dispatches commands to registered handlers. A Runner
// is single-threaded; concurrent sessions each need their own Runner.
type Runner struct {
	prog     *bytecode.Program
	table    *linetable.Table
	machine  *vm.VM
	commands *vm.CommandRegistry
	cfg      *config
	log      commonlog.Logger

	state   State
	err     error
	lines   []Line
	choices []Choice
}

// New creates a runner for prog and table. Every referenced line ID and
// the start node are checked up front. With WithAutostart(true) the run
// proceeds to its first suspension before New returns.
func New(prog *bytecode.Program, table *linetable.Table, opts ...RunnerOption) (*Runner, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if prog == nil || table == nil {
		return nil, errors.New("runner: program and string table are required")
	}

	if !prog.Validated() {
		if err := prog.Validate(); err != nil {
			return nil, err
		}
	}
	if err := table.Validate(prog); err != nil {
		return nil, err
	}
	if prog.Node(cfg.startNode) == nil {
		return nil, fmt.Errorf("%w: start node %q", bytecode.ErrUnresolvedReference, cfg.startNode)
	}

	if cfg.storage == nil {
		cfg.storage = vm.NewMemoryStorage()
	}
	if cfg.commands == nil {
		cfg.commands = vm.NewCommandRegistry()
	}
	if cfg.logger == nil {
		cfg.logger = commonlog.GetLogger("yarnvm.runner")
	}

	machine := vm.NewVM(prog, cfg.storage)
	machine.SetMaxCallDepth(cfg.maxCallDepth)
	machine.SetRandomSeed(cfg.seed)

	r := &Runner{
		prog:     prog,
		table:    table,
		machine:  machine,
		commands: cfg.commands,
		cfg:      cfg,
		log:      cfg.logger,
	}
	if cfg.autostart {
		if err := r.Resume(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Host registration
// ---------------------------------------------------------------------------

// AddCommandHandler registers fn for a command name. Registering a name
// again replaces the earlier handler.
func (r *Runner) AddCommandHandler(name string, fn func(args []vm.Value) (vm.Value, error), mode vm.Mode, params ...vm.Kind) {
	r.commands.RegisterFunc(name, fn, mode, params...)
}

// AddCommand registers a vm.Command implementation.
func (r *Runner) AddCommand(name string, cmd vm.Command, mode vm.Mode, params ...vm.Kind) {
	r.commands.Register(name, cmd, mode, params...)
}

// AddFunction makes fn callable from expressions.
func (r *Runner) AddFunction(name string, fn func(args []vm.Value) (vm.Value, error), params ...vm.Kind) {
	r.machine.AddFunction(name, fn, params...)
}

// Commands returns the command registry.
func (r *Runner) Commands() *vm.CommandRegistry { return r.commands }

// ---------------------------------------------------------------------------
// Driving the run
// ---------------------------------------------------------------------------

// Resume continues the run until the next suspension. Lines delivered by
// the previous cycle are discarded first.
func (r *Runner) Resume() error {
	switch r.state {
	case Finished:
		return ErrFinished
	case Failed:
		return r.err
	case WaitingOnChoice:
		return ErrAwaitingChoice
	case WaitingOnCommand:
		return ErrAwaitingCommand
	case NotStarted:
		if err := r.machine.Start(r.cfg.startNode); err != nil {
			return r.fail(err)
		}
	}
	r.lines = nil
	r.choices = nil
	return r.run()
}

// Choose selects choice index and continues the run.
func (r *Runner) Choose(index int) error {
	if r.state != WaitingOnChoice {
		return fmt.Errorf("%w (state %s)", ErrNotAwaitingChoice, r.state)
	}
	if index < 0 || index >= len(r.choices) {
		return fmt.Errorf("%w: %d, have %d choices", ErrInvalidChoiceIndex, index, len(r.choices))
	}
	if !r.choices[index].Available {
		return fmt.Errorf("%w: %d", ErrChoiceUnavailable, index)
	}

	if err := r.machine.SelectOption(index); err != nil {
		return r.fail(err)
	}
	r.log.Debugf("chose %d (%s)", index, r.choices[index].ID)
	r.lines = nil
	r.choices = nil
	return r.run()
}

// CompleteCommand finishes a command whose handler returned vm.ErrPending
// and continues the run. Pass the zero Value when there is no result.
func (r *Runner) CompleteCommand(result vm.Value) error {
	if r.state != WaitingOnCommand {
		return fmt.Errorf("%w (state %s)", ErrNotAwaitingCommand, r.state)
	}
	if err := r.machine.CompleteCommand(result); err != nil {
		return r.fail(err)
	}
	r.lines = nil
	r.choices = nil
	return r.run()
}

func (r *Runner) run() error {
	r.setState(Running)
	for {
		out, err := r.machine.Step()
		if err != nil {
			return r.fail(err)
		}

		switch out.Kind {
		case vm.StepEmitLine:
			line, err := r.resolveLine(out.Line)
			if err != nil {
				return r.fail(err)
			}
			r.lines = append(r.lines, line)
			if r.cfg.lineMode == LineStep {
				r.setState(WaitingOnLine)
				return nil
			}

		case vm.StepPresentChoices:
			choices, err := r.resolveChoices(out.Options)
			if err != nil {
				return r.fail(err)
			}
			r.choices = choices
			r.setState(WaitingOnChoice)
			return nil

		case vm.StepInvokeCommand:
			done, err := r.dispatch(out.Command)
			if err != nil {
				return err
			}
			if !done {
				r.setState(WaitingOnCommand)
				return nil
			}

		case vm.StepProgramEnded:
			r.setState(Finished)
			return nil
		}
	}
}

// dispatch runs the handler for inv. It reports false when the handler
// deferred completion.
func (r *Runner) dispatch(inv vm.Invocation) (bool, error) {
	result, mode, err := r.commands.Dispatch(inv)
	if errors.Is(err, vm.ErrPending) {
		r.log.Debugf("command %s pending", inv.Name)
		return false, nil
	}
	if err != nil {
		pc := r.machine.PC()
		return false, r.fail(&vm.ExecError{
			Node:   r.machine.CurrentNode(),
			Offset: pc.Offset - 1,
			Op:     bytecode.OpRunCommand,
			Err:    err,
		})
	}
	r.log.Debugf("command %s (%s) dispatched with %d args", inv.Name, mode, len(inv.Args))

	if err := r.machine.CompleteCommand(result); err != nil {
		return false, r.fail(err)
	}
	return true, nil
}

func (r *Runner) resolveLine(l vm.Line) (Line, error) {
	text, err := r.table.Resolve(l.ID, l.Substitutions)
	if err != nil {
		return Line{}, err
	}
	return Line{
		ID:            l.ID,
		Text:          text,
		Node:          l.Node,
		Tags:          r.table.Tags(l.ID),
		Substitutions: l.Substitutions,
	}, nil
}

func (r *Runner) resolveChoices(opts []vm.Option) ([]Choice, error) {
	choices := make([]Choice, len(opts))
	for i, opt := range opts {
		text, err := r.table.Resolve(opt.LineID, opt.Substitutions)
		if err != nil {
			return nil, err
		}
		choices[i] = Choice{
			Index:     opt.Index,
			ID:        opt.LineID,
			Text:      text,
			Tags:      r.table.Tags(opt.LineID),
			Available: opt.Available,
		}
	}
	return choices, nil
}

func (r *Runner) setState(s State) {
	if r.state != s {
		r.log.Debugf("state %s -> %s", r.state, s)
	}
	r.state = s
}

// fail moves the run to Failed. A failed run never resumes.
func (r *Runner) fail(err error) error {
	r.err = err
	r.choices = nil
	r.setState(Failed)
	r.log.Errorf("run failed: %s", err)
	return err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Lines returns the lines delivered by the most recent Resume, Choose or
// CompleteCommand.
func (r *Runner) Lines() []Line {
	return append([]Line(nil), r.lines...)
}

// LineTexts returns the text of each line from Lines.
func (r *Runner) LineTexts() []string {
	texts := make([]string, len(r.lines))
	for i, l := range r.lines {
		texts[i] = l.Text
	}
	return texts
}

// Choices returns the pending choice set, empty unless WaitingOnChoice.
func (r *Runner) Choices() []Choice {
	if r.state != WaitingOnChoice {
		return nil
	}
	return append([]Choice(nil), r.choices...)
}

// Finished reports whether the run has reached the end of the program.
func (r *Runner) Finished() bool { return r.state == Finished }

// State returns the run state.
func (r *Runner) State() State { return r.state }

// Err returns the error that failed the run.
func (r *Runner) Err() error { return r.err }

// CurrentNode returns the node being executed.
func (r *Runner) CurrentNode() string { return r.machine.CurrentNode() }

// PendingCommand returns the command awaiting CompleteCommand.
func (r *Runner) PendingCommand() (vm.Invocation, bool) {
	if r.state != WaitingOnCommand {
		return vm.Invocation{}, false
	}
	return r.machine.Pending()
}

// Program returns the program being run.
func (r *Runner) Program() *bytecode.Program { return r.prog }

// Table returns the string table.
func (r *Runner) Table() *linetable.Table { return r.table }

// Storage returns the variable store.
func (r *Runner) Storage() vm.VariableStorage { return r.machine.Storage() }

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Variable reads a story variable, falling back to the program's declared
// initial value.
func (r *Runner) Variable(name string) (vm.Value, bool, error) {
	if err := vm.ValidateVariableName(name); err != nil {
		return vm.Value{}, false, err
	}
	v, ok, err := r.machine.Storage().Get(name)
	if err != nil || ok {
		return v, ok, err
	}
	if init, ok := r.prog.InitialValues[name]; ok {
		return vm.FromOperand(init), true, nil
	}
	return vm.Value{}, false, nil
}

// SetVariable writes a story variable.
func (r *Runner) SetVariable(name string, v vm.Value) error {
	if err := vm.ValidateVariableName(name); err != nil {
		return err
	}
	return r.machine.Storage().Set(name, v)
}
