package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/chazu/yarnvm/linetable"
	"github.com/chazu/yarnvm/manifest"
	"github.com/chazu/yarnvm/runner"
	"github.com/chazu/yarnvm/storage"
	"github.com/chazu/yarnvm/vm"
)

func runCmd(args []string) error {
	fs := newFlagSet("run", "[options]")
	configPath := fs.String("config", "", "Manifest file (default: search upward for yarnvm.toml)")
	programPath := fs.String("program", "", "Compiled program (.ysbc or .yarnc)")
	stringsPath := fs.String("strings", "", "String table CSV")
	metadataPath := fs.String("metadata", "", "Line metadata CSV")
	start := fs.String("start", "", "Start node")
	dbPath := fs.String("db", "", "SQLite database for variables (default: in memory)")
	session := fs.String("session", "", "Variable session id")
	seed := fs.Uint64("seed", 0, "Random seed (overrides the manifest)")
	step := fs.Bool("step", false, "Pause after every line")
	restore := fs.String("restore", "", "Load variables from a snapshot before playing")
	save := fs.String("save", "", "Write a variable snapshot after playing")
	verbosity := fs.Int("v", 0, "Log verbosity (1: info, 2: debug)")
	logPath := fs.String("log", "", "Log file (default: stderr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(*verbosity, *logPath)

	m, err := loadManifest(*configPath)
	if err != nil {
		return err
	}

	// Flags override the manifest.
	var opts []runner.RunnerOption
	prog, strs, meta, db, sess := "", "", "", "", ""
	if m != nil {
		if opts, err = m.RunnerOptions(); err != nil {
			return err
		}
		prog, strs, meta, db, sess = m.ProgramPath(), m.StringsPath(), m.MetadataPath(), m.DatabasePath(), m.Variables.Session
	}
	prog = override(prog, *programPath)
	strs = override(strs, *stringsPath)
	meta = override(meta, *metadataPath)
	db = override(db, *dbPath)
	sess = override(sess, *session)
	if prog == "" || strs == "" {
		return errors.New("no program or string table given (use -program and -strings, or a yarnvm.toml)")
	}
	if meta == "" {
		meta = runner.MetadataPath(strs)
	}
	if *start != "" {
		opts = append(opts, runner.WithStartNode(*start))
	}
	if flagsSet(fs)["seed"] {
		opts = append(opts, runner.WithRandomSeed(*seed))
	}
	if *step {
		opts = append(opts, runner.WithLineMode(runner.LineStep))
	}
	// The player drives the run itself.
	opts = append(opts, runner.WithAutostart(false))

	program, err := runner.LoadProgram(prog)
	if err != nil {
		return err
	}
	table, err := linetable.LoadFiles(strs, meta)
	if err != nil {
		return err
	}

	var store vm.BulkStorage
	if db != "" {
		s, err := storage.OpenSQLite(db, sess)
		if err != nil {
			return err
		}
		defer s.Close()
		sess = s.Session()
		store = s
	} else {
		store = vm.NewMemoryStorage()
	}
	if *restore != "" {
		if err := restoreFile(store, *restore); err != nil {
			return err
		}
	}
	if m != nil {
		if err := applyInitial(store, m); err != nil {
			return err
		}
	}
	opts = append(opts, runner.WithStorage(store))

	r, err := runner.New(program, table, opts...)
	if err != nil {
		return err
	}

	p := newPlayer(r, os.Stdin, os.Stdout, isTerminal(os.Stdout))
	p.registerCommands(m)
	playErr := p.play()

	if *save != "" {
		if err := saveFile(store, sess, *save); err != nil {
			return errors.Join(playErr, err)
		}
	}
	return playErr
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	return manifest.FindAndLoad(".")
}

func override(base, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return base
}

// applyInitial seeds manifest initial values that the store does not
// already hold, so saved sessions keep their state.
func applyInitial(store vm.VariableStorage, m *manifest.Manifest) error {
	init, err := m.InitialValues()
	if err != nil {
		return err
	}
	for name, v := range init {
		_, ok, err := store.Get(name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := store.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ---------------------------------------------------------------------------
// Player: drives a runner from a line-oriented terminal
// ---------------------------------------------------------------------------

const (
	ansiDim   = "\x1b[2m"
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

type player struct {
	r   *runner.Runner
	in  *bufio.Scanner
	out io.Writer
	tty bool
}

func newPlayer(r *runner.Runner, in io.Reader, out io.Writer, tty bool) *player {
	return &player{r: r, in: bufio.NewScanner(in), out: out, tty: tty}
}

// registerCommands gives every command the program names a printing
// handler, then applies the manifest's declarations. Blocking commands
// defer completion to the player, which asks for a result when needed.
func (p *player) registerCommands(m *manifest.Manifest) {
	for _, name := range p.r.Program().CommandNames() {
		p.r.AddCommandHandler(name, p.handler(name, false), vm.FireAndForget)
	}
	if m == nil {
		return
	}
	for name, spec := range m.Commands {
		// Validated when the manifest was loaded.
		mode, _ := spec.ModeValue()
		kinds, _ := spec.Kinds()
		p.r.AddCommandHandler(name, p.handler(name, mode == vm.Blocking), mode, kinds...)
	}
}

func (p *player) handler(name string, deferred bool) func(args []vm.Value) (vm.Value, error) {
	return func(args []vm.Value) (vm.Value, error) {
		parts := make([]string, 0, len(args)+1)
		parts = append(parts, name)
		for _, a := range args {
			parts = append(parts, a.String())
		}
		text := "<<" + strings.Join(parts, " ") + ">>"
		if p.tty {
			text = ansiDim + text + ansiReset
		}
		fmt.Fprintln(p.out, text)
		if deferred {
			return vm.Value{}, vm.ErrPending
		}
		return vm.Value{}, nil
	}
}

// play runs the story to its end, reading choices from the input.
func (p *player) play() error {
	if p.r.State() == runner.NotStarted {
		if err := p.r.Resume(); err != nil {
			return err
		}
	}
	for {
		p.printLines()
		var err error
		switch p.r.State() {
		case runner.Finished:
			return nil
		case runner.Failed:
			return p.r.Err()
		case runner.WaitingOnLine:
			if p.tty {
				if _, ok := p.prompt(""); !ok {
					return nil
				}
			}
			err = p.r.Resume()
		case runner.WaitingOnChoice:
			err = p.choose()
		case runner.WaitingOnCommand:
			err = p.complete()
		default:
			return fmt.Errorf("unexpected state %s", p.r.State())
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *player) printLines() {
	for _, l := range p.r.Lines() {
		fmt.Fprintln(p.out, l.Text)
	}
}

func (p *player) printChoices(choices []runner.Choice) {
	for i, c := range choices {
		switch {
		case c.Available:
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, c.Text)
		case p.tty:
			fmt.Fprintf(p.out, "%s  %d) %s%s\n", ansiDim, i+1, c.Text, ansiReset)
		default:
			fmt.Fprintf(p.out, "  %d) %s (unavailable)\n", i+1, c.Text)
		}
	}
}

// choose reads 1-based selections until the runner accepts one.
func (p *player) choose() error {
	choices := p.r.Choices()
	p.printChoices(choices)
	for {
		text, ok := p.prompt("> ")
		if !ok {
			return io.EOF
		}
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			fmt.Fprintf(p.out, "Enter a number between 1 and %d.\n", len(choices))
			continue
		}
		err = p.r.Choose(n - 1)
		switch {
		case errors.Is(err, runner.ErrInvalidChoiceIndex):
			fmt.Fprintf(p.out, "Enter a number between 1 and %d.\n", len(choices))
		case errors.Is(err, runner.ErrChoiceUnavailable):
			fmt.Fprintln(p.out, "That choice is unavailable.")
		default:
			return err
		}
	}
}

// complete finishes a deferred command. When the program expects a result
// the user types it; otherwise Enter continues.
func (p *player) complete() error {
	inv, _ := p.r.PendingCommand()
	if !inv.WantsResult {
		if p.tty {
			if _, ok := p.prompt(""); !ok {
				return io.EOF
			}
		}
		return p.r.CompleteCommand(vm.Value{})
	}
	text, ok := p.prompt(inv.Name + "? ")
	if !ok {
		return io.EOF
	}
	return p.r.CompleteCommand(parseValue(strings.TrimSpace(text)))
}

func (p *player) prompt(prefix string) (string, bool) {
	if p.tty {
		fmt.Fprint(p.out, ansiBold+prefix+ansiReset)
	}
	if !p.in.Scan() {
		return "", false
	}
	return p.in.Text(), true
}

// parseValue reads a typed command result: numbers and true/false keep
// their kind, anything else is a string.
func parseValue(s string) vm.Value {
	switch s {
	case "true":
		return vm.BoolValue(true)
	case "false":
		return vm.BoolValue(false)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return vm.NumberValue(n)
	}
	return vm.StringValue(s)
}
