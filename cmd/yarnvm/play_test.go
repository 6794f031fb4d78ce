package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/yarnvm/bytecode"
	"github.com/chazu/yarnvm/linetable"
	"github.com/chazu/yarnvm/manifest"
	"github.com/chazu/yarnvm/runner"
	"github.com/chazu/yarnvm/vm"
)

const playStrings = `id,text
line:hello,Hello there.
line:yes,Yes
line:no,No
line:secret,A secret option
line:thanks,Thank you!
line:refused,Maybe next time.
line:gold,You have {0} gold.
`

func choiceProgram() *bytecode.Program {
	b := bytecode.NewBuilder("choices")
	n := b.Node("Start")
	n.Line("line:hello", 0)
	n.OptionTo("line:yes", "yes", 0, false)
	n.OptionTo("line:no", "no", 0, false)
	n.PushBool(false)
	n.OptionTo("line:secret", "yes", 0, true)
	n.ShowOptions()
	n.Label("yes")
	n.Command("celebrate loudly", 0, false)
	n.Line("line:thanks", 0)
	n.Emit(bytecode.OpStop)
	n.Label("no")
	n.Line("line:refused", 0)
	return b.MustBuild()
}

func newTestPlayer(t *testing.T, prog *bytecode.Program, m *manifest.Manifest, input string, opts ...runner.RunnerOption) (*player, *bytes.Buffer) {
	t.Helper()
	table, err := linetable.Load(strings.NewReader(playStrings))
	if err != nil {
		t.Fatal(err)
	}
	r, err := runner.New(prog, table, opts...)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	var out bytes.Buffer
	p := newPlayer(r, strings.NewReader(input), &out, false)
	p.registerCommands(m)
	return p, &out
}

func TestPlayChoices(t *testing.T) {
	p, out := newTestPlayer(t, choiceProgram(), nil, "x\n3\n1\n")
	if err := p.play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if p.r.State() != runner.Finished {
		t.Errorf("state = %s, want Finished", p.r.State())
	}

	text := out.String()
	for _, want := range []string{
		"Hello there.\n",
		"  1) Yes\n",
		"  2) No\n",
		"  3) A secret option (unavailable)\n",
		"Enter a number between 1 and 3.\n",
		"That choice is unavailable.\n",
		"<<celebrate loudly>>\n",
		"Thank you!\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Maybe next time.") {
		t.Errorf("took the wrong branch:\n%s", text)
	}
}

func TestPlayEndOfInput(t *testing.T) {
	p, _ := newTestPlayer(t, choiceProgram(), nil, "")
	if err := p.play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if p.r.State() != runner.WaitingOnChoice {
		t.Errorf("state = %s, want WaitingOnChoice", p.r.State())
	}
}

func TestPlayStepMode(t *testing.T) {
	b := bytecode.NewBuilder("step")
	n := b.Node("Start")
	n.Line("line:hello", 0)
	n.Line("line:thanks", 0)
	p, out := newTestPlayer(t, b.MustBuild(), nil, "", runner.WithLineMode(runner.LineStep))
	if err := p.play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := out.String(); got != "Hello there.\nThank you!\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPlayBlockingCommandResult(t *testing.T) {
	b := bytecode.NewBuilder("roll")
	n := b.Node("Start")
	n.Command("roll", 0, true)
	n.Store("$gold")
	n.Load("$gold")
	n.Line("line:gold", 1)

	m := &manifest.Manifest{
		Commands: map[string]manifest.CommandSpec{"roll": {Mode: "blocking"}},
	}
	p, out := newTestPlayer(t, b.MustBuild(), m, "12\n")
	if err := p.play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := out.String(); got != "<<roll>>\nYou have 12 gold.\n" {
		t.Errorf("output = %q", got)
	}
	v, ok, err := p.r.Variable("$gold")
	if err != nil || !ok || !v.Equal(vm.NumberValue(12)) {
		t.Errorf("$gold = %v, %v, %v", v, ok, err)
	}
}

func TestPlayFailure(t *testing.T) {
	b := bytecode.NewBuilder("fail")
	n := b.Node("Start")
	n.Command("roll", 0, true)
	n.Emit(bytecode.OpPop)

	// roll is fire-and-forget by default, so its result cannot be used.
	p, _ := newTestPlayer(t, b.MustBuild(), nil, "")
	if err := p.play(); err == nil {
		t.Fatal("expected play to fail")
	}
	if p.r.State() != runner.Failed {
		t.Errorf("state = %s, want Failed", p.r.State())
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want vm.Value
	}{
		{"12", vm.NumberValue(12)},
		{"-0.5", vm.NumberValue(-0.5)},
		{"true", vm.BoolValue(true)},
		{"false", vm.BoolValue(false)},
		{"True", vm.StringValue("True")},
		{"NaN", vm.StringValue("NaN")},
		{"Ann", vm.StringValue("Ann")},
		{"", vm.StringValue("")},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); !got.Equal(tt.want) || got.Kind() != tt.want.Kind() {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestApplyInitial(t *testing.T) {
	store := vm.NewMemoryStorage()
	if err := store.Set("$gold", vm.NumberValue(5)); err != nil {
		t.Fatal(err)
	}
	m := &manifest.Manifest{
		Variables: manifest.Variables{
			Initial: map[string]any{"$gold": 10, "$name": "Ann"},
		},
	}
	if err := applyInitial(store, m); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := store.Get("$gold"); !v.Equal(vm.NumberValue(5)) {
		t.Errorf("$gold = %v, want stored value kept", v)
	}
	if v, _, _ := store.Get("$name"); !v.Equal(vm.StringValue("Ann")) {
		t.Errorf("$name = %v", v)
	}
}

func TestSnapshotFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot.cbor")
	src := vm.NewMemoryStorage()
	_ = src.Set("$gold", vm.NumberValue(3))
	_ = src.Set("$name", vm.StringValue("Ann"))
	if err := saveFile(src, "slot-1", path); err != nil {
		t.Fatalf("saveFile: %v", err)
	}

	dst := vm.NewMemoryStorage()
	_ = dst.Set("$stale", vm.BoolValue(true))
	if err := restoreFile(dst, path); err != nil {
		t.Fatalf("restoreFile: %v", err)
	}
	vars, _ := dst.Export()
	var buf bytes.Buffer
	printVariables(&buf, vars)
	if got, want := buf.String(), "$gold = 3\n$name = \"Ann\"\n"; got != want {
		t.Errorf("variables = %q, want %q", got, want)
	}
}

func TestFlagsSetSeesZeroValues(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"-seed", "0"}, true},
		{[]string{"-seed", "7"}, true},
		{nil, false},
	}
	for _, tt := range tests {
		fs := newFlagSet("run", "[options]")
		fs.Uint64("seed", 0, "")
		if err := fs.Parse(tt.args); err != nil {
			t.Fatal(err)
		}
		if got := flagsSet(fs)["seed"]; got != tt.want {
			t.Errorf("flagsSet(%v)[seed] = %v, want %v", tt.args, got, tt.want)
		}
	}
}
