// Package manifest handles yarnvm.toml project configuration. YAML and
// schema-checked CUE manifests are accepted as well.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/chazu/yarnvm/runner"
	"github.com/chazu/yarnvm/vm"
)

// FileNames lists the manifest names looked for in a directory, in order.
var FileNames = []string{"yarnvm.toml", "yarnvm.yaml", "yarnvm.yml", "yarnvm.cue"}

var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest represents a yarnvm.toml project configuration.
type Manifest struct {
	Story     Story                  `toml:"story" yaml:"story" json:"story"`
	Runtime   Runtime                `toml:"runtime" yaml:"runtime" json:"runtime"`
	Variables Variables              `toml:"variables" yaml:"variables" json:"variables"`
	Commands  map[string]CommandSpec `toml:"commands" yaml:"commands" json:"commands"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `toml:"-" yaml:"-" json:"-"`
}

// Story locates the compiled story and its string table.
type Story struct {
	Name      string `toml:"name" yaml:"name" json:"name"`
	Program   string `toml:"program" yaml:"program" json:"program"`
	Strings   string `toml:"strings" yaml:"strings" json:"strings"`
	Metadata  string `toml:"metadata" yaml:"metadata" json:"metadata"`
	Start     string `toml:"start" yaml:"start" json:"start"`
	Autostart bool   `toml:"autostart" yaml:"autostart" json:"autostart"`
}

// Runtime configures the VM.
type Runtime struct {
	MaxCallDepth int    `toml:"max-call-depth" yaml:"max-call-depth" json:"max-call-depth"`
	LineMode     string `toml:"line-mode" yaml:"line-mode" json:"line-mode"`
	Seed         uint64 `toml:"seed" yaml:"seed" json:"seed"`
}

// Variables configures variable storage.
type Variables struct {
	Database string         `toml:"database" yaml:"database" json:"database"`
	Session  string         `toml:"session" yaml:"session" json:"session"`
	Initial  map[string]any `toml:"initial" yaml:"initial" json:"initial"`
}

// CommandSpec declares a command the host provides.
type CommandSpec struct {
	Mode   string   `toml:"mode" yaml:"mode" json:"mode"`
	Params []string `toml:"params" yaml:"params" json:"params"`
}

// Load parses the manifest in dir, trying each of FileNames.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no manifest in %s", dir)
}

// LoadFile parses a manifest file. YAML is used for .yaml and .yml files,
// CUE for .cue files and TOML otherwise.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".cue":
		err = decodeCUE(path, data, &m)
	default:
		err = toml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Defaults
	if m.Story.Start == "" {
		m.Story.Start = runner.DefaultStartNode
	}
	if m.Runtime.LineMode == "" {
		m.Runtime.LineMode = "buffered"
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a manifest file,
// then loads and returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks field values that the decoders cannot.
func (m *Manifest) Validate() error {
	if _, err := parseLineMode(m.Runtime.LineMode); err != nil {
		return err
	}
	if m.Runtime.MaxCallDepth < 0 {
		return fmt.Errorf("%w: max-call-depth %d is negative", ErrInvalidManifest, m.Runtime.MaxCallDepth)
	}
	for name, spec := range m.Commands {
		if _, err := spec.ModeValue(); err != nil {
			return fmt.Errorf("command %s: %w", name, err)
		}
		if _, err := spec.Kinds(); err != nil {
			return fmt.Errorf("command %s: %w", name, err)
		}
	}
	if _, err := m.InitialValues(); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ProgramPath returns the absolute path of the compiled program.
func (m *Manifest) ProgramPath() string { return m.resolve(m.Story.Program) }

// StringsPath returns the absolute path of the string table.
func (m *Manifest) StringsPath() string { return m.resolve(m.Story.Strings) }

// MetadataPath returns the absolute path of the line metadata table, or ""
// when none is configured.
func (m *Manifest) MetadataPath() string { return m.resolve(m.Story.Metadata) }

// DatabasePath returns the absolute path of the variable database, or ""
// when variables are kept in memory.
func (m *Manifest) DatabasePath() string { return m.resolve(m.Variables.Database) }

// ---------------------------------------------------------------------------
// Runner mapping
// ---------------------------------------------------------------------------

// RunnerOptions maps the story and runtime sections onto runner options.
// Storage and commands are left to the caller.
func (m *Manifest) RunnerOptions() ([]runner.RunnerOption, error) {
	mode, err := parseLineMode(m.Runtime.LineMode)
	if err != nil {
		return nil, err
	}
	opts := []runner.RunnerOption{
		runner.WithStartNode(m.Story.Start),
		runner.WithAutostart(m.Story.Autostart),
		runner.WithLineMode(mode),
		runner.WithRandomSeed(m.Runtime.Seed),
	}
	if m.Runtime.MaxCallDepth > 0 {
		opts = append(opts, runner.WithMaxCallDepth(m.Runtime.MaxCallDepth))
	}
	return opts, nil
}

// InitialValues converts the [variables.initial] table to story values.
func (m *Manifest) InitialValues() (map[string]vm.Value, error) {
	out := make(map[string]vm.Value, len(m.Variables.Initial))
	for name, raw := range m.Variables.Initial {
		if err := vm.ValidateVariableName(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		switch v := raw.(type) {
		case string:
			out[name] = vm.StringValue(v)
		case bool:
			out[name] = vm.BoolValue(v)
		case int:
			out[name] = vm.NumberValue(float64(v))
		case int64:
			out[name] = vm.NumberValue(float64(v))
		case float64:
			out[name] = vm.NumberValue(v)
		default:
			return nil, fmt.Errorf("%w: variable %s has unsupported type %T", ErrInvalidManifest, name, raw)
		}
	}
	return out, nil
}

// ModeValue returns the dispatch mode; the default is fire-and-forget.
func (c CommandSpec) ModeValue() (vm.Mode, error) {
	switch c.Mode {
	case "", "fire-and-forget":
		return vm.FireAndForget, nil
	case "blocking":
		return vm.Blocking, nil
	}
	return 0, fmt.Errorf("%w: unknown command mode %q", ErrInvalidManifest, c.Mode)
}

// Kinds returns the declared parameter kinds, or nil when none are declared.
func (c CommandSpec) Kinds() ([]vm.Kind, error) {
	if c.Params == nil {
		return nil, nil
	}
	kinds := make([]vm.Kind, len(c.Params))
	for i, p := range c.Params {
		switch p {
		case "string":
			kinds[i] = vm.KindString
		case "number":
			kinds[i] = vm.KindNumber
		case "bool":
			kinds[i] = vm.KindBool
		case "any":
			kinds[i] = vm.KindAny
		default:
			return nil, fmt.Errorf("%w: unknown parameter type %q", ErrInvalidManifest, p)
		}
	}
	return kinds, nil
}

func parseLineMode(s string) (runner.LineMode, error) {
	switch s {
	case "", "buffered":
		return runner.LineBuffered, nil
	case "step":
		return runner.LineStep, nil
	}
	return 0, fmt.Errorf("%w: unknown line-mode %q", ErrInvalidManifest, s)
}
