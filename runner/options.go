package runner

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/yarnvm/vm"
)

// DefaultStartNode is the node a run begins at unless WithStartNode is given.
const DefaultStartNode = "Start"

// LineMode controls how many lines a Resume delivers.
type LineMode uint8

const (
	// LineBuffered runs until a choice, a pending command or the end,
	// collecting every line on the way.
	LineBuffered LineMode = iota
	// LineStep suspends in WaitingOnLine after each line.
	LineStep
)

func (m LineMode) String() string {
	if m == LineStep {
		return "step"
	}
	return "buffered"
}

// RunnerOption configures a Runner.
type RunnerOption func(*config)

type config struct {
	autostart    bool
	startNode    string
	maxCallDepth int
	lineMode     LineMode
	storage      vm.VariableStorage
	commands     *vm.CommandRegistry
	seed         uint64
	logger       commonlog.Logger
}

func defaultConfig() *config {
	return &config{
		startNode:    DefaultStartNode,
		maxCallDepth: vm.DefaultMaxCallDepth,
		lineMode:     LineBuffered,
	}
}

// WithAutostart makes New run to the first suspension before returning.
// Without it the run begins on the first explicit Resume.
func WithAutostart(autostart bool) RunnerOption {
	return func(c *config) { c.autostart = autostart }
}

// WithStartNode sets the node the run begins at.
func WithStartNode(node string) RunnerOption {
	return func(c *config) { c.startNode = node }
}

// WithMaxCallDepth bounds node call nesting.
func WithMaxCallDepth(depth int) RunnerOption {
	return func(c *config) { c.maxCallDepth = depth }
}

// WithLineMode selects buffered or line-by-line delivery.
func WithLineMode(mode LineMode) RunnerOption {
	return func(c *config) { c.lineMode = mode }
}

// WithStorage sets the variable store. The default is a fresh
// vm.MemoryStorage.
func WithStorage(s vm.VariableStorage) RunnerOption {
	return func(c *config) { c.storage = s }
}

// WithCommands supplies a pre-populated command registry, so that handlers
// exist before an autostarted run dispatches its first command.
func WithCommands(reg *vm.CommandRegistry) RunnerOption {
	return func(c *config) { c.commands = reg }
}

// WithRandomSeed seeds the random functions so runs are reproducible.
func WithRandomSeed(seed uint64) RunnerOption {
	return func(c *config) { c.seed = seed }
}

// WithLogger replaces the "yarnvm.runner" logger.
func WithLogger(logger commonlog.Logger) RunnerOption {
	return func(c *config) { c.logger = logger }
}
