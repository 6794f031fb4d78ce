package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Mode declares how the controller treats a command handler.
type Mode uint8

const (
	// Blocking handlers run synchronously; their result may be pushed
	// onto the stack and they may defer completion with ErrPending.
	Blocking Mode = iota
	// FireAndForget handlers run synchronously and their result is discarded.
	FireAndForget
)

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case FireAndForget:
		return "fire-and-forget"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// Command is a host-supplied operation invocable from a program.
// Invoke returns the zero Value when it has no result.
type Command interface {
	Invoke(args []Value) (Value, error)
}

// CommandFunc adapts a function to the Command interface.
type CommandFunc func(args []Value) (Value, error)

func (f CommandFunc) Invoke(args []Value) (Value, error) {
	return f(args)
}

// Handler is a registered command with its dispatch policy.
type Handler struct {
	Command Command
	Mode    Mode
	// Params declares argument kinds; arguments are coerced at dispatch.
	// A nil Params accepts any arguments and delivers them as strings.
	Params []Kind
}

// CommandRegistry maps command names to handlers. Registering an existing
// name replaces the previous handler.
type CommandRegistry struct {
	handlers map[string]Handler
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *CommandRegistry) Register(name string, cmd Command, mode Mode, params ...Kind) {
	r.handlers[name] = Handler{Command: cmd, Mode: mode, Params: params}
}

// RegisterFunc is Register for a plain function.
func (r *CommandRegistry) RegisterFunc(name string, fn func(args []Value) (Value, error), mode Mode, params ...Kind) {
	r.Register(name, CommandFunc(fn), mode, params...)
}

// Unregister removes the handler for name.
func (r *CommandRegistry) Unregister(name string) {
	delete(r.handlers, name)
}

// Lookup returns the handler registered for name.
func (r *CommandRegistry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns registered command names, sorted.
func (r *CommandRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes the handler for inv. Arguments are checked against the
// declared parameters before the handler runs. A Blocking handler's result
// is returned; a FireAndForget result is discarded. ErrPending from a
// Blocking handler is returned unwrapped.
func (r *CommandRegistry) Dispatch(inv Invocation) (Value, Mode, error) {
	h, ok := r.handlers[inv.Name]
	if !ok {
		return Value{}, Blocking, fmt.Errorf("%w: %q", ErrUnknownCommand, inv.Name)
	}
	if inv.WantsResult && h.Mode != Blocking {
		return Value{}, h.Mode, fmt.Errorf("%w: %s is %s but its result is used", ErrBadCommandResult, inv.Name, h.Mode)
	}

	args, err := h.coerce(inv.Args)
	if err != nil {
		return Value{}, h.Mode, fmt.Errorf("command %s: %w", inv.Name, err)
	}

	result, err := h.Command.Invoke(args)
	if errors.Is(err, ErrPending) {
		if h.Mode != Blocking {
			return Value{}, h.Mode, fmt.Errorf("command %s: %s handler cannot defer completion", inv.Name, h.Mode)
		}
		return Value{}, h.Mode, ErrPending
	}
	if err != nil {
		return Value{}, h.Mode, fmt.Errorf("command %s: %w", inv.Name, err)
	}
	if h.Mode == FireAndForget {
		return Value{}, h.Mode, nil
	}
	return result, h.Mode, nil
}

func (h Handler) coerce(args []Value) ([]Value, error) {
	if h.Params == nil {
		return args, nil
	}
	if len(args) != len(h.Params) {
		return nil, fmt.Errorf("%w: expected %d arguments, got %d", ErrBadCommandArguments, len(h.Params), len(args))
	}
	out := make([]Value, len(args))
	for i, kind := range h.Params {
		v, err := Coerce(args[i], kind)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrBadCommandArguments, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// SplitCommandText splits command text into words. Double-quoted runs are
// one word with the quotes removed, and a backslash inside quotes escapes
// the next character.
func SplitCommandText(text string) []string {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quoted  bool
	)
	flush := func() {
		if inWord {
			words = append(words, current.String())
			current.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quoted && c == '\\' && i+1 < len(text):
			i++
			current.WriteByte(text[i])
		case c == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (c == ' ' || c == '\t'):
			flush()
		default:
			current.WriteByte(c)
			inWord = true
		}
	}
	flush()
	return words
}
