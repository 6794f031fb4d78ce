package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/yarnvm/bytecode"
)

// VisitPrefix namespaces the variables that count node visits.
const VisitPrefix = bytecode.VisitPrefix

// VisitVariable returns the variable holding the visit count of node.
func VisitVariable(node string) string {
	return VisitPrefix + node
}

// VariableStorage holds story variables. Implementations are used by a
// single VM and need not be safe for concurrent use.
type VariableStorage interface {
	// Get returns the stored value and whether it exists.
	Get(name string) (Value, bool, error)
	// Set creates or replaces a variable.
	Set(name string, v Value) error
}

// BulkStorage supports export and import of the whole store, independent
// of any run state.
type BulkStorage interface {
	VariableStorage
	Export() (map[string]Value, error)
	Import(vars map[string]Value) error
	Clear() error
}

// ValidateVariableName checks that a host-supplied name is a story variable.
func ValidateVariableName(name string) error {
	if !strings.HasPrefix(name, "$") || len(name) < 2 {
		return fmt.Errorf("%w: %q must start with '$'", ErrInvalidVariableName, name)
	}
	return nil
}

// MemoryStorage is an in-memory BulkStorage.
type MemoryStorage struct {
	vars map[string]Value
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{vars: make(map[string]Value)}
}

func (m *MemoryStorage) Get(name string) (Value, bool, error) {
	v, ok := m.vars[name]
	return v, ok, nil
}

func (m *MemoryStorage) Set(name string, v Value) error {
	if !v.IsValid() {
		return fmt.Errorf("%w: cannot store an invalid value in %s", ErrTypeMismatch, name)
	}
	m.vars[name] = v
	return nil
}

// Export returns a copy of every variable.
func (m *MemoryStorage) Export() (map[string]Value, error) {
	out := make(map[string]Value, len(m.vars))
	for k, v := range m.vars {
		out[k] = v
	}
	return out, nil
}

// Import merges vars into the store, replacing existing names.
func (m *MemoryStorage) Import(vars map[string]Value) error {
	for k, v := range vars {
		if err := m.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStorage) Clear() error {
	clear(m.vars)
	return nil
}

// Names returns the stored variable names, sorted.
func (m *MemoryStorage) Names() []string {
	names := make([]string, 0, len(m.vars))
	for k := range m.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
