package prompt

import (
	"fmt"
	"slices"
	"sync"
)

// ValueType is the declared type of a shared state key.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeStrings ValueType = "strings"
	TypeInt     ValueType = "int"
	TypeFloat   ValueType = "float"
	TypeBool    ValueType = "bool"
)

func (t ValueType) accepts(v any) bool {
	switch v.(type) {
	case string:
		return t == TypeString
	case []string:
		return t == TypeStrings
	case int:
		return t == TypeInt
	case float64:
		return t == TypeFloat
	case bool:
		return t == TypeBool
	}
	return false
}

// StateKey declares a key a module writes.
type StateKey struct {
	Name string
	Type ValueType
}

// SharedState holds values modules pass to each other during one run.
// Only declared keys can be written, and only with their declared type.
type SharedState struct {
	mu     sync.RWMutex
	types  map[string]ValueType
	values map[string]any
}

func newSharedState(types map[string]ValueType) *SharedState {
	return &SharedState{types: types, values: make(map[string]any)}
}

// Get returns the value of a key.
func (s *SharedState) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Snapshot returns a copy of all written values.
func (s *SharedState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *SharedState) commit(pending map[string]any) {
	if len(pending) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range pending {
		s.values[k] = v
	}
}

// StateView is a module's window onto the shared state. Writes are staged
// and land in the shared state only when the orchestrator keeps the
// module's output.
type StateView struct {
	state   *SharedState
	module  string
	reads   map[string]bool
	writes  map[string]ValueType
	pending map[string]any
}

func newStateView(state *SharedState, spec Spec) *StateView {
	v := &StateView{
		state:   state,
		module:  spec.ID,
		reads:   make(map[string]bool, len(spec.Reads)),
		writes:  make(map[string]ValueType, len(spec.Writes)),
		pending: make(map[string]any),
	}
	for _, r := range spec.Reads {
		v.reads[r] = true
	}
	for _, w := range spec.Writes {
		v.writes[w.Name] = w.Type
	}
	return v
}

// Set stages a write to a declared key.
func (v *StateView) Set(name string, value any) error {
	typ, ok := v.writes[name]
	if !ok {
		return fmt.Errorf("module %s: write to undeclared state key %q", v.module, name)
	}
	if !typ.accepts(value) {
		return fmt.Errorf("module %s: state key %q expects %s, got %T", v.module, name, typ, value)
	}
	if ss, ok := value.([]string); ok {
		value = slices.Clone(ss)
	}
	v.pending[name] = value
	return nil
}

// Get reads a declared key. Undeclared reads return false.
func (v *StateView) Get(name string) (any, bool) {
	if !v.reads[name] {
		return nil, false
	}
	return v.state.Get(name)
}

// String reads a string key.
func (v *StateView) String(name string) (string, bool) {
	val, ok := v.Get(name)
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// Strings reads a string list key.
func (v *StateView) Strings(name string) ([]string, bool) {
	val, ok := v.Get(name)
	if !ok {
		return nil, false
	}
	ss, ok := val.([]string)
	return slices.Clone(ss), ok
}

func (v *StateView) commit() {
	v.state.commit(v.pending)
}
