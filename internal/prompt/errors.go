package prompt

import (
	"fmt"
	"strings"
)

// ConfigurationErrorType categorizes registry errors found at construction.
type ConfigurationErrorType int

const (
	// ConfigErrorDuplicate means two modules share an id.
	ConfigErrorDuplicate ConfigurationErrorType = iota
	// ConfigErrorCycle means the read/write graph has a cycle.
	ConfigErrorCycle
	// ConfigErrorUndeclaredRead means a module reads a key nobody writes.
	ConfigErrorUndeclaredRead
	// ConfigErrorTypeConflict means a key is declared with two types.
	ConfigErrorTypeConflict
	// ConfigErrorOptionalOnly means a non-optional module depends on a key
	// only optional modules write.
	ConfigErrorOptionalOnly
	// ConfigErrorStatic means a static module touches shared state.
	ConfigErrorStatic
	// ConfigErrorInvalid covers malformed module specs.
	ConfigErrorInvalid
)

func (t ConfigurationErrorType) String() string {
	switch t {
	case ConfigErrorDuplicate:
		return "duplicate module"
	case ConfigErrorCycle:
		return "dependency cycle"
	case ConfigErrorUndeclaredRead:
		return "undeclared read"
	case ConfigErrorTypeConflict:
		return "conflicting key types"
	case ConfigErrorOptionalOnly:
		return "optional-only dependency"
	case ConfigErrorStatic:
		return "static module uses state"
	default:
		return "invalid module"
	}
}

// ConfigurationError reports a module registry that cannot be planned.
type ConfigurationError struct {
	Type    ConfigurationErrorType
	Modules []string
	Key     string
	Detail  string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("module configuration: ")
	b.WriteString(e.Type.String())
	if e.Type == ConfigErrorCycle {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Modules, " -> "))
	} else if len(e.Modules) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Modules, ", "))
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key %q", e.Key)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// ModuleExecutionError reports a mandatory module that failed.
type ModuleExecutionError struct {
	Module string
	Err    error
}

// Error implements the error interface.
func (e *ModuleExecutionError) Error() string {
	return fmt.Sprintf("mandatory module %s failed: %v", e.Module, e.Err)
}

func (e *ModuleExecutionError) Unwrap() error { return e.Err }
