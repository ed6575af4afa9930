package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defgen/internal/consistency"
	"defgen/internal/prompt"
	"defgen/internal/rules"
)

// ErrInvalidInput marks requests rejected before any work was done.
var ErrInvalidInput = errors.New("invalid input")

// ExternalCallTimeout reports an LLM call that did not answer in time. No
// report is produced for the request.
type ExternalCallTimeout struct {
	Provider string
	Timeout  time.Duration
	Err      error
}

// Error implements the error interface.
func (e *ExternalCallTimeout) Error() string {
	return fmt.Sprintf("%s call timed out after %s", e.Provider, e.Timeout)
}

func (e *ExternalCallTimeout) Unwrap() error { return e.Err }

// ExternalCallError reports an LLM call that failed for another reason.
type ExternalCallError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Provider, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

// FailureKind classifies a user facing failure.
type FailureKind string

const (
	KindInvalidInput        FailureKind = "invalid_input"
	KindCatalogLoad         FailureKind = "catalog_load"
	KindConfiguration       FailureKind = "configuration"
	KindModuleExecution     FailureKind = "module_execution"
	KindContradiction       FailureKind = "contradiction_detected"
	KindExternalCallTimeout FailureKind = "external_call_timeout"
	KindExternalCall        FailureKind = "external_call_failed"
	KindCancelled           FailureKind = "cancelled"
	KindNotFound            FailureKind = "not_found"
	KindUnavailable         FailureKind = "unavailable"
	KindInternal            FailureKind = "internal"
)

// Failure is the structured failure handed to the UI instead of a raw error.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Details   []string    `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	err       error
}

// Error implements the error interface.
func (f *Failure) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Message) }

func (f *Failure) Unwrap() error { return f.err }

// NewFailure creates a Failure that wraps no underlying error.
func NewFailure(kind FailureKind, message string, details ...string) *Failure {
	return &Failure{Kind: kind, Message: message, Details: details}
}

// Describe turns any error from the service into a Failure with an
// actionable message.
func Describe(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		cp := *f
		return &cp
	}

	var (
		loadErr    *rules.CatalogLoadError
		cfgErr     *prompt.ConfigurationError
		modErr     *prompt.ModuleExecutionError
		contraErr  *consistency.ContradictionError
		timeoutErr *ExternalCallTimeout
		callErr    *ExternalCallError
	)
	switch {
	case errors.As(err, &contraErr):
		details := make([]string, 0, len(contraErr.Contradictions))
		for _, c := range contraErr.Contradictions {
			details = append(details, c.String())
		}
		return &Failure{Kind: KindContradiction, err: err, Details: details,
			Message: "The instruction set contradicts itself. Fix the rule catalog before generating."}
	case errors.As(err, &timeoutErr):
		return &Failure{Kind: KindExternalCallTimeout, err: err,
			Message: fmt.Sprintf("The language model did not answer within %s. Try again later.", timeoutErr.Timeout)}
	case errors.As(err, &callErr):
		return &Failure{Kind: KindExternalCall, err: err, Details: []string{callErr.Err.Error()},
			Message: "The language model call failed."}
	case errors.As(err, &loadErr):
		return &Failure{Kind: KindCatalogLoad, err: err, Details: []string{loadErr.Error()},
			Message: "The rule catalog could not be loaded."}
	case errors.As(err, &cfgErr):
		return &Failure{Kind: KindConfiguration, err: err, Details: []string{cfgErr.Error()},
			Message: "The instruction modules are misconfigured."}
	case errors.As(err, &modErr):
		return &Failure{Kind: KindModuleExecution, err: err, Details: []string{modErr.Error()},
			Message: fmt.Sprintf("Required instruction module %s failed.", modErr.Module)}
	case errors.Is(err, ErrInvalidInput):
		return &Failure{Kind: KindInvalidInput, err: err, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Failure{Kind: KindCancelled, err: err, Message: "The request was cancelled."}
	default:
		return &Failure{Kind: KindInternal, err: err, Details: []string{err.Error()},
			Message: "Unexpected error."}
	}
}
