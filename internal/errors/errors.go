// Package errors provides the error taxonomy and per-host failure aggregation for ssh-action.
package errors

import (
	"fmt"
	"strings"
)

// Kind classifies a fatal or non-fatal outcome of a run
type Kind int

const (
	// ValidationKind represents malformed or contradictory configuration
	ValidationKind Kind = iota

	// ResolutionKind represents hostnames that fail DNS resolution
	ResolutionKind

	// ReachabilityKind represents hosts failing the reachability probe
	ReachabilityKind

	// ExecutionKind represents hosts failing distribution or script execution
	ExecutionKind

	// CleanupKind represents hosts where remote artifacts could not be removed
	CleanupKind
)

// String returns a string representation of the kind
func (k Kind) String() string {
	switch k {
	case ValidationKind:
		return "validation"
	case ResolutionKind:
		return "resolution"
	case ReachabilityKind:
		return "reachability"
	case ExecutionKind:
		return "execution"
	case CleanupKind:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind abort the run
func (k Kind) Fatal() bool {
	return k != CleanupKind
}

// ValidationError is a configuration-scoped failure reported as a single message
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// HostFailure is the captured failure of one host in one phase
type HostFailure struct {
	Host     string
	Phase    string
	Err      error
	ExitCode int // -1 when the failure is not a remote exit status
}

// Error implements the error interface
func (f HostFailure) Error() string {
	if f.ExitCode > 0 {
		return fmt.Sprintf("%s: exit status %d", f.Host, f.ExitCode)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Host, f.Err)
	}
	return f.Host
}

// Unwrap returns the underlying error
func (f HostFailure) Unwrap() error {
	return f.Err
}

// PhaseError aggregates every failing host of a phase
type PhaseError struct {
	Kind     Kind
	Phase    string
	Failures []HostFailure
}

// Error renders one line per failing host
func (e *PhaseError) Error() string {
	lines := make([]string, 0, len(e.Failures)+1)
	lines = append(lines, fmt.Sprintf("%s failed on %d host(s)", e.Phase, len(e.Failures)))
	for _, f := range e.Failures {
		lines = append(lines, "  "+f.Error())
	}
	return strings.Join(lines, "\n")
}

// Hosts returns the failing hosts in report order
func (e *PhaseError) Hosts() []string {
	hosts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		hosts = append(hosts, f.Host)
	}
	return hosts
}

// NewPhaseError returns nil when failures is empty so callers can return it directly
func NewPhaseError(kind Kind, phase string, failures []HostFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &PhaseError{Kind: kind, Phase: phase, Failures: failures}
}

// KindOf reports the kind of a fatal error produced by this module
func KindOf(err error) (Kind, bool) {
	var phaseErr *PhaseError
	var validationErr *ValidationError
	switch {
	case err == nil:
		return 0, false
	case As(err, &phaseErr):
		return phaseErr.Kind, true
	case As(err, &validationErr):
		return ValidationKind, true
	default:
		return 0, false
	}
}
