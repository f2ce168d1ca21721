package errors

import (
	stderrors "errors"
	"strings"
)

// As is errors.As, re-exported so callers importing this package keep one errors import
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Cause classifies a host-level connection or execution error for log fields
type Cause int

const (
	// ConnectionCause represents network or SSH transport errors
	ConnectionCause Cause = iota

	// AuthenticationCause represents SSH authentication or host key failures
	AuthenticationCause

	// TimeoutCause represents timeout-related errors
	TimeoutCause

	// RemoteCause represents a remote command exiting non-zero
	RemoteCause

	// UnknownCause represents unclassified errors
	UnknownCause
)

// String returns a string representation of the cause
func (c Cause) String() string {
	switch c {
	case ConnectionCause:
		return "connection"
	case AuthenticationCause:
		return "authentication"
	case TimeoutCause:
		return "timeout"
	case RemoteCause:
		return "remote"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unable to authenticate",
		"no supported authentication methods",
		"permission denied",
		"knownhosts: key mismatch",
		"knownhosts: key is unknown",
		"host key",
	}
	timeoutKeywords = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}
	connectionKeywords = []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"network unreachable",
		"network is unreachable",
		"no route to host",
		"host unreachable",
		"broken pipe",
		"handshake failed",
		"unexpected eof",
		"no such host",
		"proxy command",
	}
)

// Classify analyzes a host error and returns its cause
func Classify(err error) Cause {
	if err == nil {
		return UnknownCause
	}

	var failure HostFailure
	if As(err, &failure) && failure.ExitCode > 0 {
		return RemoteCause
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, authKeywords):
		return AuthenticationCause
	case containsAny(errStr, timeoutKeywords):
		return TimeoutCause
	case containsAny(errStr, connectionKeywords):
		return ConnectionCause
	case strings.Contains(errStr, "exit status"):
		return RemoteCause
	default:
		return UnknownCause
	}
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

// Collector accumulates per-host failures of one phase in report order
type Collector struct {
	phase    string
	failures []HostFailure
	byCause  map[Cause]int
}

// NewCollector creates a collector for the named phase
func NewCollector(phase string) *Collector {
	return &Collector{
		phase:   phase,
		byCause: make(map[Cause]int),
	}
}

// Add records a host failure; nil errors are ignored
func (c *Collector) Add(host string, err error, exitCode int) {
	if err == nil {
		return
	}
	f := HostFailure{Host: host, Phase: c.phase, Err: err, ExitCode: exitCode}
	c.failures = append(c.failures, f)
	c.byCause[Classify(f)]++
}

// Count returns the number of failing hosts
func (c *Collector) Count() int {
	return len(c.failures)
}

// CountByCause returns the number of failures of a specific cause
func (c *Collector) CountByCause(cause Cause) int {
	return c.byCause[cause]
}

// Failures returns the collected failures
func (c *Collector) Failures() []HostFailure {
	return c.failures
}

// Err returns a PhaseError of the given kind, or nil when nothing failed
func (c *Collector) Err(kind Kind) error {
	return NewPhaseError(kind, c.phase, c.failures)
}
