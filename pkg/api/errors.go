package api

import (
	"errors"
	"fmt"
)

// Protocol errors. These are rejected at the boundary and never corrupt
// instance state.
var (
	// ErrNoSuchInstance is returned when an operation targets an instance
	// key that has no history.
	ErrNoSuchInstance = errors.New("no such survey instance")

	// ErrSurveyClosed is returned when an operation targets an instance
	// that is already in a terminal phase.
	ErrSurveyClosed = errors.New("survey already closed")

	// ErrEngineStopped is returned after the engine has been stopped.
	ErrEngineStopped = errors.New("engine stopped")
)

// terminalError marks an activity failure as non-retryable.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return "terminal: " + e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the activity executor will not retry it.
// Use it for invalid input and permanently-declined external calls.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Terminalf is Terminal(fmt.Errorf(...)).
func Terminalf(format string, args ...any) error {
	return &terminalError{err: fmt.Errorf(format, args...)}
}

// IsTerminal reports whether err is marked non-retryable. Failures that are
// not terminal are treated as retryable (timeouts, transient I/O).
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
