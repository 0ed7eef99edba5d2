package schemas

import "fmt"

// ParseError reports model output that no dialect grammar could turn into an
// Action. It is always recovered locally by substituting a Wait.
type ParseError struct {
	Dialect string
	Reason  string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s output: %s: %v", e.Dialect, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s output: %s", e.Dialect, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CoordinateError reports a coordinate that cannot be resolved or validated:
// missing resize metadata, NaN, or a position outside the usable screen.
type CoordinateError struct {
	Reason string
}

func (e *CoordinateError) Error() string { return "invalid coordinate: " + e.Reason }

// ExecutionError reports a primitive the sandbox rejected or failed to run.
type ExecutionError struct {
	Action ActionKind
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// InferenceError reports a failed or timed-out inference call. It is fatal to
// the run.
type InferenceError struct {
	Timeout bool
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("inference timed out: %v", e.Err)
	}
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// RecoveryError reports a recovery planner failure. It never leaves the
// recovery controller.
type RecoveryError struct {
	Reason string
	Err    error
}

func (e *RecoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recovery planner: %s: %v", e.Reason, e.Err)
	}
	return "recovery planner: " + e.Reason
}

func (e *RecoveryError) Unwrap() error { return e.Err }
