// api/schemas/records.go
package schemas

import "time"

// GuardState is the Guard Engine's liveness state.
type GuardState string

const (
	GuardRunning GuardState = "RUNNING" // Normal operation.
	GuardNudge   GuardState = "NUDGE"   // A loop was detected; the next step is steered away from it.
	GuardStop    GuardState = "STOP"    // Terminal. The run ends after this step.
)

// Classification is the perceived effect of an executed action.
type Classification string

const (
	ClassChanged   Classification = "changed"   // The screen visibly changed.
	ClassUnchanged Classification = "unchanged" // A pointer action produced no visible change.
	ClassUnknown   Classification = "unknown"   // Not measured (keyboard-class or non-pointer action).
)

// StopReason explains why a run ended. Values are stable strings because they
// are exported and asserted on by callers.
type StopReason string

const (
	StopTerminate        StopReason = "terminate"
	StopMaxSteps         StopReason = "max steps"
	StopRepeatCeiling    StopReason = "repeat ceiling"
	StopInferenceTimeout StopReason = "inference timeout"
	StopInferenceError   StopReason = "inference error"
	StopExecutionFailure StopReason = "execution failure"
	StopCaptureFailure   StopReason = "capture failure"
	StopCancelled        StopReason = "cancelled"
)

// Diagnostic flags attached to step records.
const (
	DiagParseFailure   = "parse_failure"      // Model output could not be parsed; a Wait was substituted.
	DiagInvalidCoord   = "invalid_coordinate" // Coordinate rejected pre-execution; the action was a no-op.
	DiagRecovered      = "recovery_action"    // Action came from the recovery planner, not inference.
	DiagRecoveryFailed = "recovery_failed"    // Planner failed; the textual nudge was used instead.
	DiagExecutionRetry = "execution_retried"  // A primitive failed once and succeeded on retry.
	DiagFactMemorized  = "fact_memorized"
)

// StepRecord is the per-step structured record emitted for display and audit.
type StepRecord struct {
	RunID          string         `json:"run_id"`
	StepIndex      int            `json:"step_index"`
	Action         Action         `json:"action"`
	Primitives     int            `json:"primitives"`
	Signature      string         `json:"signature"`
	GuardState     GuardState     `json:"guard_state"`
	Classification Classification `json:"classification"`
	Diagnostic     string         `json:"diagnostic,omitempty"`
	Thought        string         `json:"thought,omitempty"`
	Escalated      bool           `json:"escalated,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// RunSummary is produced once when a run ends.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Objective       string        `json:"objective"`
	StopReason      StopReason    `json:"stop_reason"`
	StepCount       int           `json:"step_count"`
	EscalationCount int           `json:"escalation_count"`
	Duration        time.Duration `json:"duration"`
	Err             string        `json:"error,omitempty"`
}
