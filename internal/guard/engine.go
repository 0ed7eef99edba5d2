// File: internal/guard/engine.go
package guard

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/action"
	"github.com/xkilldash9x/deskpilot/internal/coords"
)

// Config holds the guard thresholds for one run.
type Config struct {
	// RepeatThreshold (K) identical consecutive signatures enter NUDGE.
	RepeatThreshold int
	// RepeatCeiling is the hard stop; more consecutive repeats than this end the run.
	RepeatCeiling int
	// UnchangedThreshold (M) consecutive no-effect pointer actions enter NUDGE.
	UnchangedThreshold int
	MaxSteps           int
	CoordinateGrid     float64
	MinMargin          float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		RepeatThreshold:    3,
		RepeatCeiling:      6,
		UnchangedThreshold: 3,
		MaxSteps:           100,
		CoordinateGrid:     0.01,
		MinMargin:          0.005,
	}
}

// Validate checks the thresholds are consistent.
func (c Config) Validate() error {
	if c.RepeatThreshold < 1 {
		return fmt.Errorf("guard: repeat threshold must be at least 1, got %d", c.RepeatThreshold)
	}
	if c.RepeatCeiling <= c.RepeatThreshold {
		return fmt.Errorf("guard: repeat ceiling (%d) must exceed the repeat threshold (%d)", c.RepeatCeiling, c.RepeatThreshold)
	}
	if c.UnchangedThreshold < 1 {
		return fmt.Errorf("guard: unchanged threshold must be at least 1, got %d", c.UnchangedThreshold)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("guard: max steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.CoordinateGrid < 0 || c.MinMargin < 0 || c.MinMargin >= 0.5 {
		return fmt.Errorf("guard: invalid grid (%g) or margin (%g)", c.CoordinateGrid, c.MinMargin)
	}
	return nil
}

// Observation is what the guard learns about one completed step.
type Observation struct {
	// Action is the logical, pre-expansion action.
	Action schemas.Action
	// Rejected marks an action whose coordinate failed validation and was
	// not executed.
	Rejected       bool
	Classification schemas.Classification
}

// Decision is the guard's verdict after a step.
type Decision struct {
	State      schemas.GuardState
	Signature  string
	StopReason schemas.StopReason // Set only when State is STOP.
	// EnteredNudge is true on the step that moved the guard into NUDGE.
	EnteredNudge bool
	Repeats      int
	Unchanged    int
}

// Snapshot is the guard's internal counters, for diagnostics.
type Snapshot struct {
	State         schemas.GuardState
	LastSignature string
	Repeats       int
	Unchanged     int
	Steps         int
}

// Engine is the loop-detection state machine. One engine belongs to one run
// and is not safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	state      schemas.GuardState
	stopReason schemas.StopReason
	lastSig    string
	nudgeSig   string
	repeats    int
	unchanged  int
	steps      int
}

// New creates an engine in RUNNING.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger.Named("guard"), state: schemas.GuardRunning}
}

// ValidateCoordinate is the pre-execution check for a resolved coordinate.
func (e *Engine) ValidateCoordinate(c schemas.Coordinate) error {
	return coords.Validate(c, e.cfg.MinMargin)
}

// Signature computes the repeat-detection signature of a logical action.
// Rejected actions get the degenerate signature of their kind.
func (e *Engine) Signature(a schemas.Action, rejected bool) string {
	if rejected {
		return action.InvalidSignature(a.Kind)
	}
	return action.Signature(a, e.cfg.CoordinateGrid)
}

// Observe feeds one completed step into the state machine. Once STOP has been
// reached further observations are ignored.
func (e *Engine) Observe(o Observation) Decision {
	sig := e.Signature(o.Action, o.Rejected)
	if e.state == schemas.GuardStop {
		return e.decision(sig, false)
	}
	e.steps++

	if o.Action.Kind == schemas.ActionTerminate && !o.Rejected {
		e.stop(schemas.StopTerminate)
		return e.decision(sig, false)
	}

	if sig == e.lastSig {
		e.repeats++
	} else {
		e.repeats = 1
	}
	e.lastSig = sig

	if o.Classification == schemas.ClassUnchanged {
		e.unchanged++
	} else {
		e.unchanged = 0
	}

	if e.repeats > e.cfg.RepeatCeiling {
		e.stop(schemas.StopRepeatCeiling)
		return e.decision(sig, false)
	}

	if e.state == schemas.GuardNudge && sig != e.nudgeSig {
		e.logger.Info("Loop broken, resuming.", zap.String("signature", sig), zap.String("was", e.nudgeSig))
		e.state = schemas.GuardRunning
		e.nudgeSig = ""
		e.unchanged = 0
	}

	entered := false
	if e.state == schemas.GuardRunning && (e.repeats >= e.cfg.RepeatThreshold || e.unchanged >= e.cfg.UnchangedThreshold) {
		e.state = schemas.GuardNudge
		e.nudgeSig = sig
		entered = true
		e.logger.Warn("Loop detected.",
			zap.String("signature", sig),
			zap.Int("repeats", e.repeats),
			zap.Int("unchanged", e.unchanged))
	}

	if e.steps >= e.cfg.MaxSteps {
		e.stop(schemas.StopMaxSteps)
	}
	return e.decision(sig, entered)
}

func (e *Engine) stop(reason schemas.StopReason) {
	e.state = schemas.GuardStop
	e.stopReason = reason
	e.logger.Info("Guard stopped the run.", zap.String("reason", string(reason)), zap.Int("steps", e.steps))
}

func (e *Engine) decision(sig string, entered bool) Decision {
	d := Decision{
		State:        e.state,
		Signature:    sig,
		EnteredNudge: entered,
		Repeats:      e.repeats,
		Unchanged:    e.unchanged,
	}
	if e.state == schemas.GuardStop {
		d.StopReason = e.stopReason
	}
	return d
}

// State is the current guard state.
func (e *Engine) State() schemas.GuardState { return e.state }

// Steps is the number of observed steps.
func (e *Engine) Steps() int { return e.steps }

// Snapshot returns the engine counters.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{State: e.state, LastSignature: e.lastSig, Repeats: e.repeats, Unchanged: e.unchanged, Steps: e.steps}
}

// Diagnostic describes why the guard is in NUDGE, for the recovery planner.
func (e *Engine) Diagnostic() string {
	if e.state != schemas.GuardNudge {
		return ""
	}
	if e.unchanged >= e.cfg.UnchangedThreshold {
		return fmt.Sprintf("%d consecutive pointer actions had no visible effect; last was %s", e.unchanged, e.nudgeSig)
	}
	return fmt.Sprintf("action %s repeated %d times in a row", e.nudgeSig, e.repeats)
}

// NudgeMessage is the textual steer injected into the next observation while
// in NUDGE. It is empty in any other state.
func (e *Engine) NudgeMessage() string {
	if e.state != schemas.GuardNudge {
		return ""
	}
	return fmt.Sprintf("You are stuck in a loop (%s). You MUST try a COMPLETELY DIFFERENT approach. "+
		"Do NOT repeat that action. Consider:\n"+
		"- Pressing ctrl+l to focus the address bar, then typing a URL\n"+
		"- Pressing ctrl+t to open a new tab\n"+
		"- Scrolling to find different elements\n"+
		"- Clicking a DIFFERENT part of the screen", e.Diagnostic())
}
