// File: internal/recovery/controller.go
package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

const DefaultTimeout = 60 * time.Second

// Options configures a Controller.
type Options struct {
	// Budget is the number of successful escalations allowed per run.
	Budget int
	// Timeout bounds each planner call.
	Timeout time.Duration
	// Validate, when set, vets the planner's action before it is accepted.
	Validate func(schemas.Action) error
}

// Controller hands stuck loops to an external planner. Planner failures never
// escape: the caller simply falls back to the textual nudge. One controller
// belongs to one run.
type Controller struct {
	planner schemas.RecoveryPlanner
	opts    Options
	logger  *zap.Logger

	remaining int
	attempts  int
	successes int
}

// NewController creates a controller. A nil planner disables escalation.
func NewController(planner schemas.RecoveryPlanner, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Controller{
		planner:   planner,
		opts:      opts,
		logger:    logger.Named("recovery"),
		remaining: max(0, opts.Budget),
	}
}

// Eligible reports whether an escalation may be attempted in the given guard state.
func (c *Controller) Eligible(state schemas.GuardState) bool {
	return state == schemas.GuardNudge && c.planner != nil && c.remaining > 0
}

// Escalate asks the planner for one loop-breaking action. ok is false when
// the controller is not eligible or the planner failed; the failure is logged
// and returned only for diagnostics. The budget shrinks by one on success only.
func (c *Controller) Escalate(ctx context.Context, state schemas.GuardState, req schemas.RecoveryRequest) (act schemas.Action, ok bool, err error) {
	if !c.Eligible(state) {
		return schemas.Action{}, false, nil
	}
	c.attempts++

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	act, err = c.planner.Recover(callCtx, req)
	if err == nil && c.opts.Validate != nil {
		if verr := c.opts.Validate(act); verr != nil {
			err = &schemas.RecoveryError{Reason: "planner returned an unusable action", Err: verr}
		}
	}
	if err != nil {
		err = asRecoveryError(callCtx, err)
		c.logger.Warn("Recovery planner failed, falling back to nudge.",
			zap.Error(err),
			zap.Int("attempt", c.attempts),
			zap.Int("budget_remaining", c.remaining))
		return schemas.Action{}, false, err
	}

	c.remaining--
	c.successes++
	c.logger.Info("Recovery planner proposed an action.",
		zap.String("action", act.Describe()),
		zap.Int("budget_remaining", c.remaining))
	return act, true, nil
}

func asRecoveryError(ctx context.Context, err error) error {
	var re *schemas.RecoveryError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &schemas.RecoveryError{Reason: "planner timed out", Err: err}
	}
	return &schemas.RecoveryError{Reason: "planner unavailable", Err: err}
}

// Remaining is the escalation budget left.
func (c *Controller) Remaining() int { return c.remaining }

// Escalations is the number of successful escalations.
func (c *Controller) Escalations() int { return c.successes }

// Attempts is the number of planner calls made.
func (c *Controller) Attempts() int { return c.attempts }
