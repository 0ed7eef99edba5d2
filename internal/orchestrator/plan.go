package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// PlanResult collects the runs of a decomposed objective.
type PlanResult struct {
	Objective string
	Steps     []string
	Runs      []schemas.RunSummary
}

// RunPlan decomposes objective with planner and runs every sub-objective as
// its own run, each with a fresh history and guard. A failed sub-run is
// logged and the plan continues; cancellation ends the plan.
func (o *Orchestrator) RunPlan(ctx context.Context, planner schemas.TaskPlanner, objective string) (PlanResult, error) {
	res := PlanResult{Objective: objective}
	if planner == nil {
		return res, fmt.Errorf("no task planner configured")
	}

	steps, err := planner.Plan(ctx, objective)
	if err != nil {
		return res, fmt.Errorf("plan objective: %w", err)
	}
	if len(steps) == 0 {
		steps = []string{objective}
	}
	res.Steps = steps
	o.logger.Info("Executing plan.", zap.String("objective", objective), zap.Int("steps", len(steps)))

	for i, sub := range steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.logger.Info("Plan step.", zap.Int("index", i+1), zap.Int("of", len(steps)), zap.String("objective", sub))

		sum, err := o.Run(ctx, sub)
		res.Runs = append(res.Runs, sum)
		if sum.StopReason == schemas.StopCancelled {
			return res, err
		}
		if err != nil {
			o.logger.Warn("Plan step failed, continuing with the next one.",
				zap.Int("index", i+1),
				zap.String("stop_reason", string(sum.StopReason)),
				zap.Error(err))
		}
	}
	return res, nil
}
