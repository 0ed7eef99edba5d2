// File: cmd/plan.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan [objective]",
		Short: "Decompose an objective with the planner model and run each step",
		Long: `Asks the planner model to split a high-level objective into short steps and
runs every step as its own run. Requires planner.enabled. With --dry-run the
plan is printed and nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyAgentFlags(cmd, cfg); err != nil {
				return err
			}
			if !cfg.Planner().Enabled {
				return fmt.Errorf("the plan command requires planner.enabled")
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			logger := observability.GetLogger()

			st, err := buildStack(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := st.Close(); cerr != nil {
					logger.Warn("Error during shutdown.", zap.Error(cerr))
				}
			}()

			out := cmd.OutOrStdout()
			if dryRun {
				steps, err := st.planner.Plan(ctx, args[0])
				if err != nil {
					return err
				}
				for i, s := range steps {
					ps := llmclient.ParsePlanStep(s)
					fmt.Fprintf(out, "%2d. %-12s %s\n", i+1, ps.Verb, ps.Target)
				}
				return nil
			}

			sb, err := st.openSandbox(ctx, cfg.Sandbox())
			if err != nil {
				return err
			}
			orch, err := st.newOrchestrator(sb)
			if err != nil {
				return err
			}

			res, err := orch.RunPlan(ctx, st.planner, args[0])
			for i, sum := range res.Runs {
				fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(res.Steps), res.Steps[i])
				printSummary(out, sum)
			}
			return err
		},
	}
	addAgentFlags(planCmd)
	planCmd.Flags().Bool("dry-run", false, "Print the plan without executing it")
	return planCmd
}
