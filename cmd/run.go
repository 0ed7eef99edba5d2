// File: cmd/run.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/observability"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Drive the sandbox until an objective is done",
		Long: `Runs the observe/infer/act loop for a single objective against the configured
sandbox. The run ends when the model terminates, the step limit is reached,
the loop guard gives up, or a fatal error occurs.`,
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

			sb, err := st.openSandbox(ctx, cfg.Sandbox())
			if err != nil {
				return err
			}
			orch, err := st.newOrchestrator(sb)
			if err != nil {
				return err
			}

			sum, err := orch.Run(ctx, args[0])
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	addAgentFlags(runCmd)
	return runCmd
}
