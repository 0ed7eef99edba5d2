// File: cmd/batch.go
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/observability"
	"github.com/xkilldash9x/deskpilot/internal/orchestrator"
)

func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch [objective...]",
		Short: "Run many objectives concurrently across sandbox sessions",
		Long: `Runs every objective as its own run. Objectives come from the arguments or,
with --file, one per line (blank lines and lines starting with # are skipped).
Each URL in batch.server_urls is one computer-server session; the browser
sandbox starts batch.sessions browsers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyAgentFlags(cmd, cfg); err != nil {
				return err
			}

			objectives := args
			if file, _ := cmd.Flags().GetString("file"); file != "" {
				fromFile, err := readObjectivesFile(file)
				if err != nil {
					return err
				}
				objectives = append(objectives, fromFile...)
			}
			if len(objectives) == 0 {
				return fmt.Errorf("no objectives given")
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

			var sessions []orchestrator.Session
			for i, sbCfg := range sessionConfigs(cfg) {
				sb, err := st.openSandbox(ctx, sbCfg)
				if err != nil {
					return fmt.Errorf("session %d: %w", i+1, err)
				}
				sessions = append(sessions, st.session(fmt.Sprintf("session-%d", i+1), sb))
			}

			runner, err := orchestrator.NewBatchRunner(st.settings, st.shared(), sessions, logger)
			if err != nil {
				return err
			}
			sums, err := runner.Run(ctx, objectives)
			out := cmd.OutOrStdout()
			for i, sum := range sums {
				fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(sums), objectives[i])
				printSummary(out, sum)
			}
			return err
		},
	}
	addAgentFlags(batchCmd)
	batchCmd.Flags().StringP("file", "f", "", "Read objectives from this file, one per line")
	return batchCmd
}

// sessionConfigs derives one sandbox config per batch session.
func sessionConfigs(cfg config.Interface) []config.SandboxConfig {
	base := cfg.Sandbox()
	b := cfg.Batch()

	if base.Type != config.SandboxBrowser && len(b.ServerURLs) > 0 {
		out := make([]config.SandboxConfig, 0, len(b.ServerURLs))
		for _, u := range b.ServerURLs {
			c := base
			c.ComputerServer.URL = u
			out = append(out, c)
		}
		return out
	}
	if base.Type == config.SandboxBrowser {
		out := make([]config.SandboxConfig, max(1, b.Sessions))
		for i := range out {
			out[i] = base
		}
		return out
	}
	// A single computer server cannot host concurrent runs.
	return []config.SandboxConfig{base}
}

// readObjectivesFile reads one objective per line.
func readObjectivesFile(path string) ([]string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open objectives file: %w", err)
	}
	defer f.Close()
	return parseObjectives(f)
}

func parseObjectives(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read objectives: %w", err)
	}
	return out, nil
}
