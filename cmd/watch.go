// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskpilot/internal/export"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Print the step records of a JSONL export as they are written",
		Long: `Tails a JSONL export and prints one line per step and per run summary. The
file defaults to export.jsonl.path. Compressed (.br) exports cannot be
followed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.Export().JSONL.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no export file given and export.jsonl.path is not set")
			}

			follow, _ := cmd.Flags().GetBool("follow")
			fromStart, _ := cmd.Flags().GetBool("from-start")
			logger := observability.GetLogger()
			out := cmd.OutOrStdout()

			err = export.Follow(cmd.Context(), path, export.FollowOptions{Follow: follow, FromStart: fromStart}, logger,
				func(l export.Line) error {
					if l.Step != nil {
						logger.Debug("Step record.", observability.StepFields(*l.Step)...)
					}
					printLine(out, l)
					return nil
				})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	watchCmd.Flags().BoolP("follow", "F", true, "Keep reading as the file grows")
	watchCmd.Flags().Bool("from-start", true, "Replay existing records first")
	return watchCmd
}

func printLine(w io.Writer, l export.Line) {
	switch {
	case l.Step != nil:
		s := l.Step
		fmt.Fprintf(w, "%s #%d %-8s %-9s %s", s.RunID, s.StepIndex, s.GuardState, s.Classification, s.Action.Describe())
		if s.Escalated {
			fmt.Fprint(w, " [escalated]")
		}
		if s.Diagnostic != "" {
			fmt.Fprintf(w, " (%s)", s.Diagnostic)
		}
		fmt.Fprintln(w)
	case l.Summary != nil:
		printSummary(w, *l.Summary)
	}
}
