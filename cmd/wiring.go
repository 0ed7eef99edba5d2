// File: cmd/wiring.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/export"
	"github.com/xkilldash9x/deskpilot/internal/guard"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/orchestrator"
	"github.com/xkilldash9x/deskpilot/internal/parser"
	"github.com/xkilldash9x/deskpilot/internal/sandbox"
	"github.com/xkilldash9x/deskpilot/internal/vision"
)

// Seams for tests.
var (
	newSandbox         = sandbox.New
	newInferenceClient = llmclient.NewInferenceClient
	newExporter        = export.New
)

// buildSettings maps the application config onto the per-run settings.
func buildSettings(cfg config.Interface) orchestrator.Settings {
	a := cfg.Agent()
	inf := cfg.Inference()

	s := orchestrator.DefaultSettings()
	s.Dialect = parser.Dialect(strings.ToLower(a.Dialect))
	s.Parser = parser.Options{
		ImageMinTokens:    a.ImageMinTokens,
		ImageMaxTokens:    a.ImageMaxTokens,
		NativeCoordinates: a.NativeCoordinates,
	}
	s.Guard = guard.Config{
		RepeatThreshold:    a.Guard.RepeatThreshold,
		RepeatCeiling:      a.Guard.RepeatCeiling,
		UnchangedThreshold: a.Guard.UnchangedThreshold,
		MaxSteps:           a.MaxSteps,
		CoordinateGrid:     a.Guard.CoordinateGrid,
		MinMargin:          a.Guard.EdgeMargin,
	}
	s.RetainImages = a.RetainImages
	s.InferenceTimeout = a.Timeouts.Inference
	s.ExecutionTimeout = a.Timeouts.Execution
	if a.Timeouts.Planner > 0 {
		s.PlannerTimeout = a.Timeouts.Planner
	}
	s.RetryInterval = a.RetryInterval
	s.ChangeThreshold = a.Guard.ChangeThreshold
	s.SettleDelay = a.Guard.SettleDelay
	s.CaptureDelay = a.CaptureDelay
	s.ParseFailureWait = a.ParseFailureWait
	s.PreviewDir = a.PreviewDir

	if p := cfg.Planner(); p.Enabled {
		s.EscalationBudget = p.EscalationBudget
	} else {
		s.EscalationBudget = 0
	}

	s.Generation.Temperature = float64(inf.Temperature)
	s.Generation.TopP = float64(inf.TopP)
	if inf.MaxTokens > 0 {
		s.Generation.MaxTokens = inf.MaxTokens
	}
	return s
}

// stack holds the components shared by every run of one command invocation.
type stack struct {
	settings  orchestrator.Settings
	maxDim    int
	inference schemas.InferenceClient
	planner   *llmclient.Planner
	exporter  schemas.StepExporter
	logger    *zap.Logger

	closers []io.Closer
}

// buildStack creates the inference client, the optional planner and the
// exporters. Sandboxes are opened separately because batches need several.
func buildStack(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*stack, error) {
	st := &stack{
		settings: buildSettings(cfg),
		maxDim:   cfg.Agent().MaxImageDim,
		logger:   logger,
	}
	if err := st.settings.Validate(); err != nil {
		return nil, err
	}
	if _, err := parser.New(st.settings.Dialect, st.settings.Parser); err != nil {
		return nil, err
	}

	inf := cfg.Inference()
	client, err := newInferenceClient(ctx, inf, llmclient.NewLimiter(inf), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}
	st.inference = client
	st.closers = append(st.closers, client)

	if p := cfg.Planner(); p.Enabled {
		pc, err := newInferenceClient(ctx, p.LLM, llmclient.NewLimiter(p.LLM), logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create planner client: %w", err)
		}
		st.closers = append(st.closers, pc)
		if st.planner, err = llmclient.NewPlanner(pc, parser.Options{}, logger); err != nil {
			st.Close()
			return nil, err
		}
	}

	exp, err := newExporter(ctx, cfg.Export(), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	if exp != nil {
		st.exporter = exp
		st.closers = append(st.closers, exp)
	}
	return st, nil
}

// shared returns the dependencies without a session attached.
func (st *stack) shared() orchestrator.Dependencies {
	deps := orchestrator.Dependencies{
		Inference: st.inference,
		Exporter:  st.exporter,
	}
	if st.planner != nil {
		deps.Planner = st.planner
	}
	return deps
}

// openSandbox starts a session and registers it for Close.
func (st *stack) openSandbox(ctx context.Context, cfg config.SandboxConfig) (schemas.Sandbox, error) {
	sb, err := newSandbox(ctx, cfg, st.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox: %w", err)
	}
	st.closers = append(st.closers, sb)
	return sb, nil
}

// session binds a sandbox to a capturer.
func (st *stack) session(name string, sb schemas.Sandbox) orchestrator.Session {
	return orchestrator.Session{
		Name:     name,
		Capturer: vision.NewCapturer(sb, st.maxDim),
		Executor: sb,
	}
}

// newOrchestrator builds a single-session orchestrator around sb.
func (st *stack) newOrchestrator(sb schemas.Sandbox) (*orchestrator.Orchestrator, error) {
	sess := st.session("default", sb)
	deps := st.shared()
	deps.Capturer = sess.Capturer
	deps.Executor = sess.Executor
	return orchestrator.New(st.settings, deps, st.logger)
}

// Close releases everything in reverse order of creation.
func (st *stack) Close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	st.closers = nil
	return errors.Join(errs...)
}

// addAgentFlags registers the overrides shared by the run, plan and batch commands.
func addAgentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("dialect", "", "Model output dialect (fara or uitars)")
	f.Int("max-steps", 0, "Maximum number of steps per run")
	f.String("sandbox", "", "Sandbox type (computer_server or browser)")
	f.String("server-url", "", "Base URL of the computer server")
	f.StringP("export", "o", "", "Append step records to this JSONL file (.br compresses)")
	f.String("preview-dir", "", "Write a marked-up screenshot for every pointer action to this directory")
	f.Bool("headful", false, "Show the browser window (browser sandbox only)")
}

// applyAgentFlags copies explicitly set flags onto cfg and revalidates it.
func applyAgentFlags(cmd *cobra.Command, cfg config.Interface) error {
	f := cmd.Flags()
	if f.Changed("dialect") {
		v, _ := f.GetString("dialect")
		cfg.SetAgentDialect(v)
	}
	if f.Changed("max-steps") {
		v, _ := f.GetInt("max-steps")
		cfg.SetAgentMaxSteps(v)
	}
	if f.Changed("sandbox") {
		v, _ := f.GetString("sandbox")
		cfg.SetSandboxType(config.SandboxType(v))
	}
	if f.Changed("server-url") {
		v, _ := f.GetString("server-url")
		cfg.SetComputerServerURL(v)
	}
	if f.Changed("export") {
		v, _ := f.GetString("export")
		cfg.SetExportJSONLPath(v)
	}
	if f.Changed("preview-dir") {
		v, _ := f.GetString("preview-dir")
		cfg.SetAgentPreviewDir(v)
	}
	if f.Changed("headful") {
		v, _ := f.GetBool("headful")
		cfg.SetBrowserHeadless(!v)
	}

	if c, ok := cfg.(*config.Config); ok {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// printSummary writes a one-line human summary of a run.
func printSummary(w io.Writer, sum schemas.RunSummary) {
	fmt.Fprintf(w, "Run %s: %s after %d steps (%d escalations) in %s\n",
		sum.RunID, sum.StopReason, sum.StepCount, sum.EscalationCount, sum.Duration.Round(time.Millisecond))
	if sum.Err != "" {
		fmt.Fprintf(w, "  error: %s\n", sum.Err)
	}
}
