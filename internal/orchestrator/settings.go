package orchestrator

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/guard"
	"github.com/xkilldash9x/deskpilot/internal/history"
	"github.com/xkilldash9x/deskpilot/internal/parser"
)

// Settings is the immutable per-run configuration. It is built once from the
// application config and passed by value; components never read globals.
type Settings struct {
	Dialect parser.Dialect
	Parser  parser.Options
	Guard   guard.Config

	// RetainImages is how many recent turns keep their screenshot.
	RetainImages int

	InferenceTimeout time.Duration
	// ExecutionTimeout bounds each primitive; a Wait adds its own duration.
	ExecutionTimeout time.Duration
	// RetryInterval is the initial backoff before the single execution retry.
	RetryInterval time.Duration
	PlannerTimeout time.Duration
	EscalationBudget int

	ChangeThreshold float64
	SettleDelay     time.Duration
	// CaptureDelay is slept before every capture so the screen can settle.
	CaptureDelay time.Duration
	// ParseFailureWait is the Wait substituted for unparseable output.
	ParseFailureWait time.Duration

	Generation schemas.GenerationOptions

	// PreviewDir, when set, receives a marked-up screenshot for every click.
	PreviewDir string
}

// DefaultSettings returns settings with the stock thresholds.
func DefaultSettings() Settings {
	return Settings{
		Dialect:          parser.DialectFara,
		Guard:            guard.DefaultConfig(),
		RetainImages:     history.DefaultRetainImages,
		InferenceTimeout: 120 * time.Second,
		ExecutionTimeout: 30 * time.Second,
		RetryInterval:    500 * time.Millisecond,
		PlannerTimeout:   60 * time.Second,
		EscalationBudget: 2,
		ChangeThreshold:  guard.DefaultChangeThreshold,
		CaptureDelay:     time.Second,
		ParseFailureWait: time.Second,
		Generation: schemas.GenerationOptions{
			Temperature: 0,
			MaxTokens:   1024,
		},
	}
}

// Validate checks the settings for a run.
func (s Settings) Validate() error {
	if err := s.Guard.Validate(); err != nil {
		return err
	}
	if s.InferenceTimeout <= 0 || s.ExecutionTimeout <= 0 {
		return fmt.Errorf("orchestrator: inference and execution timeouts must be positive")
	}
	if s.RetainImages < 0 || s.EscalationBudget < 0 {
		return fmt.Errorf("orchestrator: retain_images and escalation budget cannot be negative")
	}
	if s.CaptureDelay < 0 || s.SettleDelay < 0 || s.ParseFailureWait < 0 {
		return fmt.Errorf("orchestrator: delays cannot be negative")
	}
	return nil
}
