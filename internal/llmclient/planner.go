// internal/llmclient/planner.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/parser"
)

const taskPlannerPrompt = `You are a computer use task planner. The user gives you a simple, high-level command about what they want to do on a Linux desktop. Break it down into a concise, step-by-step plan that another AI agent will execute.

RULES:
1. Output ONLY comma-separated steps. No extra explanation.
2. Each step starts with one of these verbs: click [target], double_click [target], right_click [target], type [text], press [key], hotkey [key1+key2], scroll [up/down], wait.
3. [target] describes a visible UI element, e.g. "address bar" or "search button".
4. Add "wait" after actions that trigger loading.
5. Do NOT add numbering, bullets, or newlines between steps. Use commas only.

EXAMPLE INPUT: Open YouTube
EXAMPLE OUTPUT: click browser icon on taskbar, wait, click address bar, type youtube.com, press enter, wait`

const recoveryPreamble = `You supervise a computer use agent that is stuck in a loop. Look at the current screenshot and the agent's recent history, then propose exactly ONE action that gets the agent moving toward its objective again. Do not repeat any action from the history that had no effect.

`

// Planner is a second model that decomposes objectives and proposes a
// single loop-breaking action. It always speaks the Fara tool-call grammar,
// whatever dialect the acting model uses.
type Planner struct {
	client schemas.InferenceClient
	parser parser.Parser
	logger *zap.Logger
	opts   schemas.GenerationOptions
}

var (
	_ schemas.RecoveryPlanner = (*Planner)(nil)
	_ schemas.TaskPlanner     = (*Planner)(nil)
)

// NewPlanner wraps client. opts tunes how the planner model's coordinate
// space is computed and should match how it was trained.
func NewPlanner(client schemas.InferenceClient, opts parser.Options, logger *zap.Logger) (*Planner, error) {
	if client == nil {
		return nil, fmt.Errorf("planner requires an inference client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := parser.New(parser.DialectFara, opts)
	if err != nil {
		return nil, err
	}
	return &Planner{
		client: client,
		parser: p,
		logger: logger.Named("planner"),
		opts:   schemas.GenerationOptions{MaxTokens: 1024},
	}, nil
}

// Recover asks the planner model for one action and resolves its
// coordinate against the frame it was shown.
func (p *Planner) Recover(ctx context.Context, req schemas.RecoveryRequest) (schemas.Action, error) {
	if req.Frame == nil {
		return schemas.Action{}, &schemas.RecoveryError{Reason: "no frame to plan against"}
	}
	meta := req.Frame.Meta
	meta.Model = p.parser.ModelSpace(meta.Image)

	var b strings.Builder
	b.WriteString(recoveryPreamble)
	fmt.Fprintf(&b, "OBJECTIVE: %s\n\nWHY THE AGENT IS STUCK: %s\n", req.Objective, req.Diagnostic)
	if req.History != "" {
		b.WriteString("\nRECENT HISTORY:\n")
		b.WriteString(req.History)
		b.WriteString("\n")
	}
	b.WriteString("\nReply with a single tool call.")

	reply, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: p.parser.SystemPrompt(meta.Model),
		Messages: []schemas.Message{{
			Role:   schemas.RoleUser,
			Text:   b.String(),
			Images: []schemas.Image{{Data: req.Frame.PNG, MIMEType: req.Frame.MIMEType()}},
		}},
		Options: p.opts,
	})
	if err != nil {
		return schemas.Action{}, &schemas.RecoveryError{Reason: "planner request failed", Err: err}
	}

	parsed, err := p.parser.Parse(reply)
	if err != nil {
		return schemas.Action{}, &schemas.RecoveryError{Reason: "planner reply could not be parsed", Err: err}
	}
	act := parsed.Action
	if parsed.Raw != nil {
		c, err := coords.Resolve(*parsed.Raw, meta)
		if err != nil {
			return schemas.Action{}, &schemas.RecoveryError{Reason: "planner coordinate could not be resolved", Err: err}
		}
		act.Coordinate = &c
	}

	p.logger.Info("Planner proposed a recovery action.",
		zap.String("action", act.Describe()),
		zap.String("thought", parsed.Thought))
	return act, nil
}

// Plan decomposes objective into ordered sub-objectives.
func (p *Planner) Plan(ctx context.Context, objective string) ([]string, error) {
	reply, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: taskPlannerPrompt,
		Messages:     []schemas.Message{{Role: schemas.RoleUser, Text: objective}},
		Options:      p.opts,
	})
	if err != nil {
		return nil, fmt.Errorf("planner request failed: %w", err)
	}
	steps := SplitPlan(reply)
	p.logger.Info("Generated plan.", zap.String("objective", objective), zap.Strings("steps", steps))
	return steps, nil
}

// SplitPlan parses a comma-separated plan, tolerating newlines.
func SplitPlan(raw string) []string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "\n", ",")
	var steps []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// PlanStep is one plan entry split into its verb and target, for display.
type PlanStep struct {
	Verb   string
	Target string
}

var planVerbs = []string{"double_click", "right_click", "click", "type", "press", "hotkey", "scroll", "wait"}

// ParsePlanStep splits a step such as "click address bar". Unknown verbs
// yield Verb "custom" with the whole step as Target.
func ParsePlanStep(step string) PlanStep {
	step = strings.ToLower(strings.TrimSpace(step))
	for _, verb := range planVerbs {
		if strings.HasPrefix(step, verb) {
			return PlanStep{Verb: verb, Target: strings.TrimSpace(step[len(verb):])}
		}
	}
	return PlanStep{Verb: "custom", Target: step}
}
