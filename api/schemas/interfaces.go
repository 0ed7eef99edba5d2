package schemas

import (
	"context"
)

// -- Inference Capability --

// MessageRole identifies the speaker of a context message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Image is an encoded image attached to a message.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// Message is one entry of a materialized conversational context.
type Message struct {
	Role   MessageRole `json:"role"`
	Text   string      `json:"text"`
	Images []Image     `json:"images,omitempty"` // Placed before Text when rendered.
}

// GenerationOptions tunes sampling for a single request. Zero values defer to
// the client configuration.
type GenerationOptions struct {
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	MaxTokens        int      `json:"max_tokens"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	Stop             []string `json:"stop,omitempty"`
}

// GenerationRequest is a complete, materialized context for one inference call.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	Messages     []Message         `json:"messages"`
	Options      GenerationOptions `json:"options"`
}

// InferenceClient is the vision-language model capability. Implementations
// fail with *InferenceError on timeout or backend fault.
type InferenceClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Sandbox Capabilities --

// Capturer produces the current frame together with its resize metadata.
type Capturer interface {
	Capture(ctx context.Context) (*Frame, error)
}

// Executor runs exactly one primitive action against the sandboxed session.
// target is the true screen resolution normalized coordinates map onto.
// Failures are reported as *ExecutionError.
type Executor interface {
	Execute(ctx context.Context, action Action, target Resolution) error
}

// Screenshotter returns a raw, full resolution PNG of the sandboxed display.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Sandbox is a session that can both be observed and driven.
type Sandbox interface {
	Screenshotter
	Executor
	Close() error
}

// -- Recovery Planner Capability --

// RecoveryRequest is everything the external planner sees when the guard
// cannot break a loop on its own.
type RecoveryRequest struct {
	Objective  string `json:"objective"`
	Frame      *Frame `json:"-"`
	History    string `json:"history"`    // Condensed action/observation history.
	Diagnostic string `json:"diagnostic"` // Why the guard escalated.
}

// RecoveryPlanner proposes a single action that should break a detected loop.
// The returned action carries resolved, normalized coordinates. Failures are
// reported as *RecoveryError.
type RecoveryPlanner interface {
	Recover(ctx context.Context, req RecoveryRequest) (Action, error)
}

// TaskPlanner decomposes a high level objective into ordered sub-objectives.
type TaskPlanner interface {
	Plan(ctx context.Context, objective string) ([]string, error)
}

// -- Outputs --

// StepExporter receives the ordered step records of runs for flat export.
type StepExporter interface {
	ExportStep(ctx context.Context, rec StepRecord) error
	ExportSummary(ctx context.Context, sum RunSummary) error
	Close() error
}
