// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// GeminiClient implements schemas.InferenceClient for Google Gemini through
// the Gen AI SDK.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.LLMModelConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	backoffFactory func() backoff.BackOff
}

var _ schemas.InferenceClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. cfg.Endpoint overrides the API
// base URL. limiter may be nil.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini client requires a model name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.Endpoint, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		cfg:            cfg,
		limiter:        limiter,
		logger:         logger.Named("llm_client.gemini"),
		backoffFactory: defaultBackoff,
	}, nil
}

// Generate sends the materialized context and returns the reply text,
// retrying transient failures.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := convertContents(req.Messages)
	genCfg := c.buildConfig(req)
	var reply string

	operation := func() error {
		if err := waitLimiter(ctx, c.limiter); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, genCfg)
		if err != nil {
			return c.handleAPIError(ctx, err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			reason := string(candidate.FinishReason)
			if reason == "SAFETY" || reason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", reason)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount))
		}
		c.logger.Debug("LLM generation complete (Gemini)", fields...)

		reply = resp.Text()
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", asInferenceError(ctx, err)
	}
	return reply, nil
}

// Close is a no-op; the SDK client holds no resources beyond its HTTP client.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:   &temperature,
		StopSequences: req.Options.Stop,
	}

	topP := float32(req.Options.TopP)
	if topP == 0 {
		topP = c.cfg.TopP
	}
	if topP > 0 {
		genCfg.TopP = &topP
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(min(maxTokens, math.MaxInt32))
	}

	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	return genCfg
}

// convertContents maps messages onto Gemini contents. System messages are
// folded into user turns; images travel as inline PNG parts ahead of text.
func convertContents(messages []schemas.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if m.Role == schemas.RoleAssistant {
			content.Role = genai.RoleModel
		}
		for _, img := range m.Images {
			content.Parts = append(content.Parts, &genai.Part{
				InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType},
			})
		}
		if m.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Text})
		}
		out = append(out, content)
	}
	return out
}

func (c *GeminiClient) handleAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}

	status, ok := apiStatus(err)
	if !ok {
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return err
	}
	c.logger.Error("Gemini API returned error status", zap.Int("status", status), zap.Error(err))
	if transientStatus(status) {
		return err
	}
	return backoff.Permanent(err)
}

// apiStatus extracts the HTTP status of a Gen AI SDK error, whichever way
// the SDK returned it.
func apiStatus(err error) (int, bool) {
	var byValue genai.APIError
	if errors.As(err, &byValue) {
		return byValue.Code, true
	}
	var byPtr *genai.APIError
	if errors.As(err, &byPtr) {
		return byPtr.Code, true
	}
	return 0, false
}
