// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/vision"
)

// DefaultOpenAIEndpoint is a local llama.cpp or vLLM server.
const DefaultOpenAIEndpoint = "http://127.0.0.1:8080/v1"

// OpenAIClient implements schemas.InferenceClient against any
// OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client  *openai.Client
	cfg     config.LLMModelConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	backoffFactory func() backoff.BackOff
}

var _ schemas.InferenceClient = (*OpenAIClient)(nil)

// NewOpenAIClient initializes the client. limiter may be nil.
func NewOpenAIClient(cfg config.LLMModelConfig, limiter *rate.Limiter, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai client requires a model name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = DefaultOpenAIEndpoint
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		cfg:            cfg,
		limiter:        limiter,
		logger:         logger.Named("llm_client.openai"),
		backoffFactory: defaultBackoff,
	}, nil
}

// Generate sends the materialized context and returns the reply text,
// retrying transient failures.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	chatReq := c.buildRequest(req)
	var reply string

	operation := func() error {
		if err := waitLimiter(ctx, c.limiter); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return c.handleAPIError(ctx, err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai API returned no choices"))
		}

		c.logger.Debug("LLM generation complete (OpenAI)",
			zap.Duration("duration", time.Since(start)),
			zap.String("model", resp.Model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		)
		reply = resp.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", asInferenceError(ctx, err)
	}
	return reply, nil
}

// Close releases nothing; the HTTP client is shared with the process.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) buildRequest(req schemas.GenerationRequest) openai.ChatCompletionRequest {
	opts := req.Options
	chatReq := openai.ChatCompletionRequest{
		Model:            c.cfg.Model,
		Messages:         convertMessages(req),
		Temperature:      float32(opts.Temperature),
		TopP:             float32(opts.TopP),
		MaxTokens:        opts.MaxTokens,
		FrequencyPenalty: float32(opts.FrequencyPenalty),
		Stop:             opts.Stop,
	}
	if chatReq.Temperature == 0 {
		chatReq.Temperature = c.cfg.Temperature
	}
	if chatReq.TopP == 0 {
		chatReq.TopP = c.cfg.TopP
	}
	if chatReq.MaxTokens == 0 {
		chatReq.MaxTokens = c.cfg.MaxTokens
	}
	return chatReq
}

// convertMessages renders the context as chat messages. Images become
// inline data URIs placed before the text of their message.
func convertMessages(req schemas.GenerationRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case schemas.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case schemas.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}

		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    vision.DataURI(img.MIMEType, img.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
		if m.Text != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Text})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

func (c *OpenAIClient) handleAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return err
	}

	c.logger.Error("OpenAI API returned error status", zap.Int("status", status), zap.Error(err))
	if transientStatus(status) {
		return err
	}
	return backoff.Permanent(err)
}
