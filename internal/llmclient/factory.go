// -- internal/llmclient/factory.go --
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// NewInferenceClient creates the InferenceClient for the configured provider.
// limiter may be nil; pass the same limiter to every client that shares an
// endpoint.
func NewInferenceClient(ctx context.Context, cfg config.LLMModelConfig, limiter *rate.Limiter, logger *zap.Logger) (schemas.InferenceClient, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(cfg, limiter, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, limiter, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderOpenAI, config.ProviderGemini)
	}
}
