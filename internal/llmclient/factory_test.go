package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

func TestNewInferenceClient(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("openai by default", func(t *testing.T) {
		c, err := NewInferenceClient(ctx, config.LLMModelConfig{Model: "fara-7b"}, nil, logger)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, c)
	})

	t.Run("gemini", func(t *testing.T) {
		c, err := NewInferenceClient(ctx, config.LLMModelConfig{
			Provider: config.ProviderGemini,
			Model:    "gemini-2.5-flash",
			APIKey:   "k",
			Endpoint: "http://127.0.0.1:1",
		}, nil, logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, c)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewInferenceClient(ctx, config.LLMModelConfig{Provider: "anthropic", Model: "m"}, nil, logger)
		assert.ErrorContains(t, err, "unsupported LLM provider")
	})
}
