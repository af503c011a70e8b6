package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nemora/internal/config"
	"nemora/internal/domain"
	"nemora/internal/llm"
)

func TestOpenWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	a, err := Open(ctx, t.TempDir(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Nil(t, a.Gateway.Completer)
	_, err = a.Engine.GeneratePlan(ctx, "u1", domain.ProductInput{Name: "n", Description: "d"})
	var ce *llm.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "NEMOTRON_API_KEY is not configured", ce.Error())
}

func TestNewCompleterPicksProvider(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.LLM.APIKey = "nvapi-test"
	c, err := NewCompleter(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	chat, ok := c.(*llm.ChatClient)
	require.True(t, ok)
	assert.Equal(t, config.DefaultLLMBaseURL+"/chat/completions", chat.Endpoint())

	cfg.LLM.Provider = config.ProviderGemini
	c, err = NewCompleter(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	_, ok = c.(*llm.GeminiClient)
	assert.True(t, ok)
}

func TestOpenIgnoresPlaceholderWebhook(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Slack.WebhookURL = "your-slack-webhook-url"
	a, err := Open(ctx, t.TempDir(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Empty(t, a.Notifier.WebhookURL)
}
