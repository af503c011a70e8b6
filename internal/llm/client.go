// Package llm talks to hosted inference endpoints. It knows nothing about
// plans or reports; callers hand it messages and get back the reply text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "https://integrate.api.nvidia.com/v1"
	DefaultModel      = "nvidia/nemotron-nano-12b-v2-vl"
	DefaultMaxTokens  = 4096
	DefaultKeySetting = "NEMOTRON_API_KEY"
	// DefaultSystemPrompt switches the default model into reasoning mode.
	DefaultSystemPrompt = "/think"

	maxResponseBytes = 8 << 20
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer returns the assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ChatConfig configures an OpenAI-compatible chat completions client.
type ChatConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
	// KeySetting names the credential in user-facing auth errors.
	KeySetting string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// DefaultChatConfig mirrors the reference deployment.
func DefaultChatConfig(apiKey string) ChatConfig {
	return ChatConfig{
		BaseURL:     DefaultBaseURL,
		APIKey:      apiKey,
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: 0.7,
		TopP:        1,
		Timeout:     2 * time.Minute,
		KeySetting:  DefaultKeySetting,
	}
}

type ChatClient struct {
	cfg    ChatConfig
	client *http.Client
	log    *zap.Logger
}

func NewChatClient(cfg ChatConfig) *ChatClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.KeySetting == "" {
		cfg.KeySetting = DefaultKeySetting
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatClient{cfg: cfg, client: client, log: log}
}

// Endpoint accepts either a base URL or a full chat completions URL.
func (c *ChatClient) Endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if strings.Contains(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
	Stream           bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", &ConfigurationError{Setting: c.cfg.KeySetting}
	}
	payload, err := json.Marshal(chatRequest{
		Model:            c.cfg.Model,
		Messages:         messages,
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		PresencePenalty:  c.cfg.PresencePenalty,
		Stream:           false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	endpoint := c.Endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "chat completion", Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", &NetworkError{Op: "read chat completion", Err: err}
	}
	c.log.Debug("chat completion returned",
		zap.String("endpoint", endpoint),
		zap.String("model", c.cfg.Model),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return "", &AuthError{Status: res.StatusCode, Setting: c.cfg.KeySetting}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &UpstreamError{Status: res.StatusCode, Message: upstreamMessage(body)}
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ParseError{Reason: "completion envelope is not valid JSON"}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", &ParseError{Reason: "no content received"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// upstreamMessage pulls error.message or message out of an error body.
func upstreamMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(env.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return env.Message
}
