package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel      = "gemini-2.5-flash"
	DefaultGeminiKeySetting = "GEMINI_API_KEY"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	KeySetting  string
	Logger      *zap.Logger
}

// GeminiClient implements Completer on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	log    *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.KeySetting == "" {
		cfg.KeySetting = DefaultGeminiKeySetting
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Setting: cfg.KeySetting}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiClient{client: client, cfg: cfg, log: log}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			// reasoning toggles for other providers mean nothing here
			if strings.TrimSpace(m.Content) != DefaultSystemPrompt {
				system = append(system, m.Content)
			}
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	gcfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(c.cfg.Temperature)),
		TopP:             genai.Ptr(float32(c.cfg.TopP)),
		MaxOutputTokens:  int32(c.cfg.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	if len(system) > 0 {
		gcfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, gcfg)
	if err != nil {
		return "", c.classify(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &ParseError{Reason: "no content received"}
	}
	c.log.Debug("gemini completion returned", zap.String("model", c.cfg.Model), zap.Int("length", len(text)))
	return text, nil
}

func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return &NetworkError{Op: "gemini generate content", Err: err}
		}
		apiErr = *ptr
	}
	if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
		return &AuthError{Status: apiErr.Code, Setting: c.cfg.KeySetting}
	}
	return &UpstreamError{Status: apiErr.Code, Message: apiErr.Message}
}
