// Package config loads nemora.yml and layers environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "nemora.yml"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultPort        = 5002
	DefaultLLMBaseURL  = "https://integrate.api.nvidia.com/v1"
	DefaultLLMModel    = "nvidia/nemotron-nano-12b-v2-vl"
	DefaultGeminiModel = "gemini-2.5-flash"

	placeholderPrefix = "YOUR_"
	slackHookPrefix   = "https://hooks.slack.com/"
)

// Config models nemora.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Slack    SlackConfig    `yaml:"slack"`
	Autosave AutosaveConfig `yaml:"autosave"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TopP           float64 `yaml:"top_p"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// KeySetting names the credential in user-facing messages.
	KeySetting string `yaml:"-"`
}

type SlackConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AutosaveConfig struct {
	QuietMillis int `yaml:"quiet_ms"`
}

type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	DevLogin        bool   `yaml:"dev_login"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: DefaultPort,
			CORSOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			},
		},
		LLM: LLMConfig{
			Provider:       ProviderOpenAI,
			BaseURL:        DefaultLLMBaseURL,
			Model:          DefaultLLMModel,
			MaxTokens:      4096,
			Temperature:    0.7,
			TopP:           1,
			TimeoutSeconds: 120,
			KeySetting:     "NEMOTRON_API_KEY",
		},
		Slack:    SlackConfig{TimeoutSeconds: 5},
		Autosave: AutosaveConfig{QuietMillis: 2000},
		Auth:     AuthConfig{TokenTTLMinutes: 12 * 60},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads the workspace config, falling back to defaults when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.Provider == ProviderGemini {
		cfg.LLM.KeySetting = "GEMINI_API_KEY"
		if cfg.LLM.Model == DefaultLLMModel {
			cfg.LLM.Model = DefaultGeminiModel
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault renders the default config as YAML for `config init`.
func GenerateDefault() (string, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Validate checks ranges and enumerations. Missing credentials are not an
// error here; Check reports them.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("config.llm.provider must be %q or %q", ProviderOpenAI, ProviderGemini)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be between 1 and 65535")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config.llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config.llm.temperature must be between 0 and 2")
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("config.llm.top_p must be between 0 and 1")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.llm.timeout_seconds must be positive")
	}
	if c.Autosave.QuietMillis < 100 {
		return fmt.Errorf("config.autosave.quiet_ms must be at least 100")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

func (c *Config) AutosaveQuiet() time.Duration {
	return time.Duration(c.Autosave.QuietMillis) * time.Millisecond
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) SlackTimeout() time.Duration {
	return time.Duration(c.Slack.TimeoutSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// envBindings maps config keys to the environment variables that may set
// them, most specific first.
var envBindings = map[string][]string{
	"server.port":       {"NEMORA_SERVER_PORT", "PORT"},
	"llm.provider":      {"NEMORA_LLM_PROVIDER"},
	"llm.base_url":      {"NEMORA_LLM_BASE_URL", "NEMOTRON_API_URL"},
	"llm.api_key":       {"NEMORA_LLM_API_KEY", "NEMOTRON_API_KEY"},
	"llm.model":         {"NEMORA_LLM_MODEL", "NEMOTRON_MODEL"},
	"gemini.api_key":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"slack.webhook_url": {"NEMORA_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
	"auth.jwt_secret":   {"NEMORA_JWT_SECRET"},
	"auth.dev_login":    {"NEMORA_DEV_LOGIN"},
	"database.path":     {"NEMORA_DATABASE_PATH"},
}

// BindEnv registers the environment variables Override reads.
func BindEnv(v *viper.Viper) {
	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// Override applies values viper resolved from flags or the environment.
func (c *Config) Override(v *viper.Viper) error {
	if s := v.GetString("llm.provider"); s != "" {
		c.LLM.Provider = strings.ToLower(s)
	}
	if s := v.GetString("llm.base_url"); s != "" {
		c.LLM.BaseURL = s
	}
	if s := v.GetString("llm.model"); s != "" {
		c.LLM.Model = s
	}
	if c.LLM.Provider == ProviderGemini {
		if c.LLM.Model == DefaultLLMModel {
			c.LLM.Model = DefaultGeminiModel
		}
		c.LLM.KeySetting = "GEMINI_API_KEY"
		if s := v.GetString("gemini.api_key"); s != "" {
			c.LLM.APIKey = s
		}
	}
	if s := v.GetString("llm.api_key"); s != "" {
		c.LLM.APIKey = s
	}
	if s := v.GetString("server.port"); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid port %q", s)
		}
		c.Server.Port = port
	}
	if s := v.GetString("slack.webhook_url"); s != "" {
		c.Slack.WebhookURL = s
	}
	if s := v.GetString("auth.jwt_secret"); s != "" {
		c.Auth.JWTSecret = s
	}
	if v.IsSet("auth.dev_login") {
		c.Auth.DevLogin = v.GetBool("auth.dev_login")
	}
	if s := v.GetString("database.path"); s != "" {
		c.Database.Path = s
	}
	return c.Validate()
}

func isSet(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.HasPrefix(s, placeholderPrefix)
}

// LLMConfigured reports whether a usable model credential is present.
func (c *Config) LLMConfigured() bool { return isSet(c.LLM.APIKey) }

// SlackConfigured reports whether the webhook looks like a Slack incoming
// webhook.
func (c *Config) SlackConfigured() bool {
	return isSet(c.Slack.WebhookURL) && strings.HasPrefix(c.Slack.WebhookURL, slackHookPrefix)
}

type CheckResult struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Required   bool   `json:"required"`
	Detail     string `json:"detail"`
}

// Check reports which services are configured. Secrets are truncated.
func (c *Config) Check() []CheckResult {
	llm := CheckResult{Name: "LLM (" + c.LLM.Provider + ")", Configured: c.LLMConfigured(), Required: true}
	if llm.Configured {
		llm.Detail = fmt.Sprintf("key %s... url %s model %s", truncate(c.LLM.APIKey, 10), c.LLM.BaseURL, c.LLM.Model)
	} else {
		llm.Detail = c.LLM.KeySetting + " is not set"
	}
	slack := CheckResult{Name: "Slack webhook", Configured: c.SlackConfigured()}
	if slack.Configured {
		slack.Detail = truncate(c.Slack.WebhookURL, 30) + "..."
	} else {
		slack.Detail = "not configured (optional)"
	}
	jwt := CheckResult{Name: "JWT secret", Configured: isSet(c.Auth.JWTSecret), Required: true}
	if jwt.Configured {
		jwt.Detail = "set"
	} else {
		jwt.Detail = "NEMORA_JWT_SECRET is not set; session endpoints will reject bearer tokens"
	}
	return []CheckResult{llm, slack, jwt}
}

// Ready reports whether every required check passed.
func Ready(results []CheckResult) bool {
	for _, r := range results {
		if r.Required && !r.Configured {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
