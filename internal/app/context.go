// Package app wires configuration, storage and the model gateway together
// for the CLI commands.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"nemora/internal/config"
	"nemora/internal/copilot"
	"nemora/internal/db"
	"nemora/internal/engine"
	"nemora/internal/llm"
	"nemora/internal/migrate"
	"nemora/internal/notify"
)

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Engine   *engine.Engine
	Gateway  *copilot.Gateway
	Notifier *notify.Slack
	Log      *zap.Logger
}

// NewCompleter builds the configured model client. It returns nil without
// error when no credential is set so callers can still serve requests that
// do not need the model; those that do get a ConfigurationError.
func NewCompleter(ctx context.Context, cfg *config.Config, log *zap.Logger) (llm.Completer, error) {
	if !cfg.LLMConfigured() {
		return nil, nil
	}
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		g, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
			KeySetting:  cfg.LLM.KeySetting,
			Logger:      log.Named("gemini"),
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		chat := llm.DefaultChatConfig(cfg.LLM.APIKey)
		chat.BaseURL = cfg.LLM.BaseURL
		chat.Model = cfg.LLM.Model
		chat.MaxTokens = cfg.LLM.MaxTokens
		chat.Temperature = cfg.LLM.Temperature
		chat.TopP = cfg.LLM.TopP
		chat.Timeout = cfg.LLMTimeout()
		chat.KeySetting = cfg.LLM.KeySetting
		chat.Logger = log.Named("chat")
		return llm.NewChatClient(chat), nil
	}
}

// NewGateway wraps the configured completer.
func NewGateway(ctx context.Context, cfg *config.Config, log *zap.Logger) (*copilot.Gateway, error) {
	completer, err := NewCompleter(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	g := copilot.NewGateway(completer, log.Named("copilot"))
	g.KeySetting = cfg.LLM.KeySetting
	return g, nil
}

// Open opens and migrates the workspace database and builds the engine.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("database ready", zap.String("path", db.Path(db.Config{Workspace: workspace, Path: cfg.Database.Path})), zap.Int("schema", version))

	gateway, err := NewGateway(ctx, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	slack := &notify.Slack{
		Timeout: cfg.SlackTimeout(),
		Logger:  log.Named("slack"),
	}
	if cfg.SlackConfigured() {
		slack.WebhookURL = cfg.Slack.WebhookURL
	}
	eng := engine.New(conn, engine.Options{
		Generator:     gateway,
		Notifier:      slack,
		AutosaveQuiet: cfg.AutosaveQuiet(),
		Logger:        log.Named("engine"),
	})
	return &App{
		Config:   cfg,
		DB:       conn,
		Engine:   eng,
		Gateway:  gateway,
		Notifier: slack,
		Log:      log,
	}, nil
}

// Close flushes pending saves and closes the database.
func (a *App) Close(ctx context.Context) error {
	a.Engine.Close(ctx)
	return a.DB.Close()
}
