// Package copilot turns product input into lifecycle plans and plans into
// executive status reports by prompting a language model.
package copilot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"nemora/internal/domain"
	"nemora/internal/llm"
)

type Gateway struct {
	Completer llm.Completer
	// SystemPrompt is sent ahead of every request; blank disables it.
	SystemPrompt string
	// KeySetting names the credential reported when no completer is wired.
	KeySetting string
	Logger     *zap.Logger
}

func NewGateway(c llm.Completer, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		Completer:    c,
		SystemPrompt: llm.DefaultSystemPrompt,
		KeySetting:   llm.DefaultKeySetting,
		Logger:       log,
	}
}

func (g *Gateway) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Gateway) ready() error {
	if g == nil || g.Completer == nil {
		setting := llm.DefaultKeySetting
		if g != nil && g.KeySetting != "" {
			setting = g.KeySetting
		}
		return &llm.ConfigurationError{Setting: setting}
	}
	return nil
}

func (g *Gateway) messages(prompt string) []llm.Message {
	var msgs []llm.Message
	if g.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: g.SystemPrompt})
	}
	return append(msgs, llm.Message{Role: "user", Content: prompt})
}

// GenerateLifecyclePlan validates in before touching the network, then asks
// the model for a plan and checks its structure.
func (g *Gateway) GenerateLifecyclePlan(ctx context.Context, in domain.ProductInput) (domain.Plan, error) {
	if err := in.Validate(); err != nil {
		return domain.Plan{}, err
	}
	if err := g.ready(); err != nil {
		return domain.Plan{}, err
	}
	log := g.logger().With(zap.String("product", in.Name))
	log.Info("generating lifecycle plan")
	content, err := g.Completer.Complete(ctx, g.messages(BuildLifecyclePrompt(in)))
	if err != nil {
		log.Warn("lifecycle completion failed", zap.Error(err))
		return domain.Plan{}, err
	}
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		log.Debug("unparseable lifecycle reply", zap.String("content", content))
		return domain.Plan{}, err
	}
	plan, err := domain.DecodePlan(raw)
	if err != nil {
		log.Debug("lifecycle reply failed structure check", zap.Error(err), zap.String("content", content))
		return domain.Plan{}, err
	}
	log.Info("lifecycle plan generated",
		zap.Int("phases", len(plan.Phases)),
		zap.Int("tasks", len(plan.Tasks)))
	return plan, nil
}

// GenerateStatusReport summarizes plan for executives. plan is read only.
func (g *Gateway) GenerateStatusReport(ctx context.Context, plan domain.Plan, in domain.ProductInput) (domain.Report, error) {
	if err := g.ready(); err != nil {
		return domain.Report{}, err
	}
	log := g.logger().With(zap.String("product", in.Name))
	log.Info("generating status report", zap.Int("tasks", len(plan.Tasks)))
	content, err := g.Completer.Complete(ctx, g.messages(BuildStatusPrompt(plan, in)))
	if err != nil {
		log.Warn("status completion failed", zap.Error(err))
		return domain.Report{}, err
	}
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		log.Debug("unparseable status reply", zap.String("content", content))
		return domain.Report{}, err
	}
	report, err := domain.DecodeReport(raw)
	if err != nil {
		log.Debug("status reply failed structure check", zap.Error(err), zap.String("content", content))
		return domain.Report{}, err
	}
	return report, nil
}

// Describe renders err the way the HTTP layer reports generation failures.
func Describe(err error) string {
	var (
		ue *llm.UpstreamError
		pe *llm.ParseError
		se *domain.SchemaError
	)
	switch {
	case errors.As(err, &ue):
		msg := ue.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", ue.Status)
		}
		return "Nemotron API error: " + msg
	case errors.As(err, &pe):
		return "Failed to parse response from Nemotron API"
	case errors.As(err, &se):
		return "Invalid response structure from API"
	default:
		return err.Error()
	}
}
