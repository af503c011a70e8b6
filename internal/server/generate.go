package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"nemora/internal/domain"
	"nemora/internal/engine"
	"nemora/internal/llm"
	"nemora/internal/notify"
	"nemora/internal/progress"
)

var generateErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
}

// registerGenerate adds the stateless generation routes. They keep no
// session and need no credentials.
func registerGenerate(api huma.API, gen engine.Generator, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-lifecycle",
		Method:      http.MethodPost,
		Path:        "/generate-lifecycle",
		Summary:     "Generate a lifecycle plan",
		Tags:        []string{"generate"},
		Errors:      generateErrors,
	}, func(ctx context.Context, input *struct {
		Body ProductInputRequest `json:"body"`
	}) (*struct {
		Body domain.Plan `json:"body"`
	}, error) {
		in := input.Body.input()
		if emptyBody(ctx) || in.Name == "" || in.Description == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "Product name and description are required", nil)
		}
		if gen == nil {
			return nil, handleError(&llm.ConfigurationError{Setting: llm.DefaultKeySetting})
		}
		plan, err := gen.GenerateLifecyclePlan(ctx, in)
		if err != nil {
			log.Warn("lifecycle generation failed", zap.Error(err))
			return nil, handleError(err)
		}
		plan.Phases = progress.DerivePhaseStatuses(plan.Phases, plan.Tasks)
		return &struct {
			Body domain.Plan `json:"body"`
		}{Body: plan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-status",
		Method:      http.MethodPost,
		Path:        "/generate-status",
		Summary:     "Generate an executive status report",
		Tags:        []string{"generate"},
		Errors:      generateErrors,
	}, func(ctx context.Context, input *struct {
		Body GenerateStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if emptyBody(ctx) || input.Body.LifecycleData == nil || input.Body.ProductInput == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "lifecycleData and productInput are required", nil)
		}
		plan, err := planFromBody(input.Body.LifecycleData)
		if err != nil {
			return nil, handleError(err)
		}
		if gen == nil {
			return nil, handleError(&llm.ConfigurationError{Setting: llm.DefaultKeySetting})
		}
		report, err := gen.GenerateStatusReport(ctx, plan, input.Body.ProductInput.input())
		if err != nil {
			log.Warn("status generation failed", zap.Error(err))
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: report}, nil
	})
}

// planFromBody checks a client supplied plan with the same rules applied
// to model output, reporting problems as bad input.
func planFromBody(raw map[string]any) (domain.Plan, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.Plan{}, &domain.ValidationError{Field: "lifecycleData", Message: "lifecycleData is not valid JSON"}
	}
	plan, err := domain.DecodePlan(data)
	var se *domain.SchemaError
	if errors.As(err, &se) {
		return domain.Plan{}, &domain.ValidationError{Field: "lifecycleData", Message: "lifecycleData is invalid: " + se.Error()}
	}
	return plan, err
}

func registerSlack(api huma.API, n notify.Notifier) {
	huma.Register(api, huma.Operation{
		OperationID: "send-slack",
		Method:      http.MethodPost,
		Path:        "/send-slack",
		Summary:     "Post a status notification to Slack",
		Tags:        []string{"notify"},
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body SendSlackRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if emptyBody(ctx) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p := input.Body.payload()
		if err := p.Validate(); err != nil {
			return nil, handleError(err)
		}
		if err := postNotification(ctx, n, p); err != nil {
			return nil, err
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true, Message: "Notification sent to Slack"}}, nil
	})
}

// postNotification reports any non-success webhook status as a bad
// gateway rather than passing Slack's status through.
func postNotification(ctx context.Context, n notify.Notifier, p notify.Payload) huma.StatusError {
	if n == nil {
		return handleError(&llm.ConfigurationError{Setting: notify.WebhookSetting})
	}
	return slackError(n.PostStatusNotification(ctx, p))
}

func slackError(err error) huma.StatusError {
	var ue *llm.UpstreamError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadGateway, "upstream_error", "Slack webhook error: "+ue.Message,
			map[string]any{"upstream_status": ue.Status})
	}
	return handleError(err)
}
