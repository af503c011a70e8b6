// Package notify posts status summaries to Slack incoming webhooks.
package notify

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

	"nemora/internal/domain"
	"nemora/internal/llm"
	"nemora/internal/progress"
)

const (
	DefaultTimeout = 5 * time.Second
	WebhookSetting = "SLACK_WEBHOOK_URL"
)

// Payload is the status notification handed to a Notifier.
type Payload struct {
	ProductName     string                 `json:"productName"`
	StatusSummary   string                 `json:"statusSummary"`
	Progress        int                    `json:"progress"`
	DoneTasks       int                    `json:"doneTasks"`
	TotalTasks      int                    `json:"totalTasks"`
	NextSteps       []string               `json:"nextSteps"`
	LaunchChecklist []domain.ChecklistItem `json:"launchChecklist"`
}

// Validate checks the fields Slack needs to render a message.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.ProductName) == "" {
		return &domain.ValidationError{Field: "productName", Message: "productName is required"}
	}
	if strings.TrimSpace(p.StatusSummary) == "" {
		return &domain.ValidationError{Field: "statusSummary", Message: "statusSummary is required"}
	}
	if p.TotalTasks < 0 || p.DoneTasks < 0 || p.DoneTasks > p.TotalTasks {
		return &domain.ValidationError{Field: "doneTasks", Message: "doneTasks must be between 0 and totalTasks"}
	}
	if p.Progress < 0 || p.Progress > 100 {
		return &domain.ValidationError{Field: "progress", Message: "progress must be between 0 and 100"}
	}
	return nil
}

// PayloadFrom builds a notification from a plan and its report.
func PayloadFrom(productName string, plan domain.Plan, report domain.Report) Payload {
	sum := progress.Project(plan.Tasks)
	return Payload{
		ProductName:     productName,
		StatusSummary:   report.StatusSummary,
		Progress:        sum.Percent,
		DoneTasks:       sum.DoneTasks,
		TotalTasks:      sum.TotalTasks,
		NextSteps:       append([]string(nil), report.NextSteps...),
		LaunchChecklist: append([]domain.ChecklistItem(nil), report.LaunchChecklist...),
	}
}

type Notifier interface {
	PostStatusNotification(ctx context.Context, p Payload) error
}

type Slack struct {
	WebhookURL string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

func (s *Slack) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (s *Slack) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// PostStatusNotification delivers p. Slack answers a plain "ok" on success
// and anything else is surfaced as an upstream error.
func (s *Slack) PostStatusNotification(ctx context.Context, p Payload) error {
	if s == nil || strings.TrimSpace(s.WebhookURL) == "" {
		return &llm.ConfigurationError{Setting: WebhookSetting}
	}
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(buildMessage(p))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := s.client().Do(req)
	if err != nil {
		return &llm.NetworkError{Op: "slack webhook", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &llm.UpstreamError{Status: res.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	s.logger().Info("status posted to slack", zap.String("product", p.ProductName), zap.Int("progress", p.Progress))
	return nil
}

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type   string       `json:"type"`
	Text   *textObject  `json:"text,omitempty"`
	Fields []textObject `json:"fields,omitempty"`
}

type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

var checklistEmoji = map[string]string{
	domain.ChecklistComplete:   ":white_check_mark:",
	domain.ChecklistInProgress: ":hourglass_flowing_sand:",
	domain.ChecklistPending:    ":white_circle:",
}

func markdown(s string) *textObject { return &textObject{Type: "mrkdwn", Text: s} }

// buildMessage renders p as a Block Kit message with a plain text fallback.
func buildMessage(p Payload) message {
	msg := message{
		Text: fmt.Sprintf("%s status: %d%% complete. %s", p.ProductName, p.Progress, p.StatusSummary),
		Blocks: []block{
			{Type: "header", Text: &textObject{Type: "plain_text", Text: p.ProductName + " status update"}},
			{Type: "section", Text: markdown(p.StatusSummary)},
			{Type: "section", Fields: []textObject{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Progress*\n%d%%", p.Progress)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Tasks*\n%d/%d done", p.DoneTasks, p.TotalTasks)},
			}},
		},
	}
	if len(p.NextSteps) > 0 {
		var b strings.Builder
		b.WriteString("*Next steps*")
		for i, step := range p.NextSteps {
			fmt.Fprintf(&b, "\n%d. %s", i+1, step)
		}
		msg.Blocks = append(msg.Blocks, block{Type: "section", Text: markdown(b.String())})
	}
	if len(p.LaunchChecklist) > 0 {
		var b strings.Builder
		b.WriteString("*Launch checklist*")
		for _, item := range p.LaunchChecklist {
			emoji, ok := checklistEmoji[item.Status]
			if !ok {
				emoji = checklistEmoji[domain.ChecklistPending]
			}
			fmt.Fprintf(&b, "\n%s %s", emoji, item.Item)
		}
		msg.Blocks = append(msg.Blocks, block{Type: "section", Text: markdown(b.String())})
	}
	return msg
}
