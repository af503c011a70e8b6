package nemorasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Nemora HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Generation calls can take a
// while, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 2 * time.Minute,
	}
}

type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TargetUsers string `json:"targetUsers,omitempty"`
	Timeline    string `json:"timeline,omitempty"`
}

type Phase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type Task struct {
	ID       string `json:"id"`
	Phase    string `json:"phase"`
	Task     string `json:"task"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// Plan is a lifecycle plan.
type Plan struct {
	Phases []Phase  `json:"phases"`
	Tasks  []Task   `json:"tasks"`
	Risks  []string `json:"risks"`
	KPIs   []string `json:"kpis"`
}

type ChecklistItem struct {
	Item   string `json:"item"`
	Status string `json:"status"`
}

// Report is an executive status report.
type Report struct {
	StatusSummary   string          `json:"statusSummary"`
	NextSteps       []string        `json:"nextSteps"`
	LaunchChecklist []ChecklistItem `json:"launchChecklist"`
}

// SlackNotification is the body of SendSlack.
type SlackNotification struct {
	ProductName     string          `json:"productName"`
	StatusSummary   string          `json:"statusSummary"`
	Progress        int             `json:"progress"`
	DoneTasks       int             `json:"doneTasks"`
	TotalTasks      int             `json:"totalTasks"`
	NextSteps       []string        `json:"nextSteps,omitempty"`
	LaunchChecklist []ChecklistItem `json:"launchChecklist,omitempty"`
}

type TeamMember struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	Color      string `json:"color,omitempty"`
}

type Progress struct {
	DoneTasks       int `json:"doneTasks"`
	InProgressTasks int `json:"inProgressTasks"`
	TotalTasks      int `json:"totalTasks"`
	Percent         int `json:"percent"`
}

// Session is the caller's current project session.
type Session struct {
	ProjectID       string              `json:"projectId"`
	Status          string              `json:"status"`
	Epoch           uint64              `json:"epoch"`
	ProductInput    ProductInput        `json:"productInput"`
	Plan            *Plan               `json:"lifecycleData"`
	Report          *Report             `json:"reportData"`
	TeamMembers     []TeamMember        `json:"teamMembers"`
	TaskAssignments map[string][]string `json:"taskAssignments"`
	Progress        Progress            `json:"progress"`
	CurrentPhase    string              `json:"currentPhase"`
}

type Activity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProjectSummary is one entry of ListProjects.
type ProjectSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Progress     int    `json:"progress"`
	DoneTasks    int    `json:"doneTasks"`
	TotalTasks   int    `json:"totalTasks"`
	CurrentPhase string `json:"currentPhase"`
	HasReport    bool   `json:"hasReport"`
	TeamSize     int    `json:"teamSize"`
	UpdatedAt    string `json:"updatedAt"`
}

type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Login struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt string `json:"expiresAt"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// GenerateLifecycle asks for a plan without touching any session.
func (c *Client) GenerateLifecycle(ctx context.Context, in ProductInput) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, "api/generate-lifecycle", in, &resp)
	return resp, err
}

// GenerateStatus asks for a report on a plan without touching any session.
func (c *Client) GenerateStatus(ctx context.Context, plan Plan, in ProductInput) (Report, error) {
	body := map[string]any{
		"lifecycleData": plan,
		"productInput":  in,
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, "api/generate-status", body, &resp)
	return resp, err
}

func (c *Client) SendSlack(ctx context.Context, n SlackNotification) error {
	return c.do(ctx, http.MethodPost, "api/send-slack", n, nil)
}

// DevLogin signs in by email on servers with dev login enabled and stores
// the token on the client.
func (c *Client) DevLogin(ctx context.Context, email, displayName string) (Login, error) {
	body := map[string]any{"email": email, "displayName": displayName}
	var resp Login
	if err := c.do(ctx, http.MethodPost, "api/auth/dev/login", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

func (c *Client) Session(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "api/session", nil, &resp)
	return resp, err
}

// OpenProject loads a saved project into the session; an empty id opens
// the most recently updated one.
func (c *Client) OpenProject(ctx context.Context, projectID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "api/session/open", map[string]any{"projectId": projectID}, &resp)
	return resp, err
}

func (c *Client) NewProject(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "api/session/new", nil, &resp)
	return resp, err
}

func (c *Client) GeneratePlan(ctx context.Context, in ProductInput) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "api/session/plan", in, &resp)
	return resp, err
}

func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("api/session/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) GenerateReport(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "api/session/report", nil, &resp)
	return resp, err
}

// SendSessionStatus posts the session's report to Slack.
func (c *Client) SendSessionStatus(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "api/session/slack", nil, nil)
}

func (c *Client) AddMember(ctx context.Context, m TeamMember) (TeamMember, error) {
	var resp TeamMember
	err := c.do(ctx, http.MethodPost, "api/session/members", m, &resp)
	return resp, err
}

func (c *Client) RemoveMember(ctx context.Context, memberID string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("api/session/members/%s", url.PathEscape(memberID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) AssignTask(ctx context.Context, taskID, memberID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, assigneePath(taskID, memberID), nil, &resp)
	return resp, err
}

func (c *Client) UnassignTask(ctx context.Context, taskID, memberID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodDelete, assigneePath(taskID, memberID), nil, &resp)
	return resp, err
}

// Activity returns recent activity, newest first. A zero limit returns all
// retained entries.
func (c *Client) Activity(ctx context.Context, limit int) ([]Activity, error) {
	endpoint := "api/session/activity"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ExportReport returns the session report rendered as "md" or "html".
func (c *Client) ExportReport(ctx context.Context, format string) (string, error) {
	endpoint := "api/session/report/export"
	if format != "" {
		endpoint += "?format=" + url.QueryEscape(format)
	}
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, endpoint, nil, &buf)
	return buf.String(), err
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "api/session/signout", nil, nil)
}

func (c *Client) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	var resp []ProjectSummary
	err := c.do(ctx, http.MethodGet, "api/projects", nil, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	endpoint := fmt.Sprintf("api/projects/%s", url.PathEscape(projectID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func assigneePath(taskID, memberID string) string {
	return fmt.Sprintf("api/session/tasks/%s/assignees/%s", url.PathEscape(taskID), url.PathEscape(memberID))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
