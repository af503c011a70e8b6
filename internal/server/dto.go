package server

import (
	"strings"

	"nemora/internal/domain"
	"nemora/internal/notify"
	"nemora/internal/progress"
)

// Request payloads. Fields are optional at the schema level so missing
// values reach the handlers and get the product's own error messages.

type ProductInputRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	TargetUsers string `json:"targetUsers,omitempty"`
	Timeline    string `json:"timeline,omitempty"`
}

func (r ProductInputRequest) input() domain.ProductInput {
	return domain.ProductInput{
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
		TargetUsers: strings.TrimSpace(r.TargetUsers),
		Timeline:    strings.TrimSpace(r.Timeline),
	}
}

type GenerateStatusRequest struct {
	LifecycleData map[string]any       `json:"lifecycleData,omitempty" jsonschema:"type=object,additionalProperties=true"`
	ProductInput  *ProductInputRequest `json:"productInput,omitempty"`
}

type ChecklistItemRequest struct {
	Item   string `json:"item"`
	Status string `json:"status" enum:"complete,in-progress,pending"`
}

type SendSlackRequest struct {
	ProductName     string                 `json:"productName,omitempty"`
	StatusSummary   string                 `json:"statusSummary,omitempty"`
	Progress        int                    `json:"progress,omitempty"`
	DoneTasks       int                    `json:"doneTasks,omitempty"`
	TotalTasks      int                    `json:"totalTasks,omitempty"`
	NextSteps       []string               `json:"nextSteps,omitempty"`
	LaunchChecklist []ChecklistItemRequest `json:"launchChecklist,omitempty"`
}

func (r SendSlackRequest) payload() notify.Payload {
	p := notify.Payload{
		ProductName:   strings.TrimSpace(r.ProductName),
		StatusSummary: strings.TrimSpace(r.StatusSummary),
		Progress:      r.Progress,
		DoneTasks:     r.DoneTasks,
		TotalTasks:    r.TotalTasks,
		NextSteps:     r.NextSteps,
	}
	for _, c := range r.LaunchChecklist {
		p.LaunchChecklist = append(p.LaunchChecklist, domain.ChecklistItem{Item: c.Item, Status: c.Status})
	}
	return p
}

type OpenSessionRequest struct {
	ProjectID string `json:"projectId,omitempty"`
}

type UpdateTaskRequest struct {
	Status string `json:"status" enum:"Not started,In progress,Done"`
}

type AddMemberRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

type DevLoginRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// Response payloads

type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt string `json:"expiresAt" format:"date-time"`
}

type WhoAmIResponse struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Source      string `json:"source" enum:"jwt,api_key"`
}

type ProjectSummaryResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Progress     int    `json:"progress"`
	DoneTasks    int    `json:"doneTasks"`
	TotalTasks   int    `json:"totalTasks"`
	CurrentPhase string `json:"currentPhase,omitempty"`
	HasReport    bool   `json:"hasReport"`
	TeamSize     int    `json:"teamSize"`
	UpdatedAt    string `json:"updatedAt" format:"date-time"`
}

func projectSummary(p domain.Project) ProjectSummaryResponse {
	sum := progress.Project(p.Tasks)
	return ProjectSummaryResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Progress:     sum.Percent,
		DoneTasks:    sum.DoneTasks,
		TotalTasks:   sum.TotalTasks,
		CurrentPhase: progress.CurrentPhase(p.Phases, p.Tasks),
		HasReport:    p.ReportData != nil,
		TeamSize:     len(p.TeamMembers),
		UpdatedAt:    p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectSummaryResponse {
	out := make([]ProjectSummaryResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectSummary(p))
	}
	return out
}
