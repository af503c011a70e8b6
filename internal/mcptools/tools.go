// Package mcptools exposes lifecycle planning to agents over MCP.
//
// Each tool follows the same shape: a struct holding the engine and the
// acting user, Definition returning the mcp.Tool schema, and Handle
// processing a call. Failures are reported as tool errors, never as Go
// errors, so the agent sees the message.
package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"nemora/internal/copilot"
	"nemora/internal/domain"
	"nemora/internal/engine"
	"nemora/internal/progress"
	"nemora/internal/render"
)

// Version is reported to MCP clients.
var Version = "dev"

// New creates the MCP server with every tool registered. Tools act on
// behalf of userID.
func New(e *engine.Engine, userID string) *server.MCPServer {
	s := server.NewMCPServer(
		"nemora",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Nemora plans product lifecycles. Generate a plan, track it by project id, "+
			"and ask for an executive status report when tasks move."),
	)

	planTool := NewPlanTool(e, userID)
	s.AddTool(planTool.Definition(), planTool.Handle)

	reportTool := NewReportTool(e, userID)
	s.AddTool(reportTool.Definition(), reportTool.Handle)

	progressTool := NewProgressTool(e, userID)
	s.AddTool(progressTool.Definition(), progressTool.Handle)

	listTool := NewListTool(e, userID)
	s.AddTool(listTool.Definition(), listTool.Handle)

	return s
}

func describe(err error) string {
	return copilot.Describe(err)
}

// PlanTool handles generate_lifecycle_plan. The plan is saved as a new
// project.
type PlanTool struct {
	engine *engine.Engine
	userID string
}

func NewPlanTool(e *engine.Engine, userID string) *PlanTool {
	return &PlanTool{engine: e, userID: userID}
}

func (t *PlanTool) Definition() mcp.Tool {
	return mcp.NewTool("generate_lifecycle_plan",
		mcp.WithDescription(
			"Generate a phased product lifecycle plan (phases, prioritized tasks, risks, KPIs) "+
				"and save it as a new project. Returns the project id and the plan as Markdown.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Product name"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What the product does, up to 500 characters"),
		),
		mcp.WithString("target_users",
			mcp.Description("Who the product is for"),
		),
		mcp.WithString("timeline",
			mcp.Description("Target timeline, e.g. 3 months"),
		),
	)
}

func (t *PlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := domain.ProductInput{
		Name:        strings.TrimSpace(req.GetString("name", "")),
		Description: strings.TrimSpace(req.GetString("description", "")),
		TargetUsers: strings.TrimSpace(req.GetString("target_users", "")),
		Timeline:    strings.TrimSpace(req.GetString("timeline", "")),
	}
	if err := in.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.engine.NewProject(ctx, t.userID)
	if _, err := t.engine.GeneratePlan(ctx, t.userID, in); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate plan: %s", describe(err))), nil
	}
	t.engine.Flush(ctx, t.userID)
	snap := t.engine.Snapshot(t.userID)
	if snap.ProjectID == "" || snap.Plan == nil {
		return mcp.NewToolResultError("plan generated but could not be saved"), nil
	}
	doc := render.Markdown(in.Name, *snap.Plan, nil)
	return mcp.NewToolResultText(fmt.Sprintf("Project ID: %s\n\n%s", snap.ProjectID, doc)), nil
}

// ReportTool handles generate_status_report for a saved project.
type ReportTool struct {
	engine *engine.Engine
	userID string
}

func NewReportTool(e *engine.Engine, userID string) *ReportTool {
	return &ReportTool{engine: e, userID: userID}
}

func (t *ReportTool) Definition() mcp.Tool {
	return mcp.NewTool("generate_status_report",
		mcp.WithDescription(
			"Generate an executive status report (summary, next steps, launch checklist) for a saved project "+
				"from its current task progress. The report is saved with the project.",
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project id returned by generate_lifecycle_plan or list_projects"),
		),
	)
}

func (t *ReportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := strings.TrimSpace(req.GetString("project_id", ""))
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	if _, err := t.engine.Open(ctx, t.userID, projectID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open project: %v", err)), nil
	}
	snap, err := t.engine.GenerateReport(ctx, t.userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate report: %s", describe(err))), nil
	}
	t.engine.Flush(ctx, t.userID)
	return mcp.NewToolResultText(render.Markdown(snap.Input.Name, *snap.Plan, snap.Report)), nil
}

// ProgressTool handles project_progress: overall and per-phase completion.
type ProgressTool struct {
	engine *engine.Engine
	userID string
}

func NewProgressTool(e *engine.Engine, userID string) *ProgressTool {
	return &ProgressTool{engine: e, userID: userID}
}

func (t *ProgressTool) Definition() mcp.Tool {
	return mcp.NewTool("project_progress",
		mcp.WithDescription("Show overall and per-phase task completion for a saved project."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project id"),
		),
	)
}

func (t *ProgressTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := strings.TrimSpace(req.GetString("project_id", ""))
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	p, err := t.engine.GetProject(ctx, t.userID, projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load project: %v", err)), nil
	}
	sum := progress.Project(p.Tasks)
	var b strings.Builder
	fmt.Fprintf(&b, "# Progress: %s\n\n", p.Name)
	fmt.Fprintf(&b, "%d%% complete (%d/%d tasks done, %d in progress)\n", sum.Percent, sum.DoneTasks, sum.TotalTasks, sum.InProgressTasks)
	if cur := progress.CurrentPhase(p.Phases, p.Tasks); cur != "" {
		fmt.Fprintf(&b, "Current phase: %s\n", cur)
	}
	if len(p.Phases) > 0 {
		b.WriteString("\n")
	}
	for _, ph := range progress.DerivePhaseStatuses(p.Phases, p.Tasks) {
		st := progress.Phase(p.Tasks, ph.Name)
		fmt.Fprintf(&b, "- %s [%s]: %d/%d (%d%%)\n", ph.Name, ph.Status, st.Completed, st.Total, st.Percent)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ListTool handles list_projects.
type ListTool struct {
	engine *engine.Engine
	userID string
}

func NewListTool(e *engine.Engine, userID string) *ListTool {
	return &ListTool{engine: e, userID: userID}
}

func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List saved projects, most recently updated first, with their completion."),
	)
}

func (t *ListTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := t.engine.ListProjects(ctx, t.userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("No projects yet. Call generate_lifecycle_plan to create one."), nil
	}
	var b strings.Builder
	for _, p := range items {
		sum := progress.Project(p.Tasks)
		report := ""
		if p.ReportData != nil {
			report = ", report ready"
		}
		fmt.Fprintf(&b, "- %s  %s  %d%% (%d/%d)%s  updated %s\n", p.ID, p.Name, sum.Percent, sum.DoneTasks, sum.TotalTasks, report, p.UpdatedAt)
	}
	return mcp.NewToolResultText(b.String()), nil
}
