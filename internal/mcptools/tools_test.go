package mcptools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemora/internal/db"
	"nemora/internal/domain"
	"nemora/internal/engine"
	"nemora/internal/llm"
	"nemora/internal/migrate"
)

type stubGenerator struct {
	err error
}

func (g stubGenerator) GenerateLifecyclePlan(context.Context, domain.ProductInput) (domain.Plan, error) {
	if g.err != nil {
		return domain.Plan{}, g.err
	}
	return domain.Plan{
		Phases: []domain.Phase{{Name: "Discovery"}, {Name: "Launch"}},
		Tasks: []domain.Task{
			{ID: "t1", Phase: "Discovery", Task: "Research", Priority: domain.PriorityP0, Status: domain.TaskDone},
			{ID: "t2", Phase: "Launch", Task: "Announce", Priority: domain.PriorityP1, Status: domain.TaskNotStarted},
		},
		Risks: []string{"Timing"},
		KPIs:  []string{"Signups"},
	}, nil
}

func (g stubGenerator) GenerateStatusReport(context.Context, domain.Plan, domain.ProductInput) (domain.Report, error) {
	return domain.Report{
		StatusSummary:   "Halfway there.",
		NextSteps:       []string{"Announce"},
		LaunchChecklist: []domain.ChecklistItem{{Item: "Press kit", Status: domain.ChecklistInProgress}},
	}, nil
}

func newEngine(t *testing.T, gen engine.Generator) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	e := engine.New(conn, engine.Options{Generator: gen, AutosaveQuiet: time.Hour})
	t.Cleanup(func() {
		e.Close(ctx)
		conn.Close()
	})
	return e
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestDefinitionsRequireArguments(t *testing.T) {
	e := newEngine(t, stubGenerator{})
	plan := NewPlanTool(e, "u1").Definition()
	assert.Equal(t, "generate_lifecycle_plan", plan.Name)
	assert.ElementsMatch(t, []string{"name", "description"}, plan.InputSchema.Required)
	assert.Contains(t, plan.InputSchema.Properties, "timeline")

	assert.Equal(t, []string{"project_id"}, NewReportTool(e, "u1").Definition().InputSchema.Required)
	assert.Equal(t, []string{"project_id"}, NewProgressTool(e, "u1").Definition().InputSchema.Required)
	assert.Empty(t, NewListTool(e, "u1").Definition().InputSchema.Required)
}

func TestPlanReportProgressFlow(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, stubGenerator{})

	res, err := NewPlanTool(e, "u1").Handle(ctx, makeReq(map[string]any{
		"name":        "Acme",
		"description": "Rockets for everyone",
		"timeline":    "6 months",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	text := resultText(res)
	require.True(t, strings.HasPrefix(text, "Project ID: "))
	projectID := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(text, "Project ID: "), "\n", 2)[0])
	assert.Contains(t, text, "# Acme")
	assert.Contains(t, text, "| Discovery | completed | 1/1 |")

	res, err = NewListTool(e, "u1").Handle(ctx, makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), projectID)
	assert.Contains(t, resultText(res), "50% (1/2)")

	res, err = NewProgressTool(e, "u1").Handle(ctx, makeReq(map[string]any{"project_id": projectID}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "50% complete (1/2 tasks done, 0 in progress)")
	assert.Contains(t, resultText(res), "- Launch [active]: 0/1 (0%)")

	res, err = NewReportTool(e, "u1").Handle(ctx, makeReq(map[string]any{"project_id": projectID}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Halfway there.")
	assert.Contains(t, resultText(res), "- [~] Press kit")

	p, err := e.GetProject(ctx, "u1", projectID)
	require.NoError(t, err)
	require.NotNil(t, p.ReportData)
}

func TestToolErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, stubGenerator{err: &llm.UpstreamError{Status: 500, Message: "overloaded"}})

	res, err := NewPlanTool(e, "u1").Handle(ctx, makeReq(map[string]any{"name": "Acme"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Description is required", resultText(res))

	res, err = NewPlanTool(e, "u1").Handle(ctx, makeReq(map[string]any{"name": "Acme", "description": "d"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "Nemotron API error: overloaded")

	res, err = NewReportTool(e, "u1").Handle(ctx, makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = NewProgressTool(e, "u1").Handle(ctx, makeReq(map[string]any{"project_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = NewListTool(e, "u1").Handle(ctx, makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "No projects yet")
}

func TestProjectsOfOtherUsersAreHidden(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, stubGenerator{})
	res, err := NewPlanTool(e, "owner").Handle(ctx, makeReq(map[string]any{"name": "Acme", "description": "d"}))
	require.NoError(t, err)
	projectID := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(resultText(res), "Project ID: "), "\n", 2)[0])

	res, err = NewProgressTool(e, "intruder").Handle(ctx, makeReq(map[string]any{"project_id": projectID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "belongs to another user")
}
