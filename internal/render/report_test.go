package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemora/internal/domain"
)

func samplePlan() domain.Plan {
	return domain.Plan{
		Phases: []domain.Phase{
			{Name: "Discovery", Description: "Research"},
			{Name: "Design", Description: "Wireframes"},
		},
		Tasks: []domain.Task{
			{ID: "t1", Phase: "Discovery", Task: "Interview users", Priority: "P0", Status: domain.TaskDone},
			{ID: "t2", Phase: "Design", Task: "Draft a|b flows", Priority: "P1", Status: domain.TaskInProgress},
		},
		Risks: []string{"Scope creep"},
		KPIs:  []string{"Weekly actives"},
	}
}

func TestMarkdownPlanOnly(t *testing.T) {
	md := Markdown("Acme", samplePlan(), nil)
	assert.True(t, strings.HasPrefix(md, "# Acme\n"))
	assert.Contains(t, md, "**Progress:** 50% (1/2 tasks done, 1 in progress)")
	assert.Contains(t, md, "**Current phase:** Design")
	assert.Contains(t, md, "| Discovery | completed | 1/1 |")
	assert.Contains(t, md, `| Design | Draft a\|b flows | P1 | In progress |`)
	assert.Contains(t, md, "## Risks\n\n- Scope creep\n")
	assert.NotContains(t, md, "## Summary")
	assert.NotContains(t, md, "## Next steps")
}

func TestMarkdownWithReport(t *testing.T) {
	report := &domain.Report{
		StatusSummary: "On track.",
		NextSteps:     []string{"Ship beta", "Collect <feedback>"},
		LaunchChecklist: []domain.ChecklistItem{
			{Item: "Docs", Status: domain.ChecklistComplete},
			{Item: "Pricing", Status: domain.ChecklistInProgress},
			{Item: "Support", Status: "unknown"},
		},
	}
	md := Markdown("  ", samplePlan(), report)
	assert.True(t, strings.HasPrefix(md, "# Untitled product\n"))
	assert.Contains(t, md, "## Summary\n\nOn track.\n")
	assert.Contains(t, md, "1. Ship beta\n2. Collect &lt;feedback&gt;\n")
	assert.Contains(t, md, "- [x] Docs\n- [~] Pricing\n- [ ] Support\n")
}

func TestHTMLUsesTables(t *testing.T) {
	html, err := HTML("Acme", samplePlan(), nil)
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Acme</h1>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<td>Interview users</td>")
	assert.NotContains(t, html, "<script")
}

func TestRenderFormats(t *testing.T) {
	out, err := Render("", "Acme", samplePlan(), nil)
	require.NoError(t, err)
	assert.Equal(t, Markdown("Acme", samplePlan(), nil), out)

	out, err = Render("HTML", "Acme", samplePlan(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>")

	_, err = Render("pdf", "Acme", samplePlan(), nil)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "format", ve.Field)
}
