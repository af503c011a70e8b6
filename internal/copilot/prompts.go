package copilot

import (
	"fmt"
	"strings"

	"nemora/internal/domain"
	"nemora/internal/progress"
)

const lifecycleTemplate = `You are a product management expert. Generate a comprehensive product lifecycle plan for the following product:

Product Name: %s
Description: %s
Target Users: %s
Timeline: %s

Please provide a detailed lifecycle plan in the following JSON format:
{
  "phases": [
%s
  ],
  "tasks": [
    {"id": "1", "phase": "Discovery", "task": "task description", "priority": "P0", "status": "Not started"},
    {"id": "2", "phase": "Discovery", "task": "task description", "priority": "P1", "status": "Not started"},
    ... (15-20 tasks total, distributed across phases)
  ],
  "risks": [
    "risk description 1",
    "risk description 2",
    ... (5-7 risks)
  ],
  "kpis": [
    "KPI description 1",
    "KPI description 2",
    ... (5-7 KPIs)
  ]
}

Priority levels: P0 (Critical), P1 (Important), P2 (Nice-to-have)
Status options: "Not started", "In progress", "Done"
Phase status options: "active", "upcoming", "completed"

Respond ONLY with valid JSON, no additional text.`

const statusTemplate = `You are a product management expert creating an executive status update. Based on the following product information, generate a concise status summary, next steps, and launch checklist.

Product Name: %s
Description: %s
Timeline: %s
Progress: %d%% (%d/%d tasks completed, %d in progress)

Active Phases: %s
Completed Phases: %s

Key Risks:
%s

KPIs:
%s

Generate a response in the following JSON format:
{
  "statusSummary": "A 2-3 sentence executive summary of current status, progress, and overall health of the project",
  "nextSteps": [
    "Specific action item 1",
    "Specific action item 2",
    "Specific action item 3",
    "Specific action item 4"
  ],
  "launchChecklist": [
    {"item": "Checklist item 1", "status": "complete"},
    {"item": "Checklist item 2", "status": "in-progress"},
    {"item": "Checklist item 3", "status": "pending"},
    {"item": "Checklist item 4", "status": "pending"},
    {"item": "Checklist item 5", "status": "pending"}
  ]
}

Status options for checklist: "complete", "in-progress", "pending"
Make the status summary professional and data-driven.
Next steps should be specific and actionable.
Launch checklist should cover: Product readiness, Documentation, Marketing/GTM, Technical infrastructure, Team readiness

Respond ONLY with valid JSON, no additional text.`

// BuildLifecyclePrompt renders the plan request for in. The same input
// always yields the same prompt.
func BuildLifecyclePrompt(in domain.ProductInput) string {
	phases := make([]string, len(domain.CanonicalPhases))
	for i, name := range domain.CanonicalPhases {
		status := domain.PhaseUpcoming
		if i == 0 {
			status = domain.PhaseActive
		}
		sep := ","
		if i == len(domain.CanonicalPhases)-1 {
			sep = ""
		}
		phases[i] = fmt.Sprintf(`    {"name": %q, "description": "brief description", "status": %q}%s`, name, status, sep)
	}
	return fmt.Sprintf(lifecycleTemplate,
		strings.TrimSpace(in.Name),
		strings.TrimSpace(in.Description),
		in.TargetUsersLabel(),
		in.TimelineLabel(),
		strings.Join(phases, "\n"))
}

// BuildStatusPrompt renders the report request. Phase groups come from
// derived statuses, so whatever the model originally said about a phase is
// irrelevant here.
func BuildStatusPrompt(plan domain.Plan, in domain.ProductInput) string {
	sum := progress.Project(plan.Tasks)
	active, completed := progress.Groups(progress.DerivePhaseStatuses(plan.Phases, plan.Tasks))
	return fmt.Sprintf(statusTemplate,
		strings.TrimSpace(in.Name),
		strings.TrimSpace(in.Description),
		in.TimelineLabel(),
		sum.Percent, sum.DoneTasks, sum.TotalTasks, sum.InProgressTasks,
		strings.Join(active, ", "),
		strings.Join(completed, ", "),
		bullets(plan.Risks),
		bullets(plan.KPIs))
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}
