// Package render turns a plan and its status report into a shareable
// executive document.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"nemora/internal/domain"
	"nemora/internal/progress"
)

const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func converter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

var checklistMark = map[string]string{
	domain.ChecklistComplete:   "[x]",
	domain.ChecklistInProgress: "[~]",
	domain.ChecklistPending:    "[ ]",
}

// Markdown renders the executive report. The report may be nil when only
// a plan exists.
func Markdown(name string, plan domain.Plan, report *domain.Report) string {
	var b strings.Builder
	title := strings.TrimSpace(name)
	if title == "" {
		title = "Untitled product"
	}
	fmt.Fprintf(&b, "# %s\n\n", escape(title))

	sum := progress.Project(plan.Tasks)
	fmt.Fprintf(&b, "**Progress:** %d%% (%d/%d tasks done, %d in progress)\n\n",
		sum.Percent, sum.DoneTasks, sum.TotalTasks, sum.InProgressTasks)
	if cur := progress.CurrentPhase(plan.Phases, plan.Tasks); cur != "" {
		fmt.Fprintf(&b, "**Current phase:** %s\n\n", escape(cur))
	}

	if report != nil && strings.TrimSpace(report.StatusSummary) != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(strings.TrimSpace(report.StatusSummary))
		b.WriteString("\n\n")
	}

	phases := progress.DerivePhaseStatuses(plan.Phases, plan.Tasks)
	if len(phases) > 0 {
		b.WriteString("## Phases\n\n| Phase | Status | Done |\n|---|---|---|\n")
		for _, ph := range phases {
			st := progress.Phase(plan.Tasks, ph.Name)
			fmt.Fprintf(&b, "| %s | %s | %d/%d |\n", cell(ph.Name), ph.Status, st.Completed, st.Total)
		}
		b.WriteString("\n")
	}

	if len(plan.Tasks) > 0 {
		b.WriteString("## Tasks\n\n| Phase | Task | Priority | Status |\n|---|---|---|---|\n")
		for _, t := range plan.Tasks {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(t.Phase), cell(t.Task), t.Priority, t.Status)
		}
		b.WriteString("\n")
	}

	bullets(&b, "Risks", plan.Risks)
	bullets(&b, "KPIs", plan.KPIs)

	if report != nil {
		if len(report.NextSteps) > 0 {
			b.WriteString("## Next steps\n\n")
			for i, s := range report.NextSteps {
				fmt.Fprintf(&b, "%d. %s\n", i+1, escape(s))
			}
			b.WriteString("\n")
		}
		if len(report.LaunchChecklist) > 0 {
			b.WriteString("## Launch checklist\n\n")
			for _, item := range report.LaunchChecklist {
				mark, ok := checklistMark[item.Status]
				if !ok {
					mark = checklistMark[domain.ChecklistPending]
				}
				fmt.Fprintf(&b, "- %s %s\n", mark, escape(item.Item))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// HTML renders the Markdown report through goldmark with GitHub tables
// and task lists enabled.
func HTML(name string, plan domain.Plan, report *domain.Report) (string, error) {
	var buf bytes.Buffer
	if err := converter().Convert([]byte(Markdown(name, plan, report)), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Render dispatches on format; an empty format means Markdown.
func Render(format, name string, plan domain.Plan, report *domain.Report) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatMarkdown, "markdown":
		return Markdown(name, plan, report), nil
	case FormatHTML:
		return HTML(name, plan, report)
	default:
		return "", &domain.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q (use md or html)", format)}
	}
}

func bullets(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", escape(it))
	}
	b.WriteString("\n")
}

var escaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return escaper.Replace(strings.TrimSpace(s))
}

func cell(s string) string {
	s = strings.ReplaceAll(escape(s), "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
