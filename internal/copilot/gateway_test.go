package copilot_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemora/internal/copilot"
	"nemora/internal/domain"
	"nemora/internal/llm"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
	last  []llm.Message
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	f.calls++
	f.last = msgs
	return f.reply, f.err
}

const planJSON = `{
  "phases": [
    {"name": "Discovery", "description": "d", "status": "active"},
    {"name": "Design", "description": "d", "status": "upcoming"}
  ],
  "tasks": [
    {"id": "1", "phase": "Discovery", "task": "Interview users", "priority": "P0", "status": "Not started"},
    {"id": "2", "phase": "Design", "task": "Wireframes", "priority": "P1", "status": "Not started"}
  ],
  "risks": ["Scope creep"],
  "kpis": ["DAU"]
}`

var sampleInput = domain.ProductInput{Name: "Nemora", Description: "Lifecycle copilot", Timeline: "3"}

func TestGeneratePlanRejectsInvalidInputWithoutCalling(t *testing.T) {
	fc := &fakeCompleter{reply: planJSON}
	g := copilot.NewGateway(fc, nil)
	_, err := g.GenerateLifecyclePlan(context.Background(), domain.ProductInput{Name: "  ", Description: "x"})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "name", ve.Field)
	assert.Zero(t, fc.calls)
}

func TestGeneratePlanWithoutCompleter(t *testing.T) {
	g := copilot.NewGateway(nil, nil)
	_, err := g.GenerateLifecyclePlan(context.Background(), sampleInput)
	var ce *llm.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "NEMOTRON_API_KEY is not configured", ce.Error())
}

func TestGeneratePlanParsesProseWrappedReply(t *testing.T) {
	fc := &fakeCompleter{reply: "Here is your plan: " + planJSON + "\nGood luck!"}
	g := copilot.NewGateway(fc, nil)
	plan, err := g.GenerateLifecyclePlan(context.Background(), sampleInput)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "Interview users", plan.Tasks[0].Task)
	assert.Equal(t, []string{"Scope creep"}, plan.Risks)

	require.Len(t, fc.last, 2)
	assert.Equal(t, "system", fc.last[0].Role)
	assert.Equal(t, llm.DefaultSystemPrompt, fc.last[0].Content)
	assert.Contains(t, fc.last[1].Content, "Timeline: 3 months")
	assert.Contains(t, fc.last[1].Content, "Target Users: General users")
}

func TestGeneratePlanPropagatesAuthError(t *testing.T) {
	fc := &fakeCompleter{err: &llm.AuthError{Status: 401, Setting: llm.DefaultKeySetting}}
	_, err := copilot.NewGateway(fc, nil).GenerateLifecyclePlan(context.Background(), sampleInput)
	var ae *llm.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "Invalid API key. Please check your NEMOTRON_API_KEY.", err.Error())
}

func TestGeneratePlanStructureErrors(t *testing.T) {
	fc := &fakeCompleter{reply: `{"phases": [], "tasks": []}`}
	_, err := copilot.NewGateway(fc, nil).GenerateLifecyclePlan(context.Background(), sampleInput)
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.ElementsMatch(t, []string{"risks", "kpis"}, se.Missing)
	assert.Equal(t, "Invalid response structure from API", copilot.Describe(err))

	fc.reply = "no json here"
	_, err = copilot.NewGateway(fc, nil).GenerateLifecyclePlan(context.Background(), sampleInput)
	var pe *llm.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Failed to parse response from Nemotron API", copilot.Describe(err))
}

func TestGenerateStatusReport(t *testing.T) {
	plan, err := domain.DecodePlan([]byte(planJSON))
	require.NoError(t, err)
	plan.Tasks[0].Status = domain.TaskDone
	before := plan.Clone()

	fc := &fakeCompleter{reply: `{"statusSummary":"On track","nextSteps":["a"],"launchChecklist":[{"item":"Docs","status":"done-ish"}]}`}
	report, err := copilot.NewGateway(fc, nil).GenerateStatusReport(context.Background(), plan, sampleInput)
	require.NoError(t, err)
	assert.Equal(t, "On track", report.StatusSummary)
	assert.Equal(t, domain.ChecklistPending, report.LaunchChecklist[0].Status)
	assert.Equal(t, before, plan)

	prompt := fc.last[1].Content
	assert.Contains(t, prompt, "Progress: 50% (1/2 tasks completed, 0 in progress)")
	assert.Contains(t, prompt, "Active Phases: Discovery, Design")
	assert.Contains(t, prompt, "Completed Phases: Discovery\n")
	assert.Contains(t, prompt, "- Scope creep")
}

func TestGenerateStatusReportUpstreamError(t *testing.T) {
	fc := &fakeCompleter{err: &llm.UpstreamError{Status: 429, Message: "rate limited"}}
	_, err := copilot.NewGateway(fc, nil).GenerateStatusReport(context.Background(), domain.Plan{}, sampleInput)
	require.Error(t, err)
	assert.Equal(t, "Nemotron API error: rate limited", copilot.Describe(err))
}

func TestPromptsAreDeterministic(t *testing.T) {
	a := copilot.BuildLifecyclePrompt(sampleInput)
	b := copilot.BuildLifecyclePrompt(sampleInput)
	assert.Equal(t, a, b)
	for _, phase := range domain.CanonicalPhases {
		assert.Contains(t, a, fmt.Sprintf("%q", phase))
	}
	assert.True(t, strings.HasSuffix(a, "Respond ONLY with valid JSON, no additional text."))

	empty := copilot.BuildStatusPrompt(domain.Plan{}, sampleInput)
	assert.Contains(t, empty, "Progress: 0% (0/0 tasks completed, 0 in progress)")
}
