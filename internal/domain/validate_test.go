package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemora/internal/domain"
)

func samplePlan() domain.Plan {
	return domain.Plan{
		Phases: []domain.Phase{
			{Name: "Discovery", Description: "research", Status: domain.PhaseActive},
			{Name: "Design", Description: "mockups", Status: domain.PhaseUpcoming},
		},
		Tasks: []domain.Task{
			{ID: "1", Phase: "Discovery", Task: "Interview users", Priority: domain.PriorityP0, Status: domain.TaskDone},
			{ID: "2", Phase: "Design", Task: "Wireframes", Priority: domain.PriorityP1, Status: domain.TaskNotStarted},
		},
		Risks: []string{"Scope creep"},
		KPIs:  []string{"Weekly actives"},
	}
}

func TestProductInputValidate(t *testing.T) {
	cases := []struct {
		name  string
		in    domain.ProductInput
		field string
	}{
		{"ok", domain.ProductInput{Name: "X", Description: "Y", Timeline: "6 months"}, ""},
		{"blank name", domain.ProductInput{Name: "  ", Description: "Y"}, "name"},
		{"blank description", domain.ProductInput{Name: "X"}, "description"},
		{"long description", domain.ProductInput{Name: "X", Description: strings.Repeat("a", 501)}, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.field == "" {
				require.NoError(t, err)
				return
			}
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestTimelineLabel(t *testing.T) {
	assert.Equal(t, "6 months", domain.ProductInput{}.TimelineLabel())
	assert.Equal(t, "9 months", domain.ProductInput{Timeline: "9"}.TimelineLabel())
	assert.Equal(t, "1 month", domain.ProductInput{Timeline: "1"}.TimelineLabel())
	assert.Equal(t, "Q3 2026", domain.ProductInput{Timeline: "Q3 2026"}.TimelineLabel())
}

func TestDecodePlanRoundTrip(t *testing.T) {
	for _, p := range []domain.Plan{samplePlan(), {Phases: []domain.Phase{{Name: "Discovery", Status: domain.PhaseActive}}}} {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		got, err := domain.DecodePlan(data)
		require.NoError(t, err)
		if diff := cmp.Diff(p, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodePlanMissingFields(t *testing.T) {
	_, err := domain.DecodePlan([]byte(`{"phases":[],"tasks":[],"risks":null}`))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"risks", "kpis"}, se.Missing)
}

func TestDecodePlanNormalizes(t *testing.T) {
	raw := `{
		"phases":[{"name":"Discovery","status":"weird"},{"name":"Post-launch"}],
		"tasks":[
			{"phase":"discovery","task":"a","priority":"p0","status":"done"},
			{"id":"7","phase":"Post-Launch","task":"b","priority":"urgent","status":"in progress"}
		],
		"risks":[],"kpis":[]
	}`
	p, err := domain.DecodePlan([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseUpcoming, p.Phases[0].Status)
	assert.Equal(t, domain.Task{ID: "1", Phase: "Discovery", Task: "a", Priority: "P0", Status: domain.TaskDone}, p.Tasks[0])
	assert.Equal(t, domain.Task{ID: "7", Phase: "Post-launch", Task: "b", Priority: "P1", Status: domain.TaskInProgress}, p.Tasks[1])
}

func TestDecodePlanAcceptsNumericTaskIDs(t *testing.T) {
	raw := `{"phases":[{"name":"Build"}],"tasks":[{"id":1,"phase":"Build","task":"a"},{"id":2.5,"phase":"Build","task":"b"}],"risks":[],"kpis":[]}`
	p, err := domain.DecodePlan([]byte(raw))
	require.NoError(t, err)
	require.Len(t, p.Tasks, 2)
	assert.Equal(t, "1", p.Tasks[0].ID)
	assert.Equal(t, "2.5", p.Tasks[1].ID)

	_, err = domain.DecodePlan([]byte(`{"phases":[{"name":"Build"}],"tasks":[{"id":{},"phase":"Build"}],"risks":[],"kpis":[]}`))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "tasks[0].id", se.Field)
}

func TestDecodePlanRejectsDanglingPhase(t *testing.T) {
	raw := `{"phases":[{"name":"Build"}],"tasks":[{"id":"1","phase":"Ship","task":"x"}],"risks":[],"kpis":[]}`
	_, err := domain.DecodePlan([]byte(raw))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "tasks[0].phase", se.Field)
}

func TestDecodePlanRejectsDuplicateIDs(t *testing.T) {
	raw := `{"phases":[{"name":"Build"}],"tasks":[{"id":"1","phase":"Build"},{"id":"1","phase":"Build"}],"risks":[],"kpis":[]}`
	_, err := domain.DecodePlan([]byte(raw))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
}

func TestDecodePlanWrongType(t *testing.T) {
	_, err := domain.DecodePlan([]byte(`{"phases":"nope","tasks":[],"risks":[],"kpis":[]}`))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "phases", se.Field)
}

func TestDecodeReport(t *testing.T) {
	r, err := domain.DecodeReport([]byte(`{
		"statusSummary":"On track",
		"nextSteps":["ship"],
		"launchChecklist":[{"item":"Docs","status":"complete"},{"item":"GTM","status":"maybe"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "On track", r.StatusSummary)
	assert.Equal(t, domain.ChecklistPending, r.LaunchChecklist[1].Status)

	_, err = domain.DecodeReport([]byte(`{"statusSummary":"","nextSteps":[],"launchChecklist":[]}`))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
}

func TestProjectStateRoundTrip(t *testing.T) {
	plan := samplePlan()
	report := domain.Report{StatusSummary: "ok"}
	state := domain.ProjectState{
		Input:           domain.ProductInput{Name: "X", Description: "Y"},
		Plan:            &plan,
		Report:          &report,
		TeamMembers:     []domain.TeamMember{{ID: "m1", Name: "Ada"}},
		TaskAssignments: map[string][]string{"1": {"m1"}},
	}
	got := domain.NewProject("p1", "u1", state).State()
	if diff := cmp.Diff(state, got); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, domain.NewProject("p2", "u1", domain.ProjectState{}).State().Plan)
}
