package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemora/internal/collab"
	"nemora/internal/db"
	"nemora/internal/domain"
	"nemora/internal/engine"
	"nemora/internal/engine/auth"
	"nemora/internal/llm"
	"nemora/internal/migrate"
	"nemora/internal/notify"
	"nemora/internal/repo"
)

type planResult struct {
	plan domain.Plan
	err  error
}

// fakeGenerator answers from queued results. A result arriving on gate is
// returned only once the test sends it, which lets tests interleave calls.
type fakeGenerator struct {
	mu      sync.Mutex
	plans   []planResult
	gate    chan planResult
	started chan struct{}
	report  domain.Report
	rerr    error
	rgate   chan struct{}
}

func (f *fakeGenerator) GenerateLifecyclePlan(ctx context.Context, in domain.ProductInput) (domain.Plan, error) {
	f.mu.Lock()
	if len(f.plans) > 0 {
		res := f.plans[0]
		f.plans = f.plans[1:]
		f.mu.Unlock()
		return res.plan, res.err
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	res := <-gate
	return res.plan, res.err
}

func (f *fakeGenerator) GenerateStatusReport(ctx context.Context, plan domain.Plan, in domain.ProductInput) (domain.Report, error) {
	f.mu.Lock()
	rgate, started := f.rgate, f.started
	f.mu.Unlock()
	if rgate != nil {
		started <- struct{}{}
		<-rgate
	}
	return f.report, f.rerr
}

type fakeNotifier struct {
	got []notify.Payload
}

func (f *fakeNotifier) PostStatusNotification(_ context.Context, p notify.Payload) error {
	f.got = append(f.got, p)
	return nil
}

func samplePlan(tasks ...domain.Task) domain.Plan {
	return domain.Plan{
		Phases: []domain.Phase{
			{Name: "Discovery", Status: domain.PhaseUpcoming},
			{Name: "Design", Status: domain.PhaseCompleted},
		},
		Tasks: tasks,
		Risks: []string{"risk"},
		KPIs:  []string{"kpi"},
	}
}

func twoTaskPlan() domain.Plan {
	return samplePlan(
		domain.Task{ID: "1", Phase: "Discovery", Task: "Interview", Priority: "P0", Status: domain.TaskNotStarted},
		domain.Task{ID: "2", Phase: "Design", Task: "Wireframe", Priority: "P1", Status: domain.TaskNotStarted},
	)
}

var input = domain.ProductInput{Name: "Nemora", Description: "Copilot", Timeline: "6"}

type testEnv struct {
	Engine   *engine.Engine
	Gen      *fakeGenerator
	Notifier *fakeNotifier
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	gen := &fakeGenerator{}
	n := &fakeNotifier{}
	eng := engine.New(conn, engine.Options{
		Generator:     gen,
		Notifier:      n,
		AutosaveQuiet: time.Hour,
	})
	t.Cleanup(func() { eng.Close(context.Background()) })
	return testEnv{Engine: eng, Gen: gen, Notifier: n, Ctx: context.Background()}
}

func (env testEnv) plan(t *testing.T, p domain.Plan) engine.Snapshot {
	t.Helper()
	env.Gen.mu.Lock()
	env.Gen.plans = append(env.Gen.plans, planResult{plan: p})
	env.Gen.mu.Unlock()
	snap, err := env.Engine.GeneratePlan(env.Ctx, "u1", input)
	require.NoError(t, err)
	return snap
}

func TestGeneratePlanDerivesPhaseStatuses(t *testing.T) {
	env := newTestEnv(t)
	snap := env.plan(t, twoTaskPlan())
	assert.Equal(t, engine.StatusPlanned, snap.Status)
	require.NotNil(t, snap.Plan)
	assert.Equal(t, domain.PhaseActive, snap.Plan.Phases[0].Status)
	assert.Equal(t, domain.PhaseUpcoming, snap.Plan.Phases[1].Status)
	assert.Equal(t, "Discovery", snap.CurrentPhase)
	assert.Equal(t, input, snap.Input)

	acts := env.Engine.Activity("u1", 0)
	require.Len(t, acts, 1)
	assert.Equal(t, collab.ActivityTaskCreated, acts[0].Type)
}

func TestGeneratePlanValidatesBeforeCalling(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GeneratePlan(env.Ctx, "u1", domain.ProductInput{Name: "x"})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, engine.StatusEmpty, env.Engine.Snapshot("u1").Status)
}

func TestRegeneratingClearsReport(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	env.Gen.report = domain.Report{StatusSummary: "ok"}
	snap, err := env.Engine.GenerateReport(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReported, snap.Status)
	require.NotNil(t, snap.Report)

	snap = env.plan(t, twoTaskPlan())
	assert.Nil(t, snap.Report)
	assert.Equal(t, engine.StatusPlanned, snap.Status)
}

func TestFailedGenerationRestoresStatus(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	env.Gen.plans = append(env.Gen.plans, planResult{err: &llm.UpstreamError{Status: 500, Message: "boom"}})
	_, err := env.Engine.GeneratePlan(env.Ctx, "u1", input)
	var ue *llm.UpstreamError
	require.True(t, errors.As(err, &ue))
	snap := env.Engine.Snapshot("u1")
	assert.Equal(t, engine.StatusPlanned, snap.Status)
	require.NotNil(t, snap.Plan)

	env.Gen.rerr = &llm.NetworkError{Op: "chat", Err: errors.New("down")}
	_, err = env.Engine.GenerateReport(env.Ctx, "u1")
	require.Error(t, err)
	assert.Equal(t, engine.StatusPlanned, env.Engine.Snapshot("u1").Status)
}

func TestReportRequiresPlan(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GenerateReport(env.Ctx, "u1")
	require.ErrorIs(t, err, engine.ErrNoPlan)
	require.ErrorIs(t, env.Engine.SendStatus(env.Ctx, "u1"), engine.ErrNoReport)
}

func TestStalePlanResponseIsDiscarded(t *testing.T) {
	env := newTestEnv(t)
	env.Gen.gate = make(chan planResult)
	env.Gen.started = make(chan struct{})

	type outcome struct {
		snap engine.Snapshot
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		snap, err := env.Engine.GeneratePlan(env.Ctx, "u1", input)
		first <- outcome{snap, err}
	}()
	<-env.Gen.started
	assert.Equal(t, engine.StatusGenerating, env.Engine.Snapshot("u1").Status)

	newer := samplePlan(domain.Task{ID: "9", Phase: "Design", Task: "Newer", Status: domain.TaskNotStarted})
	snap := env.plan(t, newer)
	assert.Equal(t, "Newer", snap.Plan.Tasks[0].Task)

	env.Gen.gate <- planResult{plan: twoTaskPlan()}
	res := <-first
	require.ErrorIs(t, res.err, engine.ErrStaleResponse)
	cur := env.Engine.Snapshot("u1")
	require.Len(t, cur.Plan.Tasks, 1)
	assert.Equal(t, "Newer", cur.Plan.Tasks[0].Task)
}

func TestSignOutDiscardsInFlightReport(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	env.Gen.mu.Lock()
	env.Gen.rgate = make(chan struct{})
	env.Gen.started = make(chan struct{})
	env.Gen.report = domain.Report{StatusSummary: "late"}
	env.Gen.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := env.Engine.GenerateReport(env.Ctx, "u1")
		done <- err
	}()
	<-env.Gen.started
	assert.Equal(t, engine.StatusReportPending, env.Engine.Snapshot("u1").Status)

	env.Engine.SignOut(env.Ctx, "u1")
	close(env.Gen.rgate)
	require.ErrorIs(t, <-done, engine.ErrStaleResponse)

	snap := env.Engine.Snapshot("u1")
	assert.Equal(t, engine.StatusEmpty, snap.Status)
	assert.Nil(t, snap.Report)
}

func TestReportForReplacedPlanIsDiscarded(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, samplePlan(domain.Task{ID: "1", Phase: "Discovery", Task: "Old", Status: domain.TaskNotStarted}))

	env.Gen.mu.Lock()
	env.Gen.gate = make(chan planResult)
	env.Gen.started = make(chan struct{})
	env.Gen.mu.Unlock()
	planDone := make(chan error, 1)
	go func() {
		_, err := env.Engine.GeneratePlan(env.Ctx, "u1", input)
		planDone <- err
	}()
	<-env.Gen.started

	env.Gen.mu.Lock()
	env.Gen.rgate = make(chan struct{})
	env.Gen.report = domain.Report{StatusSummary: "summary of Old"}
	env.Gen.mu.Unlock()
	reportDone := make(chan error, 1)
	go func() {
		_, err := env.Engine.GenerateReport(env.Ctx, "u1")
		reportDone <- err
	}()
	<-env.Gen.started

	env.Gen.gate <- planResult{plan: samplePlan(domain.Task{ID: "1", Phase: "Discovery", Task: "New", Status: domain.TaskNotStarted})}
	require.NoError(t, <-planDone)
	close(env.Gen.rgate)
	require.ErrorIs(t, <-reportDone, engine.ErrStaleResponse)

	snap := env.Engine.Snapshot("u1")
	assert.Equal(t, engine.StatusPlanned, snap.Status)
	assert.Nil(t, snap.Report)
	assert.Equal(t, "New", snap.Plan.Tasks[0].Task)
}

func TestSetTaskStatusRecordsPhaseCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())

	_, err := env.Engine.SetTaskStatus("u1", "1", "Finished")
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	_, err = env.Engine.SetTaskStatus("u1", "404", domain.TaskDone)
	require.ErrorIs(t, err, engine.ErrTaskNotFound)

	snap, err := env.Engine.SetTaskStatus("u1", "1", domain.TaskDone)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, snap.Plan.Phases[0].Status)
	assert.Equal(t, domain.PhaseActive, snap.Plan.Phases[1].Status)
	assert.Equal(t, 50, snap.Progress.Percent)
	assert.Equal(t, "Design", snap.CurrentPhase)

	acts := env.Engine.Activity("u1", 2)
	require.Len(t, acts, 2)
	assert.Equal(t, collab.ActivityPhaseCompleted, acts[0].Type)
	assert.Equal(t, collab.ActivityStatusChanged, acts[1].Type)
	assert.Equal(t, "1", acts[1].TaskID)
}

func TestAssignmentsThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AssignTask("u1", "1", "m")
	require.ErrorIs(t, err, engine.ErrNoPlan)
	env.plan(t, twoTaskPlan())

	m, err := env.Engine.AddMember("u1", domain.TeamMember{Name: "Ada", Role: "Design"})
	require.NoError(t, err)
	assert.Equal(t, collab.Palette[0], m.Color)

	_, err = env.Engine.AssignTask("u1", "1", "ghost")
	require.ErrorIs(t, err, engine.ErrMemberNotFound)
	_, err = env.Engine.AssignTask("u1", "404", m.ID)
	require.ErrorIs(t, err, engine.ErrTaskNotFound)

	snap, err := env.Engine.AssignTask("u1", "1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, snap.TaskAssignments["1"])
	before := len(env.Engine.Activity("u1", 0))
	_, err = env.Engine.AssignTask("u1", "1", m.ID)
	require.NoError(t, err)
	assert.Len(t, env.Engine.Activity("u1", 0), before)

	snap, err = env.Engine.RemoveMember("u1", m.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.TaskAssignments)
	assert.Empty(t, snap.TeamMembers)
	_, err = env.Engine.RemoveMember("u1", m.ID)
	require.ErrorIs(t, err, engine.ErrMemberNotFound)
}

func TestSendStatusBuildsPayload(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	_, err := env.Engine.SetTaskStatus("u1", "1", domain.TaskDone)
	require.NoError(t, err)
	env.Gen.report = domain.Report{StatusSummary: "Halfway", NextSteps: []string{"ship"}}
	_, err = env.Engine.GenerateReport(env.Ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, env.Engine.SendStatus(env.Ctx, "u1"))
	require.Len(t, env.Notifier.got, 1)
	p := env.Notifier.got[0]
	assert.Equal(t, "Nemora", p.ProductName)
	assert.Equal(t, 50, p.Progress)
	assert.Equal(t, 1, p.DoneTasks)
	assert.Equal(t, 2, p.TotalTasks)
}

func TestSignOutPersistsAndOpenRestores(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	m, err := env.Engine.AddMember("u1", domain.TeamMember{Name: "Ada", Role: "Engineering"})
	require.NoError(t, err)
	_, err = env.Engine.AssignTask("u1", "2", m.ID)
	require.NoError(t, err)
	_, err = env.Engine.SetTaskStatus("u1", "1", domain.TaskInProgress)
	require.NoError(t, err)

	env.Engine.SignOut(env.Ctx, "u1")
	assert.Equal(t, engine.StatusEmpty, env.Engine.Snapshot("u1").Status)

	snap, err := env.Engine.Open(env.Ctx, "u1", "")
	require.NoError(t, err)
	require.NotEmpty(t, snap.ProjectID)
	assert.Equal(t, engine.StatusPlanned, snap.Status)
	assert.Equal(t, domain.TaskInProgress, snap.Plan.Tasks[0].Status)
	assert.Equal(t, []string{m.ID}, snap.TaskAssignments["2"])
	assert.Len(t, env.Engine.Activity("u1", 0), 3)

	// the color cycle resumes after restored members
	next, err := env.Engine.AddMember("u1", domain.TeamMember{Name: "Bob", Role: "Sales"})
	require.NoError(t, err)
	assert.Equal(t, collab.Palette[1], next.Color)

	_, err = env.Engine.Open(env.Ctx, "u2", snap.ProjectID)
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
}

func TestOpenWithoutProjectsStartsEmpty(t *testing.T) {
	env := newTestEnv(t)
	snap, err := env.Engine.Open(env.Ctx, "nobody", "")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusEmpty, snap.Status)
	assert.Empty(t, snap.ProjectID)
}

func TestDeleteOpenProjectResetsSession(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	env.Engine.Flush(env.Ctx, "u1")
	id := env.Engine.Snapshot("u1").ProjectID
	require.NotEmpty(t, id)

	list, err := env.Engine.ListProjects(env.Ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.True(t, errors.As(env.Engine.DeleteProject(env.Ctx, "u2", id), new(auth.ForbiddenError)))
	require.NoError(t, env.Engine.DeleteProject(env.Ctx, "u1", id))
	assert.Equal(t, engine.StatusEmpty, env.Engine.Snapshot("u1").Status)
	_, err = env.Engine.GetProject(env.Ctx, "u1", id)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestNewProjectStartsFresh(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, twoTaskPlan())
	snap := env.Engine.NewProject(env.Ctx, "u1")
	assert.Equal(t, engine.StatusEmpty, snap.Status)
	assert.Nil(t, snap.Plan)

	list, err := env.Engine.ListProjects(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1, "pending edits are saved before reset")
}
