// Package engine holds one project session per signed-in user and applies
// every mutation to it: plan and report generation, task status changes and
// the collaboration overlay. Changes are persisted by a debounced autosave.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nemora/internal/autosave"
	"nemora/internal/collab"
	"nemora/internal/domain"
	"nemora/internal/engine/auth"
	"nemora/internal/events"
	"nemora/internal/llm"
	"nemora/internal/notify"
	"nemora/internal/progress"
	"nemora/internal/repo"
)

var (
	ErrNoPlan         = errors.New("no lifecycle plan has been generated")
	ErrNoReport       = errors.New("no status report has been generated")
	ErrStaleResponse  = errors.New("response discarded: the session changed while it was in flight")
	ErrTaskNotFound   = errors.New("task not found")
	ErrMemberNotFound = errors.New("team member not found")
)

type Status string

const (
	StatusEmpty         Status = "empty"
	StatusGenerating    Status = "generating"
	StatusPlanned       Status = "planned"
	StatusReportPending Status = "report_pending"
	StatusReported      Status = "reported"
)

// Generator produces plans and reports; copilot.Gateway is the production
// implementation.
type Generator interface {
	GenerateLifecyclePlan(ctx context.Context, in domain.ProductInput) (domain.Plan, error)
	GenerateStatusReport(ctx context.Context, plan domain.Plan, in domain.ProductInput) (domain.Report, error)
}

type Options struct {
	Generator     Generator
	Notifier      notify.Notifier
	AutosaveQuiet time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Generator Generator
	Notifier  notify.Notifier
	Log       *zap.Logger
	Now       func() time.Time

	autosave *autosave.Debouncer
	mu       sync.Mutex
	sessions map[string]*session
	// epochs outlive sessions so a response started before a sign out or
	// project switch can never match a later session.
	epochs map[string]uint64
}

func New(db *sql.DB, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := repo.Repo{DB: db, Now: now}
	e := &Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db, Now: now},
		Auth:      auth.Service{Repo: r},
		Generator: opts.Generator,
		Notifier:  opts.Notifier,
		Log:       log,
		Now:       now,
		sessions:  map[string]*session{},
		epochs:    map[string]uint64{},
	}
	e.autosave = autosave.New(opts.AutosaveQuiet, e.save, log.Named("autosave"))
	return e
}

// Close flushes pending saves.
func (e *Engine) Close(ctx context.Context) {
	e.autosave.Stop(ctx)
}

type session struct {
	userID    string
	projectID string
	input     domain.ProductInput
	plan      *domain.Plan
	report    *domain.Report
	overlay   *collab.Overlay
	activity  *collab.ActivityLog
	unsaved   []domain.Activity
	status    Status
	epoch     uint64
	reportSeq uint64
	// saveMu serializes saves so a new project is inserted only once.
	saveMu sync.Mutex
}

func (s *session) settled() Status {
	switch {
	case s.report != nil:
		return StatusReported
	case s.plan != nil:
		return StatusPlanned
	default:
		return StatusEmpty
	}
}

func (s *session) record(kind, content, taskID string, meta map[string]any) {
	a := s.activity.Record(kind, s.userID, content, taskID, meta)
	s.unsaved = append(s.unsaved, a)
}

// newSessionLocked replaces the user's session and bumps the epoch. e.mu must
// be held.
func (e *Engine) newSessionLocked(userID string) *session {
	e.epochs[userID]++
	s := &session{
		userID:   userID,
		overlay:  collab.New(nil, nil),
		activity: collab.NewActivityLog(e.Now),
		status:   StatusEmpty,
		epoch:    e.epochs[userID],
	}
	e.sessions[userID] = s
	return s
}

func (e *Engine) sessionLocked(userID string) *session {
	if s, ok := e.sessions[userID]; ok {
		return s
	}
	return e.newSessionLocked(userID)
}

// current reports whether s is still the user's session at epoch.
func (e *Engine) currentLocked(s *session, epoch uint64) bool {
	return e.sessions[s.userID] == s && s.epoch == epoch
}

// Snapshot is a deep copy of a session with derived progress.
type Snapshot struct {
	ProjectID       string              `json:"projectId,omitempty"`
	Status          Status              `json:"status" enum:"empty,generating,planned,report_pending,reported"`
	Epoch           uint64              `json:"epoch"`
	Input           domain.ProductInput `json:"productInput"`
	Plan            *domain.Plan        `json:"lifecycleData,omitempty"`
	Report          *domain.Report      `json:"reportData,omitempty"`
	TeamMembers     []domain.TeamMember `json:"teamMembers"`
	TaskAssignments map[string][]string `json:"taskAssignments"`
	Progress        progress.Summary    `json:"progress"`
	CurrentPhase    string              `json:"currentPhase,omitempty"`
}

func (s *session) snapshot() Snapshot {
	members, assignments := s.overlay.Snapshot()
	snap := Snapshot{
		ProjectID:       s.projectID,
		Status:          s.status,
		Epoch:           s.epoch,
		Input:           s.input,
		TeamMembers:     members,
		TaskAssignments: assignments,
	}
	if s.plan != nil {
		p := s.plan.Clone()
		snap.Plan = &p
		snap.Progress = progress.Project(p.Tasks)
		snap.CurrentPhase = progress.CurrentPhase(p.Phases, p.Tasks)
	}
	if s.report != nil {
		r := s.report.Clone()
		snap.Report = &r
	}
	return snap
}

func (s *session) state() domain.ProjectState {
	st := domain.ProjectState{Input: s.input}
	st.TeamMembers, st.TaskAssignments = s.overlay.Snapshot()
	if s.plan != nil {
		p := s.plan.Clone()
		st.Plan = &p
	}
	if s.report != nil {
		r := s.report.Clone()
		st.Report = &r
	}
	return st
}

func (e *Engine) Snapshot(userID string) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionLocked(userID).snapshot()
}

// Activity lists the session's activity, newest first.
func (e *Engine) Activity(userID string, limit int) []domain.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionLocked(userID).activity.List(limit)
}

// GeneratePlan replaces the session plan with a freshly generated one. A
// response that resolves after a newer request, a project switch or a sign
// out is dropped with ErrStaleResponse.
func (e *Engine) GeneratePlan(ctx context.Context, userID string, in domain.ProductInput) (Snapshot, error) {
	if err := in.Validate(); err != nil {
		return Snapshot{}, err
	}
	if e.Generator == nil {
		return Snapshot{}, &llm.ConfigurationError{Setting: llm.DefaultKeySetting}
	}
	e.mu.Lock()
	s := e.sessionLocked(userID)
	e.epochs[userID]++
	s.epoch = e.epochs[userID]
	token := s.epoch
	s.status = StatusGenerating
	e.mu.Unlock()

	plan, err := e.Generator.GenerateLifecyclePlan(ctx, in)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(s, token) {
		e.Log.Info("discarding stale plan response", zap.String("user", userID), zap.Uint64("epoch", token))
		return Snapshot{}, ErrStaleResponse
	}
	if err != nil {
		s.status = s.settled()
		return Snapshot{}, err
	}
	plan.Phases = progress.DerivePhaseStatuses(plan.Phases, plan.Tasks)
	s.plan = &plan
	s.report = nil
	// Reports still in flight were built from the replaced plan.
	s.reportSeq++
	s.input = in
	s.overlay.Prune(plan)
	s.status = StatusPlanned
	s.record(collab.ActivityTaskCreated,
		fmt.Sprintf("Generated lifecycle plan for %s with %d tasks", in.Name, len(plan.Tasks)), "",
		map[string]any{"phases": len(plan.Phases), "tasks": len(plan.Tasks)})
	e.autosave.Touch(userID)
	return s.snapshot(), nil
}

// GenerateReport produces a status report for the current plan.
func (e *Engine) GenerateReport(ctx context.Context, userID string) (Snapshot, error) {
	if e.Generator == nil {
		return Snapshot{}, &llm.ConfigurationError{Setting: llm.DefaultKeySetting}
	}
	e.mu.Lock()
	s := e.sessionLocked(userID)
	if s.plan == nil {
		e.mu.Unlock()
		return Snapshot{}, ErrNoPlan
	}
	token := s.epoch
	s.reportSeq++
	seq := s.reportSeq
	plan := s.plan.Clone()
	in := s.input
	s.status = StatusReportPending
	e.mu.Unlock()

	report, err := e.Generator.GenerateStatusReport(ctx, plan, in)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(s, token) || s.reportSeq != seq {
		e.Log.Info("discarding stale report response", zap.String("user", userID), zap.Uint64("epoch", token))
		return Snapshot{}, ErrStaleResponse
	}
	if err != nil {
		s.status = s.settled()
		return Snapshot{}, err
	}
	s.report = &report
	s.status = StatusReported
	s.record(collab.ActivityStatusChanged, "Generated executive status report", "", nil)
	e.autosave.Touch(userID)
	return s.snapshot(), nil
}

// SetTaskStatus changes one task's status and re-derives phase statuses.
func (e *Engine) SetTaskStatus(userID, taskID, status string) (Snapshot, error) {
	if !domain.ValidTaskStatus(status) {
		return Snapshot{}, &domain.ValidationError{Field: "status", Message: "Unknown task status " + status}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessionLocked(userID)
	if s.plan == nil {
		return Snapshot{}, ErrNoPlan
	}
	idx := s.plan.TaskIndex(taskID)
	if idx < 0 {
		return Snapshot{}, ErrTaskNotFound
	}
	task := &s.plan.Tasks[idx]
	if task.Status == status {
		return s.snapshot(), nil
	}
	from := task.Status
	wasComplete := progress.Phase(s.plan.Tasks, task.Phase).IsFullyComplete
	task.Status = status
	s.plan.Phases = progress.DerivePhaseStatuses(s.plan.Phases, s.plan.Tasks)
	s.record(collab.ActivityStatusChanged,
		fmt.Sprintf("Moved %q from %s to %s", task.Task, from, status), taskID,
		map[string]any{"from": from, "to": status})
	if !wasComplete && progress.Phase(s.plan.Tasks, task.Phase).IsFullyComplete {
		s.record(collab.ActivityPhaseCompleted, fmt.Sprintf("Completed the %s phase", task.Phase), "",
			map[string]any{"phase": task.Phase})
	}
	e.autosave.Touch(userID)
	return s.snapshot(), nil
}

func (e *Engine) AddMember(userID string, m domain.TeamMember) (domain.TeamMember, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessionLocked(userID)
	added, err := s.overlay.AddMember(m)
	if err != nil {
		return domain.TeamMember{}, err
	}
	e.autosave.Touch(userID)
	return added, nil
}

// RemoveMember drops the member and all of their assignments.
func (e *Engine) RemoveMember(userID, memberID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessionLocked(userID)
	if !s.overlay.RemoveMember(memberID) {
		return Snapshot{}, ErrMemberNotFound
	}
	e.autosave.Touch(userID)
	return s.snapshot(), nil
}

// AssignTask is idempotent; repeating it records nothing.
func (e *Engine) AssignTask(userID, taskID, memberID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessionLocked(userID)
	if s.plan == nil {
		return Snapshot{}, ErrNoPlan
	}
	idx := s.plan.TaskIndex(taskID)
	if idx < 0 {
		return Snapshot{}, ErrTaskNotFound
	}
	m := s.overlay.Member(memberID)
	if m == nil {
		return Snapshot{}, ErrMemberNotFound
	}
	if s.overlay.Assign(taskID, memberID) {
		s.record(collab.ActivityTaskAssigned,
			fmt.Sprintf("Assigned %s to %q", m.Name, s.plan.Tasks[idx].Task), taskID,
			map[string]any{"memberId": memberID})
		e.autosave.Touch(userID)
	}
	return s.snapshot(), nil
}

func (e *Engine) UnassignTask(userID, taskID, memberID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessionLocked(userID)
	if s.plan == nil {
		return Snapshot{}, ErrNoPlan
	}
	idx := s.plan.TaskIndex(taskID)
	if idx < 0 {
		return Snapshot{}, ErrTaskNotFound
	}
	if s.overlay.Unassign(taskID, memberID) {
		name := memberID
		if m := s.overlay.Member(memberID); m != nil {
			name = m.Name
		}
		s.record(collab.ActivityTaskUpdated,
			fmt.Sprintf("Unassigned %s from %q", name, s.plan.Tasks[idx].Task), taskID,
			map[string]any{"memberId": memberID})
		e.autosave.Touch(userID)
	}
	return s.snapshot(), nil
}

// SendStatus posts the current report to the notifier.
func (e *Engine) SendStatus(ctx context.Context, userID string) error {
	e.mu.Lock()
	s := e.sessionLocked(userID)
	if s.report == nil || s.plan == nil {
		e.mu.Unlock()
		return ErrNoReport
	}
	payload := notify.PayloadFrom(s.input.Name, *s.plan, *s.report)
	e.mu.Unlock()
	if e.Notifier == nil {
		return &llm.ConfigurationError{Setting: notify.WebhookSetting}
	}
	return e.Notifier.PostStatusNotification(ctx, payload)
}

// Open loads a project into the user's session; an empty projectID opens the
// most recently updated one. With no projects the session starts empty.
func (e *Engine) Open(ctx context.Context, userID, projectID string) (Snapshot, error) {
	e.autosave.Flush(ctx, userID)
	var (
		p   domain.Project
		err error
	)
	if projectID == "" {
		p, err = e.Repo.LatestProject(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return e.NewProject(ctx, userID), nil
		}
	} else {
		p, err = e.Auth.Project(ctx, userID, projectID)
	}
	if err != nil {
		return Snapshot{}, err
	}
	history, err := e.Repo.ListActivities(ctx, p.ID, collab.ActivityCapacity)
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.autosave.Cancel(userID)
	s := e.newSessionLocked(userID)
	st := p.State()
	s.projectID = p.ID
	s.input = st.Input
	s.overlay = collab.New(st.TeamMembers, st.TaskAssignments)
	if st.Plan != nil {
		plan := st.Plan.Clone()
		plan.Phases = progress.DerivePhaseStatuses(plan.Phases, plan.Tasks)
		s.plan = &plan
		if st.Report != nil {
			r := st.Report.Clone()
			s.report = &r
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		s.activity.Push(history[i])
	}
	s.status = s.settled()
	e.Log.Info("project opened", zap.String("user", userID), zap.String("project", p.ID))
	return s.snapshot(), nil
}

// NewProject saves pending edits and resets the session to empty.
func (e *Engine) NewProject(ctx context.Context, userID string) Snapshot {
	e.autosave.Flush(ctx, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autosave.Cancel(userID)
	return e.newSessionLocked(userID).snapshot()
}

// SignOut saves pending edits, then forgets the session. In-flight responses
// for it become stale.
func (e *Engine) SignOut(ctx context.Context, userID string) {
	e.autosave.Flush(ctx, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autosave.Cancel(userID)
	delete(e.sessions, userID)
	e.epochs[userID]++
}

// Flush persists pending edits for the user now.
func (e *Engine) Flush(ctx context.Context, userID string) {
	e.autosave.Flush(ctx, userID)
}

func (e *Engine) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, userID)
}

func (e *Engine) GetProject(ctx context.Context, userID, projectID string) (domain.Project, error) {
	return e.Auth.Project(ctx, userID, projectID)
}

// DeleteProject removes an owned project. An open session on it is reset.
func (e *Engine) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := e.Auth.Project(ctx, userID, projectID); err != nil {
		return err
	}
	e.mu.Lock()
	if s, ok := e.sessions[userID]; ok && s.projectID == projectID {
		e.autosave.Cancel(userID)
		e.newSessionLocked(userID)
	}
	e.mu.Unlock()
	return e.Repo.DeleteProject(ctx, projectID)
}

// save is the autosave flush for one user.
func (e *Engine) save(ctx context.Context, userID string) error {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	e.mu.Lock()
	if s.plan == nil && s.input.Name == "" && len(s.overlay.Members) == 0 {
		e.mu.Unlock()
		return nil
	}
	projectID := s.projectID
	state := s.state()
	pending := append([]domain.Activity(nil), s.unsaved...)
	e.mu.Unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	id, err := e.Repo.SaveProjectTx(ctx, tx, projectID, userID, state)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, id, pending...); err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.mu.Lock()
	s.projectID = id
	s.unsaved = s.unsaved[len(pending):]
	e.mu.Unlock()
	return nil
}
