package domain

import "encoding/json"

const (
	TaskNotStarted = "Not started"
	TaskInProgress = "In progress"
	TaskDone       = "Done"

	PhaseActive    = "active"
	PhaseUpcoming  = "upcoming"
	PhaseCompleted = "completed"

	PriorityP0 = "P0"
	PriorityP1 = "P1"
	PriorityP2 = "P2"

	ChecklistComplete   = "complete"
	ChecklistInProgress = "in-progress"
	ChecklistPending    = "pending"
)

// CanonicalPhases is the phase sequence requested from the model.
var CanonicalPhases = []string{"Discovery", "Design", "Build", "Test", "Launch", "Post-launch"}

// MaxDescriptionLength bounds ProductInput.Description in characters.
const MaxDescriptionLength = 500

type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TargetUsers string `json:"targetUsers"`
	Timeline    string `json:"timeline"`
}

type Phase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status" enum:"active,upcoming,completed"`
}

type Task struct {
	ID       string `json:"id"`
	Phase    string `json:"phase"`
	Task     string `json:"task"`
	Priority string `json:"priority" enum:"P0,P1,P2"`
	Status   string `json:"status" enum:"Not started,In progress,Done"`
}

type Plan struct {
	Phases []Phase  `json:"phases"`
	Tasks  []Task   `json:"tasks"`
	Risks  []string `json:"risks"`
	KPIs   []string `json:"kpis"`
}

// MarshalJSON emits empty arrays instead of null so a marshaled plan always
// passes the structural check in DecodePlan.
func (p Plan) MarshalJSON() ([]byte, error) {
	type wire Plan
	w := wire(p)
	if w.Phases == nil {
		w.Phases = []Phase{}
	}
	if w.Tasks == nil {
		w.Tasks = []Task{}
	}
	if w.Risks == nil {
		w.Risks = []string{}
	}
	if w.KPIs == nil {
		w.KPIs = []string{}
	}
	return json.Marshal(w)
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	return Plan{
		Phases: append([]Phase(nil), p.Phases...),
		Tasks:  append([]Task(nil), p.Tasks...),
		Risks:  append([]string(nil), p.Risks...),
		KPIs:   append([]string(nil), p.KPIs...),
	}
}

// TaskIndex returns the position of the task with id, or -1.
func (p Plan) TaskIndex(id string) int {
	for i, t := range p.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

type ChecklistItem struct {
	Item   string `json:"item"`
	Status string `json:"status" enum:"complete,in-progress,pending"`
}

type Report struct {
	StatusSummary   string          `json:"statusSummary"`
	NextSteps       []string        `json:"nextSteps"`
	LaunchChecklist []ChecklistItem `json:"launchChecklist"`
}

func (r Report) Clone() Report {
	return Report{
		StatusSummary:   r.StatusSummary,
		NextSteps:       append([]string(nil), r.NextSteps...),
		LaunchChecklist: append([]ChecklistItem(nil), r.LaunchChecklist...),
	}
}

type TeamMember struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role" enum:"Product Manager,Engineering,Design,Marketing,Sales,Executive"`
	Department string `json:"department" enum:"Product,Engineering,Design,Marketing,Sales,Executive"`
	Color      string `json:"color"`
}

type Activity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type" enum:"task_created,task_updated,task_assigned,comment_added,phase_completed,status_changed"`
	UserID    string         `json:"userId"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp" format:"date-time"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProjectState is the unit the persistence adapter saves and loads.
type ProjectState struct {
	Input           ProductInput
	Plan            *Plan
	Report          *Report
	TeamMembers     []TeamMember
	TaskAssignments map[string][]string
}

// Project is the persisted per-user document.
type Project struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	TargetUsers     string              `json:"targetUsers"`
	Timeline        string              `json:"timeline"`
	Phases          []Phase             `json:"phases"`
	Tasks           []Task              `json:"tasks"`
	Risks           []string            `json:"risks"`
	KPIs            []string            `json:"kpis"`
	TeamMembers     []TeamMember        `json:"teamMembers"`
	TaskAssignments map[string][]string `json:"taskAssignments"`
	ReportData      *Report             `json:"reportData"`
	CreatedAt       string              `json:"createdAt" format:"date-time"`
	UpdatedAt       string              `json:"updatedAt" format:"date-time"`
}

// NewProject flattens a state into a project record.
func NewProject(id, userID string, s ProjectState) Project {
	p := Project{
		ID:              id,
		UserID:          userID,
		Name:            s.Input.Name,
		Description:     s.Input.Description,
		TargetUsers:     s.Input.TargetUsers,
		Timeline:        s.Input.Timeline,
		TeamMembers:     s.TeamMembers,
		TaskAssignments: s.TaskAssignments,
		ReportData:      s.Report,
	}
	if s.Plan != nil {
		p.Phases = s.Plan.Phases
		p.Tasks = s.Plan.Tasks
		p.Risks = s.Plan.Risks
		p.KPIs = s.Plan.KPIs
	}
	return p
}

// State rebuilds the in-memory state from a project record.
func (p Project) State() ProjectState {
	s := ProjectState{
		Input: ProductInput{
			Name:        p.Name,
			Description: p.Description,
			TargetUsers: p.TargetUsers,
			Timeline:    p.Timeline,
		},
		Report:          p.ReportData,
		TeamMembers:     p.TeamMembers,
		TaskAssignments: p.TaskAssignments,
	}
	if len(p.Phases) > 0 || len(p.Tasks) > 0 {
		s.Plan = &Plan{Phases: p.Phases, Tasks: p.Tasks, Risks: p.Risks, KPIs: p.KPIs}
	}
	return s
}

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
