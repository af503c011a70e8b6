package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidationError reports bad user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SchemaError reports a model reply that parsed as JSON but does not have the
// expected shape. It never carries the raw reply.
type SchemaError struct {
	Missing []string
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return "invalid response structure: missing " + strings.Join(e.Missing, ", ")
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid response structure: %s %s", e.Field, e.Reason)
	}
	return "invalid response structure: " + e.Reason
}

// Validate checks the fields required before any generation call.
func (in ProductInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "Product name is required"}
	}
	if strings.TrimSpace(in.Description) == "" {
		return &ValidationError{Field: "description", Message: "Description is required"}
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("Description must be at most %d characters", MaxDescriptionLength),
		}
	}
	return nil
}

// TimelineLabel normalizes the timeline for prompts: blank means six months
// and a bare number is read as months.
func (in ProductInput) TimelineLabel() string {
	t := strings.TrimSpace(in.Timeline)
	if t == "" {
		return "6 months"
	}
	if _, err := strconv.ParseFloat(t, 64); err == nil {
		if t == "1" {
			return "1 month"
		}
		return t + " months"
	}
	return t
}

// TargetUsersLabel falls back to a generic audience.
func (in ProductInput) TargetUsersLabel() string {
	if t := strings.TrimSpace(in.TargetUsers); t != "" {
		return t
	}
	return "General users"
}

// ValidTaskStatus reports whether s is one of the task statuses.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskNotStarted, TaskInProgress, TaskDone:
		return true
	}
	return false
}

func requireKeys(raw map[string]json.RawMessage, keys ...string) error {
	var missing []string
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || isNull(v) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func decodeField(raw map[string]json.RawMessage, key string, out any) error {
	if err := json.Unmarshal(raw[key], out); err != nil {
		return &SchemaError{Field: key, Reason: "has the wrong type"}
	}
	return nil
}

// wireTask is a task as the model sends it. Models often number ids.
type wireTask struct {
	ID       json.RawMessage `json:"id"`
	Phase    string          `json:"phase"`
	Task     string          `json:"task"`
	Priority string          `json:"priority"`
	Status   string          `json:"status"`
}

func (t wireTask) id() (string, error) {
	if len(t.ID) == 0 || isNull(t.ID) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(t.ID, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(t.ID, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// DecodePlan validates a model reply against the plan schema and returns the
// normalized plan.
func DecodePlan(data []byte) (Plan, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Plan{}, &SchemaError{Reason: "expected a JSON object"}
	}
	if err := requireKeys(raw, "phases", "tasks", "risks", "kpis"); err != nil {
		return Plan{}, err
	}
	var p Plan
	if err := decodeField(raw, "phases", &p.Phases); err != nil {
		return Plan{}, err
	}
	var tasks []wireTask
	if err := decodeField(raw, "tasks", &tasks); err != nil {
		return Plan{}, err
	}
	p.Tasks = make([]Task, 0, len(tasks))
	for i, wt := range tasks {
		id, err := wt.id()
		if err != nil {
			return Plan{}, &SchemaError{Field: fmt.Sprintf("tasks[%d].id", i), Reason: "has the wrong type"}
		}
		p.Tasks = append(p.Tasks, Task{ID: id, Phase: wt.Phase, Task: wt.Task, Priority: wt.Priority, Status: wt.Status})
	}
	if err := decodeField(raw, "risks", &p.Risks); err != nil {
		return Plan{}, err
	}
	if err := decodeField(raw, "kpis", &p.KPIs); err != nil {
		return Plan{}, err
	}
	if err := normalizePlan(&p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func normalizePlan(p *Plan) error {
	names := make(map[string]string, len(p.Phases))
	for i := range p.Phases {
		ph := &p.Phases[i]
		ph.Name = strings.TrimSpace(ph.Name)
		if ph.Name == "" {
			return &SchemaError{Field: fmt.Sprintf("phases[%d].name", i), Reason: "is empty"}
		}
		key := strings.ToLower(ph.Name)
		if _, dup := names[key]; dup {
			return &SchemaError{Field: fmt.Sprintf("phases[%d].name", i), Reason: "is duplicated"}
		}
		names[key] = ph.Name
		switch ph.Status {
		case PhaseActive, PhaseUpcoming, PhaseCompleted:
		default:
			ph.Status = PhaseUpcoming
		}
	}
	seen := make(map[string]struct{}, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			t.ID = strconv.Itoa(i + 1)
		}
		if _, dup := seen[t.ID]; dup {
			return &SchemaError{Field: fmt.Sprintf("tasks[%d].id", i), Reason: "is duplicated"}
		}
		seen[t.ID] = struct{}{}
		phase, ok := names[strings.ToLower(strings.TrimSpace(t.Phase))]
		if !ok {
			return &SchemaError{Field: fmt.Sprintf("tasks[%d].phase", i), Reason: "references an unknown phase"}
		}
		t.Phase = phase
		t.Priority = normalizePriority(t.Priority)
		t.Status = normalizeTaskStatus(t.Status)
	}
	if p.Risks == nil {
		p.Risks = []string{}
	}
	if p.KPIs == nil {
		p.KPIs = []string{}
	}
	return nil
}

func normalizePriority(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case PriorityP0:
		return PriorityP0
	case PriorityP2:
		return PriorityP2
	default:
		return PriorityP1
	}
}

func normalizeTaskStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done":
		return TaskDone
	case "in progress", "in-progress":
		return TaskInProgress
	default:
		return TaskNotStarted
	}
}

// DecodeReport validates a model reply against the report schema.
func DecodeReport(data []byte) (Report, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Report{}, &SchemaError{Reason: "expected a JSON object"}
	}
	if err := requireKeys(raw, "statusSummary", "nextSteps", "launchChecklist"); err != nil {
		return Report{}, err
	}
	var r Report
	if err := decodeField(raw, "statusSummary", &r.StatusSummary); err != nil {
		return Report{}, err
	}
	if strings.TrimSpace(r.StatusSummary) == "" {
		return Report{}, &SchemaError{Missing: []string{"statusSummary"}}
	}
	if err := decodeField(raw, "nextSteps", &r.NextSteps); err != nil {
		return Report{}, err
	}
	if err := decodeField(raw, "launchChecklist", &r.LaunchChecklist); err != nil {
		return Report{}, err
	}
	for i := range r.LaunchChecklist {
		switch r.LaunchChecklist[i].Status {
		case ChecklistComplete, ChecklistInProgress, ChecklistPending:
		default:
			r.LaunchChecklist[i].Status = ChecklistPending
		}
	}
	return r, nil
}
