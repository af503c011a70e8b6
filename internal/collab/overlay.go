// Package collab layers team members and task assignments over a plan.
// Membership is not a security boundary; anyone holding the session can
// edit it.
package collab

import (
	"strings"

	"github.com/google/uuid"

	"nemora/internal/domain"
)

// Palette is the fixed avatar color cycle.
var Palette = []string{"blue-500", "purple-500", "green-500", "orange-500", "pink-500", "indigo-500"}

var Roles = []string{"Product Manager", "Engineering", "Design", "Marketing", "Sales", "Executive"}

var Departments = []string{"Product", "Engineering", "Design", "Marketing", "Sales", "Executive"}

var roleDepartment = map[string]string{
	"Product Manager": "Product",
	"Engineering":     "Engineering",
	"Design":          "Design",
	"Marketing":       "Marketing",
	"Sales":           "Sales",
	"Executive":       "Executive",
}

type Overlay struct {
	Members     []domain.TeamMember
	Assignments map[string][]string
	// added counts members ever added and drives color assignment.
	added int
}

// New rebuilds an overlay from persisted members and assignments. The color
// cycle resumes after the restored members.
func New(members []domain.TeamMember, assignments map[string][]string) *Overlay {
	o := &Overlay{
		Members:     append([]domain.TeamMember(nil), members...),
		Assignments: make(map[string][]string, len(assignments)),
		added:       len(members),
	}
	for task, ids := range assignments {
		if len(ids) > 0 {
			o.Assignments[task] = append([]string(nil), ids...)
		}
	}
	return o
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// AddMember validates m, fills in id, department and color, and appends it.
func (o *Overlay) AddMember(m domain.TeamMember) (domain.TeamMember, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	if m.Name == "" {
		return domain.TeamMember{}, &domain.ValidationError{Field: "name", Message: "Member name is required"}
	}
	if m.Role == "" {
		m.Role = "Engineering"
	}
	if !contains(Roles, m.Role) {
		return domain.TeamMember{}, &domain.ValidationError{Field: "role", Message: "Unknown role " + m.Role}
	}
	if m.Department == "" {
		m.Department = roleDepartment[m.Role]
	}
	if !contains(Departments, m.Department) {
		return domain.TeamMember{}, &domain.ValidationError{Field: "department", Message: "Unknown department " + m.Department}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if o.Member(m.ID) != nil {
		return domain.TeamMember{}, &domain.ValidationError{Field: "id", Message: "Member already exists"}
	}
	m.Color = Palette[o.added%len(Palette)]
	o.added++
	o.Members = append(o.Members, m)
	return m, nil
}

func (o *Overlay) Member(id string) *domain.TeamMember {
	for i := range o.Members {
		if o.Members[i].ID == id {
			return &o.Members[i]
		}
	}
	return nil
}

// RemoveMember drops the member and every assignment that references it.
func (o *Overlay) RemoveMember(id string) bool {
	idx := -1
	for i, m := range o.Members {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	o.Members = append(o.Members[:idx], o.Members[idx+1:]...)
	for task := range o.Assignments {
		o.Unassign(task, id)
	}
	return true
}

// Assign adds member to task. It reports whether anything changed; unknown
// members and repeated assignments are no-ops.
func (o *Overlay) Assign(taskID, memberID string) bool {
	if o.Member(memberID) == nil {
		return false
	}
	if contains(o.Assignments[taskID], memberID) {
		return false
	}
	if o.Assignments == nil {
		o.Assignments = map[string][]string{}
	}
	o.Assignments[taskID] = append(o.Assignments[taskID], memberID)
	return true
}

func (o *Overlay) Unassign(taskID, memberID string) bool {
	ids := o.Assignments[taskID]
	for i, id := range ids {
		if id != memberID {
			continue
		}
		ids = append(ids[:i:i], ids[i+1:]...)
		if len(ids) == 0 {
			delete(o.Assignments, taskID)
		} else {
			o.Assignments[taskID] = ids
		}
		return true
	}
	return false
}

// Assignees returns the members assigned to task in assignment order.
func (o *Overlay) Assignees(taskID string) []domain.TeamMember {
	var out []domain.TeamMember
	for _, id := range o.Assignments[taskID] {
		if m := o.Member(id); m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// Prune drops assignments for tasks that are not in plan.
func (o *Overlay) Prune(plan domain.Plan) {
	for task := range o.Assignments {
		if plan.TaskIndex(task) < 0 {
			delete(o.Assignments, task)
		}
	}
}

// Snapshot returns deep copies suitable for persistence.
func (o *Overlay) Snapshot() ([]domain.TeamMember, map[string][]string) {
	members := append([]domain.TeamMember{}, o.Members...)
	assignments := make(map[string][]string, len(o.Assignments))
	for task, ids := range o.Assignments {
		assignments[task] = append([]string(nil), ids...)
	}
	return members, assignments
}
