// Package progress derives completion figures from task statuses. Everything
// here is pure; callers recompute on every task change instead of storing
// the results.
package progress

import "nemora/internal/domain"

type Summary struct {
	DoneTasks       int `json:"doneTasks"`
	InProgressTasks int `json:"inProgressTasks"`
	TotalTasks      int `json:"totalTasks"`
	Percent         int `json:"percent"`
}

type PhaseStats struct {
	Completed       int  `json:"completed"`
	Total           int  `json:"total"`
	Percent         int  `json:"percent"`
	HasInProgress   bool `json:"hasInProgress"`
	IsFullyComplete bool `json:"isFullyComplete"`
	IsEmpty         bool `json:"isEmpty"`
}

// Percent returns round(100*done/total), half up, and 0 when total is 0.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	return (200*done + total) / (2 * total)
}

func Project(tasks []domain.Task) Summary {
	s := Summary{TotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskDone:
			s.DoneTasks++
		case domain.TaskInProgress:
			s.InProgressTasks++
		}
	}
	s.Percent = Percent(s.DoneTasks, s.TotalTasks)
	return s
}

func Phase(tasks []domain.Task, name string) PhaseStats {
	var st PhaseStats
	inProgress := 0
	for _, t := range tasks {
		if t.Phase != name {
			continue
		}
		st.Total++
		switch t.Status {
		case domain.TaskDone:
			st.Completed++
		case domain.TaskInProgress:
			inProgress++
		}
	}
	st.Percent = Percent(st.Completed, st.Total)
	st.HasInProgress = inProgress > 0
	st.IsFullyComplete = st.Total > 0 && st.Completed == st.Total
	st.IsEmpty = st.Total == 0
	return st
}

// CurrentPhase is the first phase with open tasks. When every phase with
// tasks is done it is the last such phase, and when no phase has tasks it is
// the first phase. An empty phase list yields "".
func CurrentPhase(phases []domain.Phase, tasks []domain.Task) string {
	if len(phases) == 0 {
		return ""
	}
	for _, p := range phases {
		st := Phase(tasks, p.Name)
		if !st.IsEmpty && !st.IsFullyComplete {
			return p.Name
		}
	}
	for i := len(phases) - 1; i >= 0; i-- {
		if Phase(tasks, phases[i].Name).Total > 0 {
			return phases[i].Name
		}
	}
	return phases[0].Name
}

// DerivePhaseStatuses returns a copy of phases whose status reflects task
// completion; any status already on the phases is ignored.
func DerivePhaseStatuses(phases []domain.Phase, tasks []domain.Task) []domain.Phase {
	current := CurrentPhase(phases, tasks)
	out := make([]domain.Phase, len(phases))
	for i, p := range phases {
		out[i] = p
		switch {
		case Phase(tasks, p.Name).IsFullyComplete:
			out[i].Status = domain.PhaseCompleted
		case p.Name == current:
			out[i].Status = domain.PhaseActive
		default:
			out[i].Status = domain.PhaseUpcoming
		}
	}
	return out
}

// Groups splits phases into the active-or-completed set and the completed set
// by name, in list order.
func Groups(phases []domain.Phase) (activeOrCompleted, completed []string) {
	for _, p := range phases {
		switch p.Status {
		case domain.PhaseCompleted:
			completed = append(completed, p.Name)
			activeOrCompleted = append(activeOrCompleted, p.Name)
		case domain.PhaseActive:
			activeOrCompleted = append(activeOrCompleted, p.Name)
		}
	}
	return activeOrCompleted, completed
}
