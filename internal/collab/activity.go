package collab

import (
	"time"

	"github.com/google/uuid"

	"nemora/internal/domain"
)

const (
	ActivityTaskCreated    = "task_created"
	ActivityTaskUpdated    = "task_updated"
	ActivityTaskAssigned   = "task_assigned"
	ActivityCommentAdded   = "comment_added"
	ActivityPhaseCompleted = "phase_completed"
	ActivityStatusChanged  = "status_changed"
)

// ActivityCapacity is how many entries a log keeps.
const ActivityCapacity = 50

// ActivityLog keeps the most recent entries, newest first.
type ActivityLog struct {
	entries []domain.Activity
	now     func() time.Time
}

func NewActivityLog(now func() time.Time) *ActivityLog {
	if now == nil {
		now = time.Now
	}
	return &ActivityLog{now: now}
}

// Record prepends an entry, evicting the oldest beyond capacity.
func (l *ActivityLog) Record(kind, userID, content, taskID string, meta map[string]any) domain.Activity {
	a := domain.Activity{
		ID:        uuid.NewString(),
		Type:      kind,
		UserID:    userID,
		Content:   content,
		Timestamp: l.now().UTC().Format(time.RFC3339),
		TaskID:    taskID,
		Metadata:  meta,
	}
	l.Push(a)
	return a
}

// Push inserts an existing entry at the head.
func (l *ActivityLog) Push(a domain.Activity) {
	l.entries = append([]domain.Activity{a}, l.entries...)
	if len(l.entries) > ActivityCapacity {
		l.entries = l.entries[:ActivityCapacity]
	}
}

// List returns up to limit entries, newest first. limit <= 0 means all.
func (l *ActivityLog) List(limit int) []domain.Activity {
	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]domain.Activity{}, l.entries[:n]...)
}

func (l *ActivityLog) Len() int { return len(l.entries) }
