// Package events appends project activity to the store.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nemora/internal/domain"
)

// DefaultKeep is how many entries a project retains.
const DefaultKeep = 50

type Writer struct {
	DB   *sql.DB
	Now  func() time.Time
	Keep int
}

// Append stores entries oldest first and prunes the project's log to Keep
// rows. A nil tx runs in a transaction of its own.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, projectID string, entries ...domain.Activity) error {
	if len(entries) == 0 {
		return nil
	}
	if tx == nil {
		own, err := w.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer own.Rollback()
		if err := w.Append(ctx, own, projectID, entries...); err != nil {
			return err
		}
		return own.Commit()
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	keep := w.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}
	for _, a := range entries {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Timestamp == "" {
			a.Timestamp = w.Now().UTC().Format(time.RFC3339)
		}
		var meta any
		if len(a.Metadata) > 0 {
			data, err := json.Marshal(a.Metadata)
			if err != nil {
				return fmt.Errorf("marshal activity metadata: %w", err)
			}
			meta = string(data)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO activities(id,project_id,type,user_id,content,task_id,metadata_json,ts) VALUES (?,?,?,?,?,?,?,?)`,
			a.ID, projectID, a.Type, a.UserID, a.Content, nullable(a.TaskID), meta, a.Timestamp)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE project_id=? AND seq NOT IN (SELECT seq FROM activities WHERE project_id=? ORDER BY seq DESC LIMIT ?)`,
		projectID, projectID, keep)
	if err != nil {
		return fmt.Errorf("prune activities: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
