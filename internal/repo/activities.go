package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"nemora/internal/domain"
)

// ListActivities returns up to limit activity entries of a project, newest
// first.
func (r Repo) ListActivities(ctx context.Context, projectID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,type,user_id,content,COALESCE(task_id,''),metadata_json,ts FROM activities WHERE project_id=? ORDER BY seq DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var meta sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &a.UserID, &a.Content, &a.TaskID, &meta, &a.Timestamp); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity %s metadata: %w", a.ID, err)
			}
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
