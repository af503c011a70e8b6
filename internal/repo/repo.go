package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nemora/internal/domain"
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().UTC().Format(TimeLayout)
}

// document holds the plan, overlay and report of a project as one JSON
// column.
type document struct {
	Phases          []domain.Phase      `json:"phases"`
	Tasks           []domain.Task       `json:"tasks"`
	Risks           []string            `json:"risks"`
	KPIs            []string            `json:"kpis"`
	TeamMembers     []domain.TeamMember `json:"teamMembers"`
	TaskAssignments map[string][]string `json:"taskAssignments"`
	ReportData      *domain.Report      `json:"reportData"`
}

func encodeDocument(p domain.Project) (string, error) {
	data, err := json.Marshal(document{
		Phases:          p.Phases,
		Tasks:           p.Tasks,
		Risks:           p.Risks,
		KPIs:            p.KPIs,
		TeamMembers:     p.TeamMembers,
		TaskAssignments: p.TaskAssignments,
		ReportData:      p.ReportData,
	})
	if err != nil {
		return "", fmt.Errorf("marshal project document: %w", err)
	}
	return string(data), nil
}

const projectColumns = `id,user_id,name,description,COALESCE(target_users,''),COALESCE(timeline,''),document_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var doc string
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.TargetUsers, &p.Timeline, &doc, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	var d document
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return p, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	p.Phases = d.Phases
	p.Tasks = d.Tasks
	p.Risks = d.Risks
	p.KPIs = d.KPIs
	p.TeamMembers = d.TeamMembers
	p.TaskAssignments = d.TaskAssignments
	p.ReportData = d.ReportData
	return p, nil
}

// SaveProject inserts the state as a new project when projectID is empty and
// overwrites the caller's project otherwise. It returns the project id.
func (r Repo) SaveProject(ctx context.Context, projectID, userID string, state domain.ProjectState) (string, error) {
	return r.saveProject(ctx, r.DB, projectID, userID, state)
}

// SaveProjectTx is SaveProject inside tx.
func (r Repo) SaveProjectTx(ctx context.Context, tx *sql.Tx, projectID, userID string, state domain.ProjectState) (string, error) {
	return r.saveProject(ctx, tx, projectID, userID, state)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) saveProject(ctx context.Context, db execer, projectID, userID string, state domain.ProjectState) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user_id required")
	}
	p := domain.NewProject(projectID, userID, state)
	doc, err := encodeDocument(p)
	if err != nil {
		return "", err
	}
	ts := r.now()
	if projectID == "" {
		p.ID = uuid.NewString()
		_, err := db.ExecContext(ctx, `INSERT INTO projects(id,user_id,name,description,target_users,timeline,document_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			p.ID, userID, p.Name, p.Description, nullable(p.TargetUsers), nullable(p.Timeline), doc, ts, ts)
		if err != nil {
			return "", err
		}
		return p.ID, nil
	}
	res, err := db.ExecContext(ctx, `UPDATE projects SET name=?,description=?,target_users=?,timeline=?,document_json=?,updated_at=? WHERE id=? AND user_id=?`,
		p.Name, p.Description, nullable(p.TargetUsers), nullable(p.Timeline), doc, ts, projectID, userID)
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrNotFound
	}
	return projectID, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// LatestProject returns the user's most recently updated project.
func (r Repo) LatestProject(ctx context.Context, userID string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE user_id=? ORDER BY updated_at DESC, id DESC LIMIT 1`, userID))
}

// ListProjects returns the user's projects, most recently updated first.
func (r Repo) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE user_id=? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
