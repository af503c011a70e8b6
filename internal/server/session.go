package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"nemora/internal/domain"
	"nemora/internal/engine"
	"nemora/internal/render"
)

type snapshotOutput struct {
	Body engine.Snapshot `json:"body"`
}

func snapshotResult(s engine.Snapshot, err error) (*snapshotOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &snapshotOutput{Body: s}, nil
}

type assigneePath struct {
	TaskID   string `path:"task_id"`
	MemberID string `path:"member_id"`
}

var sessionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
}

// registerSession adds the per-user session routes. Every handler acts on
// the caller's own session.
func registerSession(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current session snapshot",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &snapshotOutput{Body: e.Snapshot(userID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-project",
		Method:      http.MethodPost,
		Path:        "/session/open",
		Summary:     "Open a saved project, or the latest one when no id is given",
		Tags:        []string{"session"},
		Errors:      append(sessionErrors, http.StatusForbidden),
	}, func(ctx context.Context, input *struct {
		Body OpenSessionRequest `json:"body" required:"false"`
	}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.Open(ctx, userID, input.Body.ProjectID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "new-project",
		Method:      http.MethodPost,
		Path:        "/session/new",
		Summary:     "Save pending edits and start an empty project",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &snapshotOutput{Body: e.NewProject(ctx, userID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-generate-plan",
		Method:      http.MethodPost,
		Path:        "/session/plan",
		Summary:     "Generate a lifecycle plan into the session",
		Tags:        []string{"session"},
		Errors:      append(sessionErrors, generateErrors...),
	}, func(ctx context.Context, input *struct {
		Body ProductInputRequest `json:"body"`
	}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.GeneratePlan(ctx, userID, input.Body.input()))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-update-task",
		Method:      http.MethodPatch,
		Path:        "/session/tasks/{task_id}",
		Summary:     "Change a task's status",
		Tags:        []string{"session"},
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.SetTaskStatus(userID, input.TaskID, input.Body.Status))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-generate-report",
		Method:      http.MethodPost,
		Path:        "/session/report",
		Summary:     "Generate an executive status report for the session plan",
		Tags:        []string{"session"},
		Errors:      append(sessionErrors, generateErrors...),
	}, func(ctx context.Context, _ *struct{}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.GenerateReport(ctx, userID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-send-slack",
		Method:      http.MethodPost,
		Path:        "/session/slack",
		Summary:     "Post the session report to Slack",
		Tags:        []string{"session"},
		Errors:      append(sessionErrors, http.StatusInternalServerError, http.StatusBadGateway),
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SendStatus(ctx, userID); err != nil {
			return nil, slackError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true, Message: "Notification sent to Slack"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "session-add-member",
		Method:        http.MethodPost,
		Path:          "/session/members",
		Summary:       "Add a team member",
		Tags:          []string{"session"},
		DefaultStatus: http.StatusCreated,
		Errors:        sessionErrors,
	}, func(ctx context.Context, input *struct {
		Body AddMemberRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddMember(userID, domain.TeamMember{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			Email:      input.Body.Email,
			Role:       input.Body.Role,
			Department: input.Body.Department,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-remove-member",
		Method:      http.MethodDelete,
		Path:        "/session/members/{member_id}",
		Summary:     "Remove a team member and their assignments",
		Tags:        []string{"session"},
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *struct {
		MemberID string `path:"member_id"`
	}) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.RemoveMember(userID, input.MemberID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-assign-task",
		Method:      http.MethodPut,
		Path:        "/session/tasks/{task_id}/assignees/{member_id}",
		Summary:     "Assign a member to a task",
		Tags:        []string{"session"},
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *assigneePath) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.AssignTask(userID, input.TaskID, input.MemberID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-unassign-task",
		Method:      http.MethodDelete,
		Path:        "/session/tasks/{task_id}/assignees/{member_id}",
		Summary:     "Remove a member from a task",
		Tags:        []string{"session"},
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *assigneePath) (*snapshotOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return snapshotResult(e.UnassignTask(userID, input.TaskID, input.MemberID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-activity",
		Method:      http.MethodGet,
		Path:        "/session/activity",
		Summary:     "Recent activity, newest first",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"50"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items := e.Activity(userID, input.Limit)
		if items == nil {
			items = []domain.Activity{}
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-export-report",
		Method:      http.MethodGet,
		Path:        "/session/report/export",
		Summary:     "Export the session report as Markdown or HTML",
		Tags:        []string{"session"},
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *struct {
		Format string `query:"format" enum:"md,html" default:"md"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap := e.Snapshot(userID)
		if snap.Plan == nil {
			return nil, handleError(engine.ErrNoPlan)
		}
		doc, err := render.Render(input.Format, snap.Input.Name, *snap.Plan, snap.Report)
		if err != nil {
			return nil, handleError(err)
		}
		contentType := "text/markdown; charset=utf-8"
		if input.Format == render.FormatHTML {
			contentType = "text/html; charset=utf-8"
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: contentType, Body: []byte(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "session-signout",
		Method:        http.MethodPost,
		Path:          "/session/signout",
		Summary:       "Save pending edits and end the session",
		Tags:          []string{"session"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e.SignOut(ctx, userID)
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List the caller's projects, most recently updated first",
		Tags:        []string{"projects"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectSummaryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectSummaryResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get a saved project",
		Tags:        []string{"projects"},
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete a saved project",
		Tags:          []string{"projects"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, userID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
