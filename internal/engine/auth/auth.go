// Package auth resolves callers and checks project ownership.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nemora/internal/domain"
	"nemora/internal/repo"
)

// ForbiddenError indicates the caller does not own the resource.
type ForbiddenError struct {
	Resource string
	ID       string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s %s belongs to another user", e.Resource, e.ID)
}

// ErrInvalidAPIKey is returned for unknown or blank keys.
var ErrInvalidAPIKey = errors.New("invalid api key")

type Service struct {
	Repo repo.Repo
}

// Project loads a project and checks that userID owns it.
func (s Service) Project(ctx context.Context, userID, projectID string) (domain.Project, error) {
	p, err := s.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.UserID != userID {
		return domain.Project{}, ForbiddenError{Resource: "project", ID: projectID}
	}
	return p, nil
}

// UserForAPIKey maps a presented key to its owner.
func (s Service) UserForAPIKey(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrInvalidAPIKey
	}
	k, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrInvalidAPIKey
	}
	if err != nil {
		return "", err
	}
	return k.UserID, nil
}
