package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"nemora/internal/db"
	"nemora/internal/domain"
	"nemora/internal/engine/auth"
	"nemora/internal/migrate"
	"nemora/internal/repo"
)

func TestProjectOwnershipAndKeys(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	svc := auth.Service{Repo: r}

	id, err := r.SaveProject(ctx, "", "owner", domain.ProjectState{Input: domain.ProductInput{Name: "n", Description: "d"}})
	require.NoError(t, err)

	p, err := svc.Project(ctx, "owner", id)
	require.NoError(t, err)
	require.Equal(t, id, p.ID)

	_, err = svc.Project(ctx, "intruder", id)
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))

	_, err = svc.Project(ctx, "owner", "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)

	u, err := r.EnsureUser(ctx, "a@b.c", "")
	require.NoError(t, err)
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k", UserID: u.ID, KeyHash: repo.HashAPIKey("nem_secret")}))

	uid, err := svc.UserForAPIKey(ctx, "nem_secret")
	require.NoError(t, err)
	require.Equal(t, u.ID, uid)

	_, err = svc.UserForAPIKey(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrInvalidAPIKey)
	_, err = svc.UserForAPIKey(ctx, " ")
	require.ErrorIs(t, err, auth.ErrInvalidAPIKey)
}
