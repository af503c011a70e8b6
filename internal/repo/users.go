package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"nemora/internal/domain"
)

const userColumns = `id, email, COALESCE(display_name,''), created_at`

// InsertUser creates a user, generating an id when none is given.
func (r Repo) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return domain.User{}, errors.New("email required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt == "" {
		u.CreatedAt = r.now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id, email, display_name, created_at) VALUES (?,?,?,?)`,
		u.ID, u.Email, nullable(u.DisplayName), u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r Repo) scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))))
}

// EnsureUser returns the user with email, creating it on first sight.
func (r Repo) EnsureUser(ctx context.Context, email, displayName string) (domain.User, error) {
	u, err := r.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.User{}, err
	}
	return r.InsertUser(ctx, domain.User{Email: email, DisplayName: displayName})
}
