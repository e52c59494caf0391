package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/internal/store"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint breach.
const uniqueViolation = "23505"

// UserStoreImpl is the PostgreSQL implementation of [store.UserStore].
type UserStoreImpl struct {
	pool *pgxpool.Pool
}

// CreateUser inserts a new account. A zero ID or CreatedAt is filled in
// before the insert. Returns [store.ErrEmailTaken] when the email is already
// registered.
func (s *UserStoreImpl) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO users (id, email, password_hash, display_name, created_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrEmailTaken
		}
		return fmt.Errorf("user store: create user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the account registered under email, or [store.ErrNotFound].
func (s *UserStoreImpl) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	const q = `
SELECT id, email, password_hash, display_name, created_at
FROM   users
WHERE  email = $1`

	return s.queryOne(ctx, q, email)
}

// GetUserByID returns the account with the given ID, or [store.ErrNotFound].
func (s *UserStoreImpl) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	const q = `
SELECT id, email, password_hash, display_name, created_at
FROM   users
WHERE  id = $1`

	return s.queryOne(ctx, q, id)
}

func (s *UserStoreImpl) queryOne(ctx context.Context, q string, arg any) (*store.User, error) {
	var u store.User
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.DisplayName,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user store: get user: %w", err)
	}
	return &u, nil
}
