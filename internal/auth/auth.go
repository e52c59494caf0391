// Package auth implements account management and stateless session tokens.
//
// Sessions are signed JWTs (HMAC-SHA256) carrying the account's ID. The
// server keeps no session state: signing out is a client-side discard of the
// token, and the HTTP layer additionally aborts any capture session the
// caller still has open.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/murmurhq/murmur/internal/store"
)

var (
	// ErrInvalidCredentials is returned by SignIn when the email is unknown
	// or the password does not match. The two cases are indistinguishable.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUnauthenticated is returned by Verify for missing, malformed,
	// expired, or tampered tokens.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)

// Identity describes the caller of an authenticated operation.
type Identity struct {
	UserID      uuid.UUID
	Email       string
	DisplayName string
}

// Service issues and verifies session tokens against a [store.UserStore].
type Service struct {
	users  store.UserStore
	secret []byte
	ttl    time.Duration
}

// NewService creates a Service. secret signs session tokens and must be
// non-empty; ttl bounds how long an issued token stays valid.
func NewService(users store.UserStore, secret string, ttl time.Duration) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: nil user store")
	}
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: non-positive token ttl %v", ttl)
	}
	return &Service{users: users, secret: []byte(secret), ttl: ttl}, nil
}

// SignUp registers a new account and returns a freshly issued session token
// for it. Returns [store.ErrEmailTaken] when the email is already registered.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*Identity, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("auth: invalid email %q", email)
	}
	if len(password) < 8 {
		return nil, "", errors.New("auth: password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("auth: hash password: %w", err)
	}

	u := &store.User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, "", err
	}

	return s.issue(u)
}

// SignIn verifies the credentials and returns a session token. Returns
// [ErrInvalidCredentials] when the email is unknown or the password is wrong.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Identity, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	return s.issue(u)
}

// Verify parses and validates token and returns the identity it was issued
// for. Returns [ErrUnauthenticated] for any invalid token, and
// [store.ErrNotFound] when the account has since been deleted.
func (s *Service) Verify(ctx context.Context, token string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthenticated
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil, ErrUnauthenticated
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName}, nil
}

func (s *Service) issue(u *store.User) (*Identity, string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   u.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, "", fmt.Errorf("auth: sign token: %w", err)
	}

	return &Identity{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName}, token, nil
}
