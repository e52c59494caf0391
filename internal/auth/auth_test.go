package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/auth"
	"github.com/murmurhq/murmur/internal/store"
)

// fakeUsers is an in-memory [store.UserStore].
type fakeUsers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*store.User
	byEmail map[string]*store.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:    make(map[uuid.UUID]*store.User),
		byEmail: make(map[string]*store.User),
	}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[u.Email]; ok {
		return store.ErrEmailTaken
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	f.byID[u.ID] = &cp
	f.byEmail[u.Email] = &cp
	return nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func newTestService(t *testing.T) (*auth.Service, *fakeUsers) {
	t.Helper()
	users := newFakeUsers()
	svc, err := auth.NewService(users, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, users
}

func TestSignUpAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, token, err := svc.SignUp(ctx, "Alice@Example.com", "correct horse", "Alice")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if id.Email != "alice@example.com" {
		t.Errorf("SignUp normalized email = %q, want lowercase", id.Email)
	}
	if token == "" {
		t.Fatal("SignUp returned empty token")
	}

	got, err := svc.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.UserID != id.UserID {
		t.Errorf("Verify UserID = %v, want %v", got.UserID, id.UserID)
	}
}

func TestSignUpRejectsWeakInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SignUp(ctx, "not-an-email", "long enough pw", ""); err == nil {
		t.Error("SignUp accepted an invalid email")
	}
	if _, _, err := svc.SignUp(ctx, "b@example.com", "short", ""); err == nil {
		t.Error("SignUp accepted a too-short password")
	}
}

func TestSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.SignUp(ctx, "bob@example.com", "hunter22hunter22", "Bob"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if _, token, err := svc.SignIn(ctx, "bob@example.com", "hunter22hunter22"); err != nil || token == "" {
		t.Fatalf("SignIn = (%q, %v), want a token", token, err)
	}

	if _, _, err := svc.SignIn(ctx, "bob@example.com", "wrong password!!"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("SignIn(wrong password) error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.SignIn(ctx, "nobody@example.com", "hunter22hunter22"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("SignIn(unknown email) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyRejectsTamperedAndExpired(t *testing.T) {
	ctx := context.Background()

	users := newFakeUsers()
	svc, err := auth.NewService(users, "secret-one", time.Millisecond)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, token, err := svc.SignUp(ctx, "eve@example.com", "password123!", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if _, err := svc.Verify(ctx, token+"x"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Verify(tampered) error = %v, want ErrUnauthenticated", err)
	}

	// Tokens signed with a different secret must not validate.
	other, err := auth.NewService(users, "secret-two", time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.Verify(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Verify(wrong secret) error = %v, want ErrUnauthenticated", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := svc.Verify(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Verify(expired) error = %v, want ErrUnauthenticated", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, token, err := svc.SignUp(ctx, "mid@example.com", "password123!", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	var seen *auth.Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.FromContext(r.Context())
	})
	handler := svc.Middleware(auth.Require(inner))

	// No token: rejected before the inner handler runs.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Valid bearer token: identity flows through.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want %d", rec.Code, http.StatusOK)
	}
	if seen == nil || seen.Email != "mid@example.com" {
		t.Errorf("identity in context = %+v, want mid@example.com", seen)
	}
}
