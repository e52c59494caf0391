package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// identityKey stores the authenticated *Identity in a request context.
var identityKey contextKey

// FromContext returns the identity attached by [Middleware], or nil when the
// request was not authenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// WithIdentity returns a copy of ctx carrying id. Intended for tests and for
// transports that authenticate outside the HTTP middleware.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// BearerToken extracts the token from an "Authorization: Bearer …" header.
// Returns "" when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return h[len(prefix):]
}

// Middleware resolves the bearer token on each request and, when valid,
// attaches the caller's [Identity] to the request context. Requests without a
// valid token pass through unauthenticated; handlers that require an identity
// use [Require] instead.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := BearerToken(r); token != "" {
			if id, err := s.Verify(r.Context(), token); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests whose context carries no identity with 401. It
// must be mounted after [Service.Middleware].
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
