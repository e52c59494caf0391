package server

import (
	"errors"
	"net/http"

	"github.com/murmurhq/murmur/internal/auth"
	"github.com/murmurhq/murmur/internal/store"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

func identityResponse(id *auth.Identity) userResponse {
	return userResponse{
		ID:          id.UserID.String(),
		Email:       id.Email,
		DisplayName: id.DisplayName,
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Accounts are not configured")
		return
	}

	var req credentialsRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, token, err := s.deps.Auth.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if errors.Is(err, store.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, User: identityResponse(id)})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Accounts are not configured")
		return
	}

	var req credentialsRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, token, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "sign-in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Sign-in failed")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Token: token, User: identityResponse(id)})
}

// handleSignOut ends the caller's session. Tokens are stateless, so the
// server's only obligation is to abort any capture session still open for
// this identity; discarding the token is the client's job.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if id := auth.FromContext(r.Context()); id != nil {
		s.deps.Capture.Abort(r.Context(), id.UserID.String())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, identityResponse(id))
}
