package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/elevate/internal/audit"
	"github.com/nerrad567/elevate/internal/auth"
)

const (
	// minPasswordLength applies to login passwords and elevation credentials.
	minPasswordLength = 8

	// generatedSecretBytes is the entropy of server-generated credentials.
	generatedSecretBytes = 16
)

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

type setCredentialRequest struct {
	Credential string `json:"credential,omitempty"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new account. The account has no elevation
// credential until one is set.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeBadRequest(w, "username may only contain letters, digits, '.', '_' and '-'")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleMember
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role: must be member, staff, or admin")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := auth.HashSecret(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	claims := claimsFromContext(r.Context())
	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    claims.Subject,
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeConflict(w, "username already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "created_by", claims.Identity())
	s.recordAudit("user.create", audit.EntityUser, user.Username, claims.Subject, map[string]any{
		"role": user.Role,
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleSetCredential sets a user's elevation credential. When the body
// carries none, one is generated and returned once.
func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req setCredentialRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	generated := req.Credential == ""
	if generated {
		secret, err := auth.GenerateSecret(generatedSecretBytes)
		if err != nil {
			s.logger.Error("generating credential failed", "error", err)
			writeInternalError(w, "failed to set credential")
			return
		}
		req.Credential = secret
	} else if len(req.Credential) < minPasswordLength {
		writeBadRequest(w, "credential must be at least 8 characters")
		return
	}

	if err := s.auth.SetCredential(r.Context(), username, req.Credential); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("set credential failed", "username", username, "error", err)
		writeInternalError(w, "failed to set credential")
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("elevation credential set", "username", username, "by", claims.Identity())
	s.recordAudit("credential.set", audit.EntityCredential, username, claims.Subject, nil)

	resp := map[string]any{"username": username}
	if generated {
		resp["credential"] = req.Credential
	}
	writeJSON(w, http.StatusOK, resp)
}
