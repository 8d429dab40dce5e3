package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern: alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
// Usernames double as session identities and MQTT topic segments.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role represents an authorisation tier.
type Role string

const (
	// RoleMember can sign in and read their own session state but may not elevate.
	RoleMember Role = "member"

	// RoleStaff may start an elevated session.
	RoleStaff Role = "staff"

	// RoleAdmin may elevate, read the audit trail, and manage accounts.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles an account can hold, lowest first.
var ValidRoles = []Role{RoleMember, RoleStaff, RoleAdmin}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Implied returns r and every role below it. An admin is also staff and
// member; an unknown role implies nothing.
func (r Role) Implied() []Role {
	for i, v := range ValidRoles {
		if v == r {
			out := make([]Role, 0, i+1)
			for j := i; j >= 0; j-- {
				out = append(out, ValidRoles[j])
			}
			return out
		}
	}
	return nil
}

// User is an account that can sign in to the API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrCredentialNotSet   = errors.New("elevation credential not set")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)
