package auth

import (
	"errors"
	"regexp"
	"slices"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleUser is a household member. Entity access comes from explicit grants.
	RoleUser Role = "user"

	// RoleAdmin may read and control every entity, subscribe to every event
	// type, render templates and fire events.
	RoleAdmin Role = "admin"

	// RoleOwner has everything admin can do and is created on first boot.
	RoleOwner Role = "owner"
)

// ValidRoles is the set of valid user roles.
var ValidRoles = []Role{RoleUser, RoleAdmin, RoleOwner}

// IsValidUserRole returns true if the role is a valid role for a user account.
func IsValidUserRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// User represents an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"name"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Permissions is resolved per request by the Manager; it is nil on users
	// loaded straight from the repository.
	Permissions Permissions `json:"-"`
}

// IsAdmin reports whether the user bypasses entity scoping.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleOwner
}

// IsOwner reports whether the user holds the owner role.
func (u *User) IsOwner() bool {
	return u.Role == RoleOwner
}

// RefreshToken represents a stored refresh token for session management.
type RefreshToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FamilyID   string    `json:"family_id"`
	TokenHash  string    `json:"-"` // never serialised
	ClientName string    `json:"client_name,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntityAccess represents a user's grant on one entity or a whole domain.
// Target is either an entity id ("light.kitchen") or "<domain>.*".
type EntityAccess struct {
	UserID    string    `json:"user_id"`
	Target    string    `json:"target"`
	CanWrite  bool      `json:"can_write"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is returned by a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserInactive       = errors.New("auth: user account is inactive")
	ErrUsernameExists     = errors.New("auth: username already exists")
	ErrInvalidUsername    = errors.New("auth: invalid username")
	ErrTokenExpired       = errors.New("auth: token has expired")
	ErrTokenRevoked       = errors.New("auth: token has been revoked")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrTokenReuse         = errors.New("auth: refresh token reuse detected")
	ErrInvalidTarget      = errors.New("auth: invalid entity access target")
	ErrNotConfigured      = errors.New("auth: credential type not configured")
)
