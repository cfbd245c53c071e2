package authz

import "time"

const (
	userStatusActive   = "active"
	userStatusDisabled = "disabled"
)

const (
	UserStatusActive   = userStatusActive
	UserStatusDisabled = userStatusDisabled
)

// User is a principal that can authenticate against a terminal.
type User struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"business_id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	PrimaryRoleID string    `json:"primary_role_id,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Role bundles permissions under a reusable name. System roles cannot be
// deleted; inactive roles contribute no permissions even when assigned.
type Role struct {
	ID           string        `json:"id"`
	BusinessID   string        `json:"business_id"`
	Name         string        `json:"name"`
	DisplayName  string        `json:"display_name,omitempty"`
	Permissions  PermissionSet `json:"permissions"`
	IsSystemRole bool          `json:"is_system_role"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// UserRoleAssignment links a user to a role, optionally until ExpiresAt.
type UserRoleAssignment struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	IsActive   bool       `json:"is_active"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the assignment has lapsed at the given instant.
func (a UserRoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// DirectPermissionGrant gives a user a single permission outside any role.
// Revoking flips IsActive off; a revoked grant can be reactivated later.
type DirectPermissionGrant struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Permission string     `json:"permission"`
	GrantedBy  string     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
	Reason     string     `json:"reason,omitempty"`
}

// Contributes reports whether the grant counts toward the effective set now.
func (g DirectPermissionGrant) Contributes(now time.Time) bool {
	if !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Session identifies an authenticated principal. Only the SHA-256 hash of the
// token secret is persisted; the raw token exists solely in the Create reply.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the session is still usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
