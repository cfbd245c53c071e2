package authz

import (
	"context"
	"time"
)

// Store describes the persistence operations the authorization core needs.
// Implementations must return ErrNotFound for missing rows and wrap
// infrastructure failures with ErrStoreUnavailable so callers can tell the
// two apart.
type Store interface {
	// Users.
	FindUser(ctx context.Context, userID string) (*User, error)
	FindUserByUsername(ctx context.Context, businessID, username string) (*User, error)

	// Roles and grants feeding permission aggregation.
	FindRole(ctx context.Context, roleID string) (*Role, error)
	ActiveRoleAssignments(ctx context.Context, userID string) ([]UserRoleAssignment, error)
	ActiveDirectGrants(ctx context.Context, userID string) ([]DirectPermissionGrant, error)
	UsersByRole(ctx context.Context, roleID string) ([]string, error)

	// Session CRUD.
	CreateSession(ctx context.Context, s *Session) error
	FindSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}
