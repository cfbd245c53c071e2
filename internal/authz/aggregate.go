package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tillgate.dev/internal/obs"
)

// Aggregator computes a user's effective permission set from role assignments
// and direct grants. It is pure with respect to caching: every call re-derives
// from the store.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// NewAggregator constructs an Aggregator. A nil clock defaults to time.Now.
func NewAggregator(store Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// EffectivePermissions returns the union of permissions the user holds via
// active role assignments (falling back to the user's primary role when no
// assignments exist) and active, non-expired direct grants.
//
// One corrupt or missing role never aborts aggregation: it is logged and
// skipped. Store failures, by contrast, propagate: a connection error must
// not be mistaken for "no permissions".
func (a *Aggregator) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	start := a.now()
	now := start

	assignments, err := a.store.ActiveRoleAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load role assignments for %s: %w", userID, err)
	}

	roleIDs := make([]string, 0, len(assignments))
	for _, assignment := range assignments {
		if !assignment.IsActive || assignment.Expired(now) {
			continue
		}
		roleIDs = append(roleIDs, assignment.RoleID)
	}

	// Legacy compatibility: a user with zero active assignments falls back to
	// the single primary role on the user record.
	if len(roleIDs) == 0 {
		user, err := a.store.FindUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", userID, err)
		}
		if user.PrimaryRoleID != "" {
			roleIDs = append(roleIDs, user.PrimaryRoleID)
		}
	}

	result := NewPermissionSet()
	for _, roleID := range roleIDs {
		role, err := a.store.FindRole(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			obs.LogEvent(map[string]any{
				"level": "warn", "msg": "skipping missing role",
				"role_id": roleID, "user_id": userID,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load role %s: %w", roleID, err)
		}
		if !role.IsActive {
			continue
		}
		result.Union(role.Permissions)
	}

	grants, err := a.store.ActiveDirectGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load direct grants for %s: %w", userID, err)
	}
	for _, grant := range grants {
		if grant.Contributes(now) {
			result.Add(grant.Permission)
		}
	}

	obs.ObserveAggregation(a.now().Sub(start))
	return result, nil
}
