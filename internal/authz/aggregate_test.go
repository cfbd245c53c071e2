package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedCashier(t *testing.T, store *MemStore, clock *fakeClock) {
	t.Helper()
	store.PutRole(Role{
		ID:          "role-cashier",
		BusinessID:  "biz-1",
		Name:        "cashier",
		Permissions: NewPermissionSet("sale:create"),
		IsActive:    true,
	})
	store.PutUser(User{
		ID:         "user-bob",
		BusinessID: "biz-1",
		Username:   "bob",
		Status:     UserStatusActive,
	})
	store.PutAssignment(UserRoleAssignment{
		UserID:     "user-bob",
		RoleID:     "role-cashier",
		IsActive:   true,
		AssignedAt: clock.Now(),
	})
}

func TestEffectivePermissionsUnionsRolesAndGrants(t *testing.T) {
	clock := newFakeClock()
	store := NewMemStore(clock.Now)
	seedCashier(t, store, clock)
	store.PutGrant(DirectPermissionGrant{
		ID:         "grant-1",
		UserID:     "user-bob",
		Permission: "reports:view",
		IsActive:   true,
		GrantedAt:  clock.Now(),
	})

	agg := NewAggregator(store, clock.Now)
	perms, err := agg.EffectivePermissions(context.Background(), "user-bob")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	want := []string{"reports:view", "sale:create"}
	got := perms.Slice()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEffectivePermissionsSkipsExpiredGrant(t *testing.T) {
	clock := newFakeClock()
	store := NewMemStore(clock.Now)
	seedCashier(t, store, clock)
	expiry := clock.Now().Add(time.Hour)
	store.PutGrant(DirectPermissionGrant{
		ID:         "grant-1",
		UserID:     "user-bob",
		Permission: "reports:view",
		IsActive:   true,
		GrantedAt:  clock.Now(),
		ExpiresAt:  &expiry,
	})

	agg := NewAggregator(store, clock.Now)
	clock.Advance(time.Hour) // grant expires exactly now

	perms, err := agg.EffectivePermissions(context.Background(), "user-bob")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if perms.Has("reports:view") {
		t.Fatalf("expired grant still contributes: %v", perms.Slice())
	}
	if !perms.Has("sale:create") {
		t.Fatalf("role permission lost: %v", perms.Slice())
	}
}

func TestEffectivePermissionsSkipsInactiveAndMissingRoles(t *testing.T) {
	clock := newFakeClock()
	store := NewMemStore(clock.Now)
	seedCashier(t, store, clock)
	store.PutRole(Role{
		ID:          "role-dormant",
		BusinessID:  "biz-1",
		Name:        "dormant",
		Permissions: NewPermissionSet("security:admin"),
		IsActive:    false,
	})
	store.PutAssignment(UserRoleAssignment{
		UserID: "user-bob", RoleID: "role-dormant", IsActive: true, AssignedAt: clock.Now(),
	})
	// Dangling assignment: the role row is gone.
	store.PutAssignment(UserRoleAssignment{
		UserID: "user-bob", RoleID: "role-deleted", IsActive: true, AssignedAt: clock.Now(),
	})

	agg := NewAggregator(store, clock.Now)
	perms, err := agg.EffectivePermissions(context.Background(), "user-bob")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if perms.Has("security:admin") {
		t.Fatal("inactive role contributed permissions")
	}
	if !perms.Has("sale:create") {
		t.Fatalf("healthy role was dropped: %v", perms.Slice())
	}
}

func TestEffectivePermissionsPrimaryRoleFallback(t *testing.T) {
	clock := newFakeClock()
	store := NewMemStore(clock.Now)
	store.PutRole(Role{
		ID:          "role-manager",
		BusinessID:  "biz-1",
		Name:        "manager",
		Permissions: NewPermissionSet("sale:create", "sale:refund"),
		IsActive:    true,
	})
	store.PutUser(User{
		ID:            "user-eve",
		BusinessID:    "biz-1",
		Username:      "eve",
		PrimaryRoleID: "role-manager",
		Status:        UserStatusActive,
	})

	agg := NewAggregator(store, clock.Now)
	perms, err := agg.EffectivePermissions(context.Background(), "user-eve")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !perms.Has("sale:refund") {
		t.Fatalf("primary role fallback not applied: %v", perms.Slice())
	}

	// Once an assignment exists the fallback must not fire.
	store.PutAssignment(UserRoleAssignment{
		UserID: "user-eve", RoleID: "role-cashier-only", IsActive: true, AssignedAt: clock.Now(),
	})
	store.PutRole(Role{
		ID: "role-cashier-only", BusinessID: "biz-1", Name: "cashier",
		Permissions: NewPermissionSet("sale:create"), IsActive: true,
	})
	perms, err = agg.EffectivePermissions(context.Background(), "user-eve")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if perms.Has("sale:refund") {
		t.Fatalf("fallback applied despite active assignment: %v", perms.Slice())
	}
}

func TestEffectivePermissionsEmptyForUnknownUser(t *testing.T) {
	clock := newFakeClock()
	store := NewMemStore(clock.Now)

	agg := NewAggregator(store, clock.Now)
	if _, err := agg.EffectivePermissions(context.Background(), "user-ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

type faultyStore struct {
	*MemStore
	grantsErr error
}

func (s *faultyStore) ActiveDirectGrants(ctx context.Context, userID string) ([]DirectPermissionGrant, error) {
	if s.grantsErr != nil {
		return nil, s.grantsErr
	}
	return s.MemStore.ActiveDirectGrants(ctx, userID)
}

func TestEffectivePermissionsPropagatesStoreErrors(t *testing.T) {
	clock := newFakeClock()
	mem := NewMemStore(clock.Now)
	seedCashier(t, mem, clock)
	store := &faultyStore{MemStore: mem, grantsErr: ErrStoreUnavailable}

	agg := NewAggregator(store, clock.Now)
	if _, err := agg.EffectivePermissions(context.Background(), "user-bob"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}
