package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newPGFixture(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGStore(db), mock
}

func TestPGFindUserNotFound(t *testing.T) {
	store, mock := newPGFixture(t)
	mock.ExpectQuery("select id, business_id, username").
		WithArgs("user-ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.FindUser(context.Background(), "user-ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGFindRoleDecodesLegacyPermissions(t *testing.T) {
	store, mock := newPGFixture(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "business_id", "name", "display_name", "permissions", "is_system_role", "is_active", "created_at", "updated_at",
	}).AddRow("role-1", "biz-1", "cashier", "Cashier", []byte(`"[\"sale:create\"]"`), true, true, now, now)
	mock.ExpectQuery("select id, business_id, name").
		WithArgs("role-1").
		WillReturnRows(rows)

	role, err := store.FindRole(context.Background(), "role-1")
	if err != nil {
		t.Fatalf("find role: %v", err)
	}
	if !role.Permissions.Has("sale:create") {
		t.Fatalf("double-encoded permissions not normalized: %v", role.Permissions.Slice())
	}
}

func TestPGActiveRoleAssignments(t *testing.T) {
	store, mock := newPGFixture(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "role_id", "is_active", "assigned_at", "expires_at"}).
		AddRow("user-1", "role-1", true, now, nil).
		AddRow("user-1", "role-2", true, now, now.Add(time.Hour))
	mock.ExpectQuery("select user_id, role_id, is_active").
		WithArgs("user-1").
		WillReturnRows(rows)

	assignments, err := store.ActiveRoleAssignments(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}
	if assignments[0].ExpiresAt != nil {
		t.Fatal("nil expiry scanned as non-nil")
	}
	if assignments[1].ExpiresAt == nil {
		t.Fatal("expiry dropped during scan")
	}
}

func TestPGQueryErrorWrapsStoreUnavailable(t *testing.T) {
	store, mock := newPGFixture(t)
	mock.ExpectQuery("select distinct user_id").
		WithArgs("role-1").
		WillReturnError(errors.New("connection refused"))

	if _, err := store.UsersByRole(context.Background(), "role-1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPGDeleteSessionNotFound(t *testing.T) {
	store, mock := newPGFixture(t)
	mock.ExpectExec("delete from sessions where id").
		WithArgs("sess-ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteSession(context.Background(), "sess-ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGDeleteExpiredSessions(t *testing.T) {
	store, mock := newPGFixture(t)
	cutoff := time.Now()
	mock.ExpectExec("delete from sessions where expires_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.DeleteExpiredSessions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removals, got %d", removed)
	}
}

func TestPGCreateSession(t *testing.T) {
	store, mock := newPGFixture(t)
	now := time.Now()
	session := &Session{
		ID:        "sess-1",
		UserID:    "user-1",
		TokenHash: "deadbeef",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	mock.ExpectExec("insert into sessions").
		WithArgs(session.ID, session.UserID, session.TokenHash, session.ExpiresAt, session.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
}
