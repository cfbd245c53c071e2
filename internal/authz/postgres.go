package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) FindUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, business_id, username, password_hash, coalesce(primary_role_id, ''), status, created_at, updated_at
		from users where id = $1
	`, userID)
	var u User
	err := row.Scan(&u.ID, &u.BusinessID, &u.Username, &u.PasswordHash, &u.PrimaryRoleID, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find user", err)
	}
	return &u, nil
}

func (s *PGStore) FindUserByUsername(ctx context.Context, businessID, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, business_id, username, password_hash, coalesce(primary_role_id, ''), status, created_at, updated_at
		from users where business_id = $1 and username = $2
	`, businessID, username)
	var u User
	err := row.Scan(&u.ID, &u.BusinessID, &u.Username, &u.PasswordHash, &u.PrimaryRoleID, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find user by username", err)
	}
	return &u, nil
}

func (s *PGStore) FindRole(ctx context.Context, roleID string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, business_id, name, coalesce(display_name, ''), permissions, is_system_role, is_active, created_at, updated_at
		from roles where id = $1
	`, roleID)
	var (
		role Role
		raw  []byte
	)
	err := row.Scan(&role.ID, &role.BusinessID, &role.Name, &role.DisplayName, &raw, &role.IsSystemRole, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find role", err)
	}
	// Permissions are normalized here, at the store boundary. Rows written by
	// older releases hold a double-encoded JSON string; DecodePermissions
	// accepts either shape.
	perms, err := DecodePermissions(raw)
	if err != nil {
		return nil, storeErr("decode role permissions", err)
	}
	role.Permissions = perms
	return &role, nil
}

func (s *PGStore) ActiveRoleAssignments(ctx context.Context, userID string) ([]UserRoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role_id, is_active, assigned_at, expires_at
		from user_roles
		where user_id = $1 and is_active and (expires_at is null or expires_at > now())
		order by assigned_at asc
	`, userID)
	if err != nil {
		return nil, storeErr("list role assignments", err)
	}
	defer rows.Close()

	var result []UserRoleAssignment
	for rows.Next() {
		var a UserRoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.IsActive, &a.AssignedAt, &a.ExpiresAt); err != nil {
			return nil, storeErr("scan role assignment", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list role assignments", err)
	}
	return result, nil
}

func (s *PGStore) ActiveDirectGrants(ctx context.Context, userID string) ([]DirectPermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, permission, coalesce(granted_by, ''), granted_at, expires_at, is_active, coalesce(reason, '')
		from user_permission_grants
		where user_id = $1 and is_active and (expires_at is null or expires_at > now())
		order by granted_at asc
	`, userID)
	if err != nil {
		return nil, storeErr("list direct grants", err)
	}
	defer rows.Close()

	var result []DirectPermissionGrant
	for rows.Next() {
		var g DirectPermissionGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Permission, &g.GrantedBy, &g.GrantedAt, &g.ExpiresAt, &g.IsActive, &g.Reason); err != nil {
			return nil, storeErr("scan direct grant", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list direct grants", err)
	}
	return result, nil
}

func (s *PGStore) UsersByRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct user_id from user_roles where role_id = $1 and is_active
	`, roleID)
	if err != nil {
		return nil, storeErr("list users by role", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan user id", err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list users by role", err)
	}
	return result, nil
}

func (s *PGStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, session.TokenHash, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return storeErr("create session", err)
	}
	return nil
}

func (s *PGStore) FindSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at from sessions where id = $1
	`, id)
	var session Session
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find session", err)
	}
	return &session, nil
}

func (s *PGStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	if err != nil {
		return storeErr("delete session", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, before)
	if err != nil {
		return 0, storeErr("delete expired sessions", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete expired sessions", err)
	}
	return affected, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
