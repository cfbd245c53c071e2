package authz

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used by tests and by the dev-mode server
// when no DSN is configured. It applies the same activity and expiry filters
// the SQL queries do.
type MemStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	roles       map[string]*Role
	assignments []UserRoleAssignment
	grants      []DirectPermissionGrant
	sessions    map[string]*Session
	now         func() time.Time
}

// NewMemStore constructs an empty store. A nil clock defaults to time.Now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{
		users:    make(map[string]*User),
		roles:    make(map[string]*Role),
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// PutUser upserts a user record.
func (s *MemStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// PutRole upserts a role record.
func (s *MemStore) PutRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = &r
}

// PutAssignment records a user-role link.
func (s *MemStore) PutAssignment(a UserRoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, a)
}

// PutGrant records a direct permission grant.
func (s *MemStore) PutGrant(g DirectPermissionGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, g)
}

func (s *MemStore) FindUser(ctx context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemStore) FindUserByUsername(ctx context.Context, businessID, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username && (businessID == "" || u.BusinessID == businessID) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) FindRole(ctx context.Context, roleID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *r
	copied.Permissions = r.Permissions.Clone()
	return &copied, nil
}

func (s *MemStore) ActiveRoleAssignments(ctx context.Context, userID string) ([]UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var result []UserRoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID && a.IsActive && !a.Expired(now) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *MemStore) ActiveDirectGrants(ctx context.Context, userID string) ([]DirectPermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var result []DirectPermissionGrant
	for _, g := range s.grants {
		if g.UserID == userID && g.Contributes(now) {
			result = append(result, g)
		}
	}
	return result, nil
}

func (s *MemStore) UsersByRole(ctx context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var result []string
	for _, a := range s.assignments {
		if a.RoleID != roleID || !a.IsActive {
			continue
		}
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		result = append(result, a.UserID)
	}
	return result, nil
}

func (s *MemStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemStore) FindSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(before) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
