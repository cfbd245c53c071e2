package authz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"tillgate.dev/internal/ids"
)

// DefaultSessionTTL is the session lifetime used when none is configured.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionManager issues, validates, and expires session tokens. Tokens take
// the form "<id>.<secret>"; only the SHA-256 hash of the secret is persisted,
// so a leaked sessions table cannot be replayed.
type SessionManager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionManager constructs a manager. Zero ttl defaults to
// DefaultSessionTTL; a nil clock defaults to time.Now.
func NewSessionManager(store Store, ttl time.Duration, now func() time.Time) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: store, ttl: ttl, now: now}
}

// Create mints a session for the user and returns it with the raw token. The
// user must exist and be active; a session bound to a missing or disabled
// user is a hard error, never a silent success.
func (m *SessionManager) Create(ctx context.Context, userID string) (*Session, string, error) {
	user, err := m.store.FindUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, "", err
	}
	if user.Status != userStatusActive {
		return nil, "", fmt.Errorf("%w: user %s", ErrUserInactive, userID)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))

	now := m.now().UTC()
	session := &Session{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, "", err
	}
	return session, session.ID + "." + secret, nil
}

// Validate resolves a raw token to its session. The lookup never extends the
// expiry; there is no sliding renewal. Expiry takes effect the instant
// now >= expiresAt, with no grace period.
func (m *SessionManager) Validate(ctx context.Context, token string) (*Session, error) {
	id, secret, err := splitSessionToken(token)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	session, err := m.store.FindSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(secret))
	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(hex.EncodeToString(sum[:]))) != 1 {
		return nil, ErrSessionNotFound
	}
	if !session.Valid(m.now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Delete removes the session behind the token. Deleting a malformed or
// already-absent token is not an error; logout is idempotent.
func (m *SessionManager) Delete(ctx context.Context, token string) error {
	id, _, err := splitSessionToken(token)
	if err != nil {
		return nil
	}
	if err := m.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// CleanupExpired bulk-deletes lapsed sessions. Intended for periodic
// maintenance, not per-request use.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredSessions(ctx, m.now())
}

func splitSessionToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid session token format")
	}
	return parts[0], parts[1], nil
}
