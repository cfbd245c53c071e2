package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"tillgate.dev/internal/audit"
	"tillgate.dev/internal/obs"

	"golang.org/x/crypto/bcrypt"
)

// Service is the authorization core facade. It owns the rate limiter, the
// session manager, and the permission cache; callers never reach into their
// internals directly.
type Service struct {
	store    Store
	limiter  *RateLimiter
	sessions *SessionManager
	cache    *PermissionCache
	now      func() time.Time

	sessionTTL time.Duration
	cacheTTL   time.Duration

	tokenSecret []byte
	issuer      string
	accessTTL   time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithCacheTTL configures the permission cache staleness bound.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithTokenSecret enables HS256 access token issuance with the given secret.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) != "" {
			s.tokenSecret = []byte(secret)
		}
		return nil
	}
}

// WithIssuer overrides the access token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// NewService constructs the facade and wires its owned components.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		cacheTTL:   DefaultCacheTTL,
		accessTTL:  DefaultAccessTTL,
		issuer:     "tillgate",
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.limiter = NewRateLimiter(svc.now)
	svc.sessions = NewSessionManager(store, svc.sessionTTL, svc.now)
	cache, err := NewPermissionCache(NewAggregator(store, svc.now), store, svc.cacheTTL, svc.now)
	if err != nil {
		return nil, err
	}
	svc.cache = cache
	return svc, nil
}

// RateLimiter exposes the limiter for maintenance sweeps.
func (s *Service) RateLimiter() *RateLimiter { return s.limiter }

// Sessions exposes the session manager for maintenance sweeps.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Credentials identify a login attempt from a terminal.
type Credentials struct {
	BusinessID string
	TerminalID string
	Username   string
	Password   string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Session         *Session
	SessionToken    string
	AccessToken     string
	AccessExpiresAt time.Time
	Permissions     []string
}

// Authenticate performs the full login flow: rate-limit gate, credential
// check, session mint, cache prime, and optional access token issuance.
// Failures surface as *AccountLockedError or *CredentialError; the latter
// never reveals whether the username exists.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*LoginResult, error) {
	username := strings.TrimSpace(strings.ToLower(creds.Username))
	if username == "" || creds.Password == "" {
		return nil, &CredentialError{Remaining: maxLoginAttempts}
	}
	key := RateLimitKey(creds.TerminalID, username)

	decision := s.limiter.Check(key)
	if !decision.Allowed {
		obs.ObserveLogin("locked")
		return nil, &AccountLockedError{LockedUntil: decision.LockedUntil}
	}

	user, err := s.store.FindUserByUsername(ctx, creds.BusinessID, username)
	if errors.Is(err, ErrNotFound) {
		return nil, s.failLogin(ctx, key, username)
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return nil, s.failLogin(ctx, key, username)
	}
	if user.Status != userStatusActive {
		// Correct credentials on a disabled account: refuse without burning
		// an attempt and without forgiving earlier failures.
		obs.ObserveLogin("inactive")
		return nil, ErrUserInactive
	}

	s.limiter.Clear(key)

	session, token, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	// Fresh login: any cached set predates this session.
	s.cache.Invalidate(user.ID)
	perms, err := s.cache.Get(ctx, user.ID, false)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Session:      session,
		SessionToken: token,
		Permissions:  perms.Slice(),
	}
	if len(s.tokenSecret) > 0 {
		access, exp, err := s.signAccessToken(user.ID, perms, s.now().UTC())
		if err != nil {
			return nil, err
		}
		result.AccessToken = access
		result.AccessExpiresAt = exp
	}

	obs.ObserveLogin("success")
	_ = audit.LogEvent(ctx, "auth.login.success", map[string]any{
		"user_id":     user.ID,
		"terminal_id": creds.TerminalID,
		"session_id":  session.ID,
	})
	return result, nil
}

func (s *Service) failLogin(ctx context.Context, key, username string) error {
	decision := s.limiter.RecordFailure(key)
	obs.ObserveLogin("failure")
	_ = audit.LogEvent(ctx, "auth.login.failure", map[string]any{
		"identifier": key,
		"remaining":  decision.Remaining,
	})
	if !decision.Allowed {
		return &AccountLockedError{LockedUntil: decision.LockedUntil}
	}
	return &CredentialError{Remaining: decision.Remaining}
}

// ValidateSession resolves a raw session token.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	return s.sessions.Validate(ctx, token)
}

// Logout deletes the session behind the token and invalidates the user's
// cached permissions. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	session, err := s.sessions.Validate(ctx, token)
	switch {
	case err == nil:
		s.cache.Invalidate(session.UserID)
	case errors.Is(err, ErrSessionExpired):
		// Expired sessions are still deleted below.
	case errors.Is(err, ErrSessionNotFound):
		return nil
	default:
		return err
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return err
	}
	if session != nil {
		_ = audit.LogEvent(ctx, "auth.logout", map[string]any{
			"user_id":    session.UserID,
			"session_id": session.ID,
		})
	}
	return nil
}

// Authorize reports whether the user currently holds the permission.
func (s *Service) Authorize(ctx context.Context, userID, permission string) (bool, error) {
	perms, err := s.cache.Get(ctx, userID, true)
	if err != nil {
		return false, err
	}
	return perms.Has(permission), nil
}

// AuthorizeAny reports whether the user holds at least one of the permissions.
func (s *Service) AuthorizeAny(ctx context.Context, userID string, permissions ...string) (bool, error) {
	perms, err := s.cache.Get(ctx, userID, true)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if perms.Has(p) {
			return true, nil
		}
	}
	return false, nil
}

// AuthorizeAll reports whether the user holds every one of the permissions.
func (s *Service) AuthorizeAll(ctx context.Context, userID string, permissions ...string) (bool, error) {
	perms, err := s.cache.Get(ctx, userID, true)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if !perms.Has(p) {
			return false, nil
		}
	}
	return true, nil
}

// EffectivePermissions returns the user's current permission set, through the
// cache.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	return s.cache.Get(ctx, userID, true)
}

// InvalidateUser drops the user's cached permissions. Must be called after
// role changes, grant changes, or user record updates affecting roles.
func (s *Service) InvalidateUser(userID string) {
	s.cache.Invalidate(userID)
}

// InvalidateRole drops the cached permissions of every holder of the role.
func (s *Service) InvalidateRole(ctx context.Context, roleID string) error {
	if err := s.cache.InvalidateForRole(ctx, roleID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "authz.role.invalidated", map[string]any{
		"role_id": roleID,
	})
	return nil
}

// CacheStats exposes permission cache observability data.
func (s *Service) CacheStats() CacheStats { return s.cache.Stats() }

// RateLimiterStats exposes limiter observability data.
func (s *Service) RateLimiterStats() RateLimiterStats { return s.limiter.Stats() }
