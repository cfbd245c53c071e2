package authz

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"tillgate.dev/internal/obs"
)

const (
	maxLoginAttempts = 5
	attemptWindow    = 15 * time.Minute
	lockoutDuration  = 30 * time.Minute

	// SweepInterval is how often stale rate-limit entries should be purged.
	// Sweeping is housekeeping only; stale entries cost memory, not
	// correctness.
	SweepInterval = 5 * time.Minute
)

// RateLimitKey builds the lockout identifier for a login attempt. Combining
// terminal identity with username isolates a lockout to one compromised
// device instead of penalizing every user behind a shared network egress.
func RateLimitKey(terminalID, username string) string {
	username = strings.TrimSpace(strings.ToLower(username))
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return username
	}
	return fmt.Sprintf("terminal:%s:user:%s", terminalID, username)
}

type rateLimitEntry struct {
	count         int
	windowResetAt time.Time
	lockedUntil   time.Time
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed     bool
	Remaining   int
	ResetAt     time.Time
	LockedUntil time.Time
}

// RateLimiterStats is a read-only snapshot for observability.
type RateLimiterStats struct {
	Entries int `json:"entries"`
	Locked  int `json:"locked"`
}

// RateLimiter caps failed authentication attempts per identifier within a
// rolling window and imposes a temporary lockout once the cap is exceeded.
// It owns its map exclusively; all access goes through these methods.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// NewRateLimiter constructs a limiter. A nil clock defaults to time.Now.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		entries: make(map[string]*rateLimitEntry),
		now:     now,
	}
}

// Check reports whether an attempt for the identifier may proceed. A missing
// entry or an elapsed window counts as a fresh window (nothing is persisted
// until a failure is recorded). Reaching the attempt cap trips the lockout.
func (l *RateLimiter) Check(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[identifier]
	if !ok || (now.After(entry.windowResetAt) && !entry.lockedUntil.After(now)) {
		return Decision{
			Allowed:   true,
			Remaining: maxLoginAttempts,
			ResetAt:   now.Add(attemptWindow),
		}
	}

	if entry.lockedUntil.After(now) {
		return Decision{
			Allowed:     false,
			ResetAt:     entry.windowResetAt,
			LockedUntil: entry.lockedUntil,
		}
	}

	if entry.count >= maxLoginAttempts {
		entry.lockedUntil = now.Add(lockoutDuration)
		obs.IncLockout()
		return Decision{
			Allowed:     false,
			ResetAt:     entry.windowResetAt,
			LockedUntil: entry.lockedUntil,
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: maxLoginAttempts - entry.count,
		ResetAt:   entry.windowResetAt,
	}
}

// RecordFailure counts one failed attempt. Hitting the cap locks the
// identifier eagerly so the very next Check rejects it.
func (l *RateLimiter) RecordFailure(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[identifier]
	if !ok || (now.After(entry.windowResetAt) && !entry.lockedUntil.After(now)) {
		entry = &rateLimitEntry{windowResetAt: now.Add(attemptWindow)}
		l.entries[identifier] = entry
	}
	entry.count++
	if entry.count >= maxLoginAttempts && !entry.lockedUntil.After(now) {
		entry.lockedUntil = now.Add(lockoutDuration)
		obs.IncLockout()
	}

	remaining := maxLoginAttempts - entry.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:     !entry.lockedUntil.After(now),
		Remaining:   remaining,
		ResetAt:     entry.windowResetAt,
		LockedUntil: entry.lockedUntil,
	}
}

// Clear forgets the identifier entirely. A successful login forgives all
// prior failures, not merely the counter.
func (l *RateLimiter) Clear(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
}

// Sweep removes entries whose window and lockout have both lapsed, returning
// how many were dropped.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, entry := range l.entries {
		if now.After(entry.windowResetAt) && !entry.lockedUntil.After(now) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the limiter state.
func (l *RateLimiter) Stats() RateLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stats := RateLimiterStats{Entries: len(l.entries)}
	for _, entry := range l.entries {
		if entry.lockedUntil.After(now) {
			stats.Locked++
		}
	}
	return stats
}
