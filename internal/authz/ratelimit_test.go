package authz

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRateLimitKey(t *testing.T) {
	if got := RateLimitKey("T1", "Bob"); got != "terminal:T1:user:bob" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := RateLimitKey("", "bob"); got != "bob" {
		t.Fatalf("unexpected bare key: %s", got)
	}
}

func TestLockoutThreshold(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(clock.Now)
	key := "terminal:T1:user:bob"

	// One failure short of the cap does not lock.
	for i := 0; i < maxLoginAttempts-1; i++ {
		limiter.RecordFailure(key)
	}
	d := limiter.Check(key)
	if !d.Allowed {
		t.Fatalf("expected attempts below threshold to be allowed, got %+v", d)
	}
	if d.Remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", d.Remaining)
	}

	// The Nth consecutive failure locks eagerly.
	limiter.RecordFailure(key)
	d = limiter.Check(key)
	if d.Allowed {
		t.Fatal("expected lockout after max failures")
	}
	want := clock.Now().Add(lockoutDuration)
	if !d.LockedUntil.Equal(want) {
		t.Fatalf("lockedUntil = %v, want %v", d.LockedUntil, want)
	}
}

func TestLockoutPersistsPastWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(clock.Now)
	key := "terminal:T1:user:bob"

	// Five failures spread over ten minutes.
	for i := 0; i < maxLoginAttempts; i++ {
		limiter.RecordFailure(key)
		clock.Advance(2 * time.Minute)
	}

	// Minute eleven: still inside the original window, and locked.
	clock.Advance(1 * time.Minute)
	if d := limiter.Check(key); d.Allowed {
		t.Fatal("expected lockout, not a fresh window")
	}

	// Minute sixteen: window elapsed but lockout holds.
	clock.Advance(5 * time.Minute)
	if d := limiter.Check(key); d.Allowed {
		t.Fatal("expected lockout to outlive the window")
	}

	// Past the lockout the identifier starts clean.
	clock.Advance(lockoutDuration)
	d := limiter.Check(key)
	if !d.Allowed || d.Remaining != maxLoginAttempts {
		t.Fatalf("expected fresh window after lockout, got %+v", d)
	}
}

func TestWindowExpiryResetsCount(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(clock.Now)
	key := "bob"

	limiter.RecordFailure(key)
	limiter.RecordFailure(key)
	clock.Advance(attemptWindow + time.Second)

	d := limiter.Check(key)
	if !d.Allowed || d.Remaining != maxLoginAttempts {
		t.Fatalf("expected fresh window, got %+v", d)
	}

	// A failure after the window starts a new count at one.
	limiter.RecordFailure(key)
	d = limiter.Check(key)
	if d.Remaining != maxLoginAttempts-1 {
		t.Fatalf("expected %d remaining, got %d", maxLoginAttempts-1, d.Remaining)
	}
}

func TestClearForgivesFailures(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(clock.Now)
	key := "bob"

	for i := 0; i < maxLoginAttempts-1; i++ {
		limiter.RecordFailure(key)
	}
	limiter.Clear(key)

	d := limiter.Check(key)
	if !d.Allowed || d.Remaining != maxLoginAttempts {
		t.Fatalf("expected clean slate after Clear, got %+v", d)
	}
	if stats := limiter.Stats(); stats.Entries != 0 {
		t.Fatalf("expected entry to be deleted, got %d", stats.Entries)
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(clock.Now)

	limiter.RecordFailure("stale")
	for i := 0; i < maxLoginAttempts; i++ {
		limiter.RecordFailure("locked")
	}

	clock.Advance(attemptWindow + time.Minute)
	removed := limiter.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	stats := limiter.Stats()
	if stats.Entries != 1 || stats.Locked != 1 {
		t.Fatalf("expected locked entry to survive sweep, got %+v", stats)
	}

	clock.Advance(lockoutDuration)
	if removed := limiter.Sweep(); removed != 1 {
		t.Fatalf("expected lapsed lockout to be swept, got %d", removed)
	}
}
