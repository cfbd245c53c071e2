package authz

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("authz: not found")
	ErrInvalidInput       = errors.New("authz: invalid input")
	ErrStoreUnavailable   = errors.New("authz: store unavailable")
	ErrSessionNotFound    = errors.New("authz: session not found")
	ErrSessionExpired     = errors.New("authz: session expired")
	ErrUserInactive       = errors.New("authz: user inactive")
	ErrInvalidCredentials = errors.New("authz: invalid credentials")
	ErrAccountLocked      = errors.New("authz: account locked")
)

// AccountLockedError reports a tripped login lockout. LockedUntil is included
// so callers can render a remaining-time message.
type AccountLockedError struct {
	LockedUntil time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfter returns how long the caller must wait, floored at zero.
func (e *AccountLockedError) RetryAfter(now time.Time) time.Duration {
	d := e.LockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CredentialError carries the remaining attempt budget alongside the generic
// rejection. The message never reveals whether the identifier exists.
type CredentialError struct {
	Remaining int
}

func (e *CredentialError) Error() string { return "invalid credentials" }

func (e *CredentialError) Unwrap() error { return ErrInvalidCredentials }
