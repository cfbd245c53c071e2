package httpapi

import (
	"errors"
	"net/http"
	"time"

	"tillgate.dev/internal/authz"
)

type loginRequest struct {
	BusinessID string `json:"business_id"`
	TerminalID string `json:"terminal_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type loginResponse struct {
	SessionToken     string    `json:"session_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	AccessToken      string    `json:"access_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at,omitempty"`
	UserID           string    `json:"user_id"`
	Permissions      []string  `json:"permissions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.Authenticate(r.Context(), authz.Credentials{
		BusinessID: req.BusinessID,
		TerminalID: req.TerminalID,
		Username:   req.Username,
		Password:   req.Password,
	})
	if err != nil {
		var locked *authz.AccountLockedError
		var invalid *authz.CredentialError
		switch {
		case errors.As(err, &locked):
			w.Header().Set("Retry-After", locked.RetryAfter(time.Now()).Round(time.Second).String())
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":        "account temporarily locked",
				"locked_until": locked.LockedUntil.UTC().Format(time.RFC3339),
			})
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":              "invalid credentials",
				"remaining_attempts": invalid.Remaining,
			})
		case errors.Is(err, authz.ErrUserInactive):
			writeError(w, r, http.StatusForbidden, "account disabled")
		default:
			writeError(w, r, http.StatusServiceUnavailable, "login unavailable")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken:     result.SessionToken,
		SessionExpiresAt: result.Session.ExpiresAt,
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		UserID:           result.Session.UserID,
		Permissions:      result.Permissions,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	if err := a.svc.Logout(r.Context(), token); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "logout unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleSession echoes the validated session attached by withAuth.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	session, ok := authz.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, session)
}
