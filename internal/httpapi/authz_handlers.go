package httpapi

import (
	"net/http"
	"strings"

	"tillgate.dev/internal/audit"
	"tillgate.dev/internal/authz"
)

type authorizeRequest struct {
	UserID     string   `json:"user_id,omitempty"`
	Permission string   `json:"permission,omitempty"`
	AnyOf      []string `json:"any_of,omitempty"`
	AllOf      []string `json:"all_of,omitempty"`
}

// handleAuthorize checks a permission (or any-of/all-of set) for the
// requesting user, or for another user when the caller may inspect sessions.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	callerID, ok := authz.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	subjectID := strings.TrimSpace(req.UserID)
	if subjectID == "" {
		subjectID = callerID
	}
	if subjectID != callerID && !a.requirePermission(w, r, authz.PermSessionInspect) {
		return
	}

	var (
		allowed bool
		err     error
	)
	switch {
	case len(req.AnyOf) > 0:
		allowed, err = a.svc.AuthorizeAny(r.Context(), subjectID, req.AnyOf...)
	case len(req.AllOf) > 0:
		allowed, err = a.svc.AuthorizeAll(r.Context(), subjectID, req.AllOf...)
	case strings.TrimSpace(req.Permission) != "":
		allowed, err = a.svc.Authorize(r.Context(), subjectID, req.Permission)
	default:
		writeError(w, r, http.StatusBadRequest, "permission, any_of, or all_of is required")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": subjectID,
		"allowed": allowed,
	})
}

// handleUserScoped serves /v1/users/<id>/permissions and
// /v1/users/<id>/invalidate.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	userID, action, ok := splitScopedPath(r.URL.Path, "/v1/users/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch action {
	case "permissions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if callerID, _ := authz.UserIDFromContext(r.Context()); callerID != userID {
			if !a.requirePermission(w, r, authz.PermUsersManage) {
				return
			}
		}
		perms, err := a.svc.EffectivePermissions(r.Context(), userID)
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":     userID,
			"permissions": perms.Slice(),
		})
	case "invalidate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.requirePermission(w, r, authz.PermSecurityAdmin) {
			return
		}
		a.svc.InvalidateUser(userID)
		_ = audit.LogEvent(r.Context(), "authz.user.invalidated", map[string]any{
			"user_id": userID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated"})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleRoleScoped serves /v1/roles/<id>/invalidate, called by the role CRUD
// layer after mutating a role's permission set.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	roleID, action, ok := splitScopedPath(r.URL.Path, "/v1/roles/")
	if !ok || action != "invalidate" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requirePermission(w, r, authz.PermRolesManage) {
		return
	}
	if err := a.svc.InvalidateRole(r.Context(), roleID); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "invalidation unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated"})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, authz.PermSecurityAdmin) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permission_cache": a.svc.CacheStats(),
		"rate_limiter":     a.svc.RateLimiterStats(),
	})
}

func splitScopedPath(path, prefix string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
