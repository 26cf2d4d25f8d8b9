package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"geogate.org/internal/audit"
	"geogate.org/internal/authkey"
	"geogate.org/internal/grants"
	"geogate.org/internal/resolver"
)

type authkeyResponse struct {
	Key        string     `json:"key"`
	UserID     string     `json:"user_id"`
	Created    time.Time  `json:"created"`
	LastAccess *time.Time `json:"last_access,omitempty"`
}

func toAuthkeyResponse(k authkey.Authkey) authkeyResponse {
	return authkeyResponse{
		Key:        k.Key,
		UserID:     k.UserID,
		Created:    k.Created,
		LastAccess: k.LastAccess,
	}
}

// handleWebservice is the GeoServer-facing endpoint: it maps an authkey (or
// host API token) to the owning username and the flat effective role list.
func (a *API) handleWebservice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	credential := strings.TrimSpace(r.URL.Query().Get("authkey"))
	if credential == "" {
		writeError(w, r, http.StatusBadRequest, "authkey is required")
		return
	}

	user, err := a.resolver.ResolveIdentity(r.Context(), credential)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	bundle, err := a.resolver.EffectiveRoles(r.Context(), user.ID)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Name,
		"roles":    bundle.Flatten(),
	})
}

// handleUserScoped routes /v1/users/{id}/... subresources.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "roles":
		if len(parts) > 3 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleGrantCollection(w, r, grants.SubjectUser, userID, parts[2:])
	case "authkey":
		switch {
		case len(parts) == 2:
			a.getAuthkey(w, r, userID)
		case len(parts) == 3 && parts[2] == "rotate":
			a.rotateAuthkey(w, r, userID)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case "effective-roles":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.getEffectiveRoles(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// getAuthkey returns the user's key, minting one on first request.
func (a *API) getAuthkey(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if !a.policy.CanViewAuthkey(actor, userID) {
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	}
	key, err := a.authkeys.GetOrCreate(r.Context(), userID)
	if err != nil {
		handleAuthkeyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthkeyResponse(key))
}

func (a *API) rotateAuthkey(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if !a.policy.CanRotateAuthkey(actor, userID) {
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	}
	key, err := a.authkeys.Rotate(r.Context(), userID)
	if err != nil {
		handleAuthkeyError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "authkey.rotated", map[string]any{"user_id": key.UserID})
	writeJSON(w, http.StatusOK, toAuthkeyResponse(key))
}

// getEffectiveRoles returns the three-way role bundle the management UI
// renders, groups kept separate.
func (a *API) getEffectiveRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if !a.policy.CanViewGrants(actor, userID) {
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	}
	bundle, err := a.resolver.EffectiveRoles(r.Context(), userID)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_roles":         emptyIfNil(bundle.UserRoles),
		"organization_roles": emptyIfNil(bundle.OrganizationRoles),
		"default_roles":      emptyIfNil(bundle.DefaultRoles),
	})
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func handleAuthkeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authkey.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authkey.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "authkey operation failed")
	}
}

func handleResolverError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, resolver.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, resolver.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "resolution failed")
	}
}
