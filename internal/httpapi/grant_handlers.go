package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"geogate.org/internal/audit"
	"geogate.org/internal/grants"
)

type grantResponse struct {
	ID           string     `json:"id"`
	SubjectID    string     `json:"subject_id"`
	Role         string     `json:"role"`
	State        string     `json:"state"`
	Created      time.Time  `json:"created"`
	LastModified time.Time  `json:"last_modified"`
	Closed       *time.Time `json:"closed,omitempty"`
}

type createGrantRequest struct {
	Role string `json:"role"`
}

func toGrantResponse(g grants.Grant) grantResponse {
	return grantResponse{
		ID:           g.ID,
		SubjectID:    g.SubjectID,
		Role:         g.Role,
		State:        string(g.State),
		Created:      g.Created,
		LastModified: g.LastModified,
		Closed:       g.Closed,
	}
}

func (a *API) handleRoleOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireActor(w, r); !ok {
		return
	}
	roles := a.roles.AssignableRoles(r.Context())
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// handleGrantCollection serves GET (list) and POST (create) on the roles of
// one subject, and DELETE on /roles/{role}.
func (a *API) handleGrantCollection(w http.ResponseWriter, r *http.Request, kind grants.SubjectKind, subjectID string, rest []string) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}

	if len(rest) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if !a.policy.CanModifyGrants(actor) {
			writeError(w, r, http.StatusForbidden, "not authorized")
			return
		}
		grant, err := a.grants.Revoke(r.Context(), kind, subjectID, rest[0])
		if err != nil {
			handleGrantError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "grant.revoked", map[string]any{
			"kind": string(kind), "subject_id": subjectID, "role": grant.Role,
		})
		writeJSON(w, http.StatusOK, toGrantResponse(grant))
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !a.policy.CanViewGrants(actor, subjectID) {
			writeError(w, r, http.StatusForbidden, "not authorized")
			return
		}
		list, err := a.grants.ListActive(r.Context(), kind, subjectID)
		if err != nil {
			handleGrantError(w, r, err)
			return
		}
		items := make([]grantResponse, 0, len(list))
		for _, g := range list {
			items = append(items, toGrantResponse(g))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !a.policy.CanModifyGrants(actor) {
			writeError(w, r, http.StatusForbidden, "not authorized")
			return
		}
		var req createGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.grants.Grant(r.Context(), kind, subjectID, req.Role)
		if err != nil {
			handleGrantError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "grant.created", map[string]any{
			"kind": string(kind), "subject_id": subjectID, "role": grant.Role,
		})
		writeJSON(w, http.StatusCreated, toGrantResponse(grant))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) < 2 || parts[1] != "roles" || len(parts) > 3 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleGrantCollection(w, r, grants.SubjectOrganization, parts[0], parts[2:])
}

// handlePurge physically removes soft-deleted grant rows. Scope with the
// optional ?kind=user|organization query parameter; default is both tables.
func (a *API) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if !actor.Sysadmin {
		writeError(w, r, http.StatusForbidden, "not authorized")
		return
	}

	kinds := []grants.SubjectKind{grants.SubjectUser, grants.SubjectOrganization}
	switch strings.TrimSpace(r.URL.Query().Get("kind")) {
	case "":
	case string(grants.SubjectUser):
		kinds = kinds[:1]
	case string(grants.SubjectOrganization):
		kinds = kinds[1:]
	default:
		writeError(w, r, http.StatusBadRequest, "unknown subject kind")
		return
	}

	purged := make(map[string]int64, len(kinds))
	for _, kind := range kinds {
		n, err := a.grants.PurgeDeleted(r.Context(), kind)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "purge failed")
			return
		}
		purged[string(kind)] = n
	}
	_ = audit.LogEvent(r.Context(), "grants.purged", map[string]any{"purged": purged})
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func handleGrantError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, grants.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, grants.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, grants.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "grant operation failed")
	}
}
