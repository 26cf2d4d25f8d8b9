package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"geogate.org/internal/audit"
	"geogate.org/internal/directory"
	"geogate.org/internal/resolver"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

const actorCtxKey ctxKey = "actor"

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/webservice",
	"/",
}

// withAuth resolves the bearer credential (authkey or host API token) to a
// user and stores it in the request context. The webservice endpoint stays
// public: it authenticates with its own authkey query parameter.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.resolver == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		credential, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := a.resolver.ResolveIdentity(r.Context(), credential)
		if err != nil {
			switch {
			case errors.Is(err, resolver.ErrNotFound), errors.Is(err, resolver.ErrInvalidInput):
				writeError(w, r, http.StatusUnauthorized, "invalid credential")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := context.WithValue(r.Context(), actorCtxKey, user)
		ctx = audit.WithActor(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFromContext returns the authenticated user stored by withAuth.
func actorFromContext(ctx context.Context) (directory.User, bool) {
	if ctx == nil {
		return directory.User{}, false
	}
	u, ok := ctx.Value(actorCtxKey).(directory.User)
	return u, ok
}

// requireActor writes a 401 and returns false when the request carries no
// authenticated user.
func (a *API) requireActor(w http.ResponseWriter, r *http.Request) (directory.User, bool) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return actor, ok
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
