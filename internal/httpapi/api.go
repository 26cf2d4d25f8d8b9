// Package httpapi exposes the role and authkey engine over JSON HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"geogate.org/internal/authkey"
	"geogate.org/internal/grants"
	"geogate.org/internal/obs"
	"geogate.org/internal/resolver"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the collaborators the API serves.
type Config struct {
	Ready    ReadyProbe
	Version  string
	Grants   *grants.Service
	Authkeys *authkey.Service
	Resolver *resolver.Resolver
	Policy   *resolver.Policy
	Roles    grants.RoleSource
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	grants     *grants.Service
	authkeys   *authkey.Service
	resolver   *resolver.Resolver
	policy     *resolver.Policy
	roles      grants.RoleSource
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.Ready,
		version:    cfg.Version,
		grants:     cfg.Grants,
		authkeys:   cfg.Authkeys,
		resolver:   cfg.Resolver,
		policy:     cfg.Policy,
		roles:      cfg.Roles,
	}
	if a.policy == nil {
		a.policy = resolver.NewPolicy(false)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// GeoServer-facing credential resolution
	a.mux.HandleFunc("/v1/webservice", a.handleWebservice)

	// management surface
	a.mux.HandleFunc("/v1/roles/options", a.handleRoleOptions)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/admin/grants/purge", a.handlePurge)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	// запросы идут через request-id, аутентификацию и метрики
	return RequestID(a.withAuth(obs.Instrument(a.mux)))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "geogate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "geogate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
