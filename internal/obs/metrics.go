package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	catalogFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_catalog_fetch_total",
			Help: "Upstream role catalog fetch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authkeyResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_authkey_resolutions_total",
			Help: "Authkey resolution attempts by outcome.",
		},
		[]string{"outcome"},
	)

	grantTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geogate_grant_transitions_total",
			Help: "Grant state transitions by kind and transition.",
		},
		[]string{"kind", "transition"},
	)
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		catalogFetchTotal, authkeyResolutionsTotal, grantTransitionsTotal,
	)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CatalogFetch counts one upstream catalog fetch attempt.
// Outcome is one of: ok, error, stale.
func CatalogFetch(outcome string) {
	catalogFetchTotal.WithLabelValues(outcome).Inc()
}

// AuthkeyResolution counts one authkey lookup. Outcome: ok, not_found, inactive_user.
func AuthkeyResolution(outcome string) {
	authkeyResolutionsTotal.WithLabelValues(outcome).Inc()
}

// GrantTransition counts a grant lifecycle transition.
// Transition: created, reactivated, noop, revoked, purged.
func GrantTransition(kind, transition string) {
	grantTransitionsTotal.WithLabelValues(kind, transition).Inc()
}

// CanonicalPath collapses per-entity path segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "users", "organizations":
			parts[2] = ":id"
			return "/" + strings.Join(parts, "/")
		}
	}
	return path
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
