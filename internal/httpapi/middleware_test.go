package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitRejectsBurst(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, 1, 1)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("missing CSP header")
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/roles/options", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Error("empty header must fail")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Error("non-bearer scheme must fail")
	}
	if _, err := extractBearerToken("Bearer   "); err == nil {
		t.Error("blank token must fail")
	}
	token, err := extractBearerToken("bearer secret-token")
	if err != nil || token != "secret-token" {
		t.Errorf("case-insensitive scheme: got %q, %v", token, err)
	}
}
