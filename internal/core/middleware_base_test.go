package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"obrador/internal/types"
)

func newMiddlewareServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(minimalConfig(), minimalGate(), testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRecoverer_PanicBecomes500JSON(t *testing.T) {
	srv := newMiddlewareServer(t)

	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req_panic"))
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("recoverer body must be valid JSON, got %q: %v", rr.Body.String(), err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q, want %s", resp.Error.Code, types.ErrCodeInternalUnexpected)
	}
	if resp.Error.RequestID != "req_panic" {
		t.Errorf("request id = %q, want req_panic", resp.Error.RequestID)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("panic value must not reach the client")
	}
}

func TestRecoverer_PassesThroughWithoutPanic(t *testing.T) {
	srv := newMiddlewareServer(t)

	rr := httptest.NewRecorder()
	srv.Recoverer(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("a request id should be generated and stored in context")
	}
	if got := rr.Header().Get("X-Request-Id"); got != seen {
		t.Errorf("response header %q should echo the context id %q", got, seen)
	}
}

func TestRequestIDMiddleware_ReusesIncomingHeader(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req_upstream")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "req_upstream" {
		t.Errorf("context id = %q, want the incoming req_upstream", seen)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := newMiddlewareServer(t)

	rr := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
	}
	for header, value := range want {
		if got := rr.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestCORS_AllowAll(t *testing.T) {
	handler := NewCORSMiddleware([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.obrador.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if rr.Header().Get("Vary") != "" {
		t.Error("wildcard origin must not set Vary")
	}
}

func TestCORS_SpecificOriginAllowed(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.obrador.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.obrador.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.obrador.example" {
		t.Errorf("Allow-Origin = %q, want the echoed origin", got)
	}
	if rr.Header().Get("Vary") != "Origin" {
		t.Error("echoed origins must set Vary: Origin")
	}
}

func TestCORS_UnknownOriginDenied(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.obrador.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for unknown origins", got)
	}
}

func TestCORS_PreflightAnsweredDirectly(t *testing.T) {
	reached := false
	handler := NewCORSMiddleware([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/orders", nil)
	req.Header.Set("Origin", "https://app.obrador.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if reached {
		t.Error("preflight requests must not reach the inner handler")
	}
}

func TestRequestLogger_RedactsSensitiveHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestLogger(logger, defaultRedactedHeaders)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer sess_secret_token")
	req.Header.Set("Cookie", "obrador_session=sess_secret_token")
	req.Header.Set("X-CSRF-Token", "csrf_secret")
	req.Header.Set("User-Agent", "obrador-test")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	logged := buf.String()
	if strings.Contains(logged, "sess_secret_token") || strings.Contains(logged, "csrf_secret") {
		t.Errorf("credentials leaked into logs: %s", logged)
	}
	if !strings.Contains(logged, "[REDACTED]") {
		t.Errorf("redaction marker missing from logs: %s", logged)
	}
	if !strings.Contains(logged, "obrador-test") {
		t.Errorf("non-sensitive headers should still be logged: %s", logged)
	}
}

func TestRequestLogger_LogsStatusAndPath(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/missing", nil))

	logged := buf.String()
	if !strings.Contains(logged, "status=404") {
		t.Errorf("log should carry the response status: %s", logged)
	}
	if !strings.Contains(logged, "/v1/missing") {
		t.Errorf("log should carry the request path: %s", logged)
	}
	if !strings.Contains(logged, "level=WARN") {
		t.Errorf("4xx responses should log at warn: %s", logged)
	}
}

// recordingCollector captures RecordRequest calls for assertions.
type recordingCollector struct {
	method   string
	endpoint string
	status   string
	calls    int
}

func (c *recordingCollector) RecordRequest(method, endpoint, status string, _ time.Duration) {
	c.method = method
	c.endpoint = endpoint
	c.status = status
	c.calls++
}

func TestMetricsMiddleware_RecordsRequest(t *testing.T) {
	srv := newMiddlewareServer(t)
	collector := &recordingCollector{}
	srv.Metrics = collector

	handler := srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/orders", nil))

	if collector.calls != 1 {
		t.Fatalf("RecordRequest calls = %d, want 1", collector.calls)
	}
	if collector.method != http.MethodPost || collector.endpoint != "/v1/orders" || collector.status != "201" {
		t.Errorf("recorded %s %s %s, want POST /v1/orders 201", collector.method, collector.endpoint, collector.status)
	}
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	srv := newMiddlewareServer(t)

	rr := httptest.NewRecorder()
	srv.MetricsMiddleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestWriteRecovererJSON_EscapesControlCharacters(t *testing.T) {
	rr := httptest.NewRecorder()
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:    "internal_unexpected_error",
			Message: "line one\nline \"two\"",
		},
	}
	if err := writeRecovererJSON(rr, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !json.Valid(rr.Body.Bytes()) {
		t.Errorf("output must be valid JSON: %s", rr.Body.String())
	}
}
