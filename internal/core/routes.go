package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"obrador/internal/types"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs so credentials and session tokens never reach log storage.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-CSRF-Token",
}

// MountRoutes registers the global middleware chain, the /v1 handler groups,
// and the top-level health route.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering rationale:
//  1. Recoverer       - outermost so every panic is caught.
//  2. ContextTimeout  - soft deadline before the platform hard timeout.
//  3. RequestID       - correlation id for logs and traces.
//  4. SecurityHeaders - present on every response including errors.
//  5. RequestLogger   - structured logging with redacted headers.
//  6. CORS            - browser security headers and preflight handling.
//  7. Metrics         - latency and count recording.
//  8. Gzip            - response compression, innermost so the captured
//     status codes above reflect the real response.
//
// Authorization is not global middleware: each protected route declares its
// policy through Gate.Protect.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(func(next http.Handler) http.Handler {
		return gzhttp.GzipHandler(next)
	})
}

// mountV1 registers all v1 endpoints through the registrars populated by the
// application entry point. The indirection avoids import cycles between core
// and handler packages.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context so
// downstream handlers observe cancellation before the platform kills the
// process.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware generates or propagates a unique request id. An
// incoming X-Request-Id header is reused; otherwise a random id is
// generated. The id is stored in the context and echoed as a response
// header for client correlation.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID produces a random hex string for request correlation:
// 16 random bytes as 32 hex characters.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is not survivable in any useful way, but a
		// non-empty id keeps correlation working.
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
