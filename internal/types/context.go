package types

import (
	"context"
	"log/slog"
	"time"
)

// Identity is the authenticated caller resolved from a session.
// BusinessID and Role come from the caller's primary membership and are empty
// for accounts without a business.
type Identity struct {
	UserID       string
	Email        string
	IsSuperAdmin bool
	BusinessID   string
	Role         TeamRole
}

// AuthorizedContext is handed to protected handlers after every gate check
// has passed. Plan is the fully resolved feature set for the business, so
// handlers never consult billing state themselves.
type AuthorizedContext struct {
	UserID     string
	BusinessID string
	Plan       FeatureSet
}

// Membership ties a user to a business with a role.
type Membership struct {
	UserID     string
	BusinessID string
	Role       TeamRole
	JoinedAt   time.Time
}

// Context Keys
type contextKey string

const (
	identityKey    contextKey = "identity"
	requestIDKey   contextKey = "request_id"
	loggerKey      contextKey = "logger"
	sessionCSRFKey contextKey = "session_csrf_token"
)

// WithIdentity stores the authenticated Identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the Identity from the context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the logger from the context.
// The returned logger is expected to have been pre-enriched with
// request-scoped fields (RequestID, UserID) by middleware before storage.
// Falls back to slog.Default when no logger has been set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithSessionCSRFToken stores the session's CSRF token in the context.
// Set during session resolution for cookie credentials so the gate can
// validate the X-CSRF-Token header against it on mutating requests.
func WithSessionCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionCSRFKey, token)
}

// GetSessionCSRFToken retrieves the session's CSRF token from the context.
// Returns the token and true if present, or empty string and false if not set.
func GetSessionCSRFToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionCSRFKey).(string)
	return token, ok && token != ""
}
