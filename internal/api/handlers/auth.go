// Package handlers contains the HTTP handlers for the Obrador API. Each
// handler group declares its dependencies as local interfaces, registers its
// routes on the v1 router, and leaves authorization policy to the gate.
package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"obrador/internal/auth"
	"obrador/internal/core"
	"obrador/internal/types"
)

// LoginService verifies credentials and manages sessions.
// Implemented by auth.AuthService.
type LoginService interface {
	Login(ctx context.Context, email, password, ip string) (*types.User, *types.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// LoginRequest is the request body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginResponse returns the authenticated user and the CSRF token the client
// must echo on mutating requests. The session id itself travels only in the
// HttpOnly cookie.
type LoginResponse struct {
	User      UserProfile `json:"user"`
	CSRFToken string      `json:"csrf_token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// UserProfile is the public view of a user account.
type UserProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// MeResponse is the response body for GET /v1/auth/me.
type MeResponse struct {
	User       UserProfile      `json:"user"`
	BusinessID string           `json:"business_id,omitempty"`
	Role       types.TeamRole   `json:"role,omitempty"`
	Plan       types.FeatureSet `json:"plan"`
}

// AuthHandler serves login, logout, and the current-identity endpoint.
type AuthHandler struct {
	service       LoginService
	gate          *core.Gate
	validator     *core.Validator
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookies should be true in any
// environment served over TLS.
func NewAuthHandler(
	service LoginService,
	gate *core.Gate,
	validator *core.Validator,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:       service,
		gate:          gate,
		validator:     validator,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// RegisterRoutes mounts the auth routes on the v1 router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	sessionOnly := core.GateOptions{
		RequiresBusiness:           false,
		RequiresActiveSubscription: false,
		AllowSuperAdminBypass:      true,
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.gate.Protect(sessionOnly, h.Logout))
		r.Get("/me", h.gate.Protect(sessionOnly, h.Me))
	})
}

// Login handles POST /v1/auth/login. Credential failures are answered with a
// single generic code so the endpoint cannot be used for account enumeration.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, session, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(session.ID, session.ExpiresAt))

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: LoginResponse{
		User: UserProfile{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
		},
		CSRFToken: session.CSRFToken,
		ExpiresAt: session.ExpiresAt,
	}})
}

// Logout handles POST /v1/auth/logout. The session row is deleted and the
// cookie cleared; an already-deleted session still clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request, _ types.AuthorizedContext) {
	if sessionID := sessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			h.logger.Warn("logout failed to invalidate session",
				"request_id", types.GetRequestID(r.Context()),
				"error", err,
			)
		}
	}

	http.SetCookie(w, h.sessionCookie("", time.Unix(0, 0)))
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"logged_out": true}})
}

// Me handles GET /v1/auth/me, returning the caller's identity and resolved
// plan entitlements.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "authentication required", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: MeResponse{
		User: UserProfile{
			ID:    identity.UserID,
			Email: identity.Email,
		},
		BusinessID: identity.BusinessID,
		Role:       identity.Role,
		Plan:       ac.Plan,
	}})
}

// sessionCookie builds the session cookie. An empty value with a past expiry
// clears it.
func (h *AuthHandler) sessionCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// sessionIDFromRequest extracts the session credential the same way the
// identity resolver does: cookie first, then bearer token.
func sessionIDFromRequest(r *http.Request) string {
	if c, err := r.Cookie(auth.SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if hdr := r.Header.Get("Authorization"); strings.HasPrefix(hdr, "Bearer ") {
		return strings.TrimPrefix(hdr, "Bearer ")
	}
	return ""
}

// clientIP returns the originating client address, preferring the first
// X-Forwarded-For hop set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
