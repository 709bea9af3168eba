package auth

import (
	"context"
	"net/http"
	"strings"

	"obrador/internal/types"
)

// SessionCookieName is the cookie carrying the session id.
const SessionCookieName = "obrador_session"

// PrimaryMembershipLookup returns a user's primary membership, or (nil, nil)
// when the user belongs to no business.
type PrimaryMembershipLookup interface {
	GetPrimaryMembership(ctx context.Context, userID string) (*types.Membership, error)
}

// IdentityResolver turns an incoming request into an authenticated Identity:
// session cookie or bearer token, then session row, then user row, then the
// user's primary membership. It implements the gate's SessionProvider.
type IdentityResolver struct {
	sessions    *sessionService
	users       UserRepo
	memberships PrimaryMembershipLookup
}

// NewIdentityResolver creates an IdentityResolver.
func NewIdentityResolver(sessions *sessionService, users UserRepo, memberships PrimaryMembershipLookup) *IdentityResolver {
	return &IdentityResolver{
		sessions:    sessions,
		users:       users,
		memberships: memberships,
	}
}

// IdentityFromRequest resolves the caller's identity from the request's
// session credential. Missing or invalid credentials return an auth-coded
// AppError, which the gate maps to 401. The session's CSRF token is stored
// in the returned context for mutating-request validation downstream.
func (r *IdentityResolver) IdentityFromRequest(req *http.Request) (context.Context, *types.Identity, error) {
	ctx := req.Context()

	sessionID, fromCookie := extractSessionID(req)
	if sessionID == "" {
		return ctx, nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}

	session, err := r.sessions.ValidateSession(ctx, sessionID)
	if err != nil {
		return ctx, nil, err
	}

	user, err := r.users.GetByID(ctx, session.UserID)
	if err != nil {
		return ctx, nil, err
	}

	identity := &types.Identity{
		UserID:       user.ID,
		Email:        user.Email,
		IsSuperAdmin: user.IsSuperAdmin,
	}

	membership, err := r.memberships.GetPrimaryMembership(ctx, user.ID)
	if err != nil {
		return ctx, nil, err
	}
	if membership != nil {
		identity.BusinessID = membership.BusinessID
		identity.Role = membership.Role
	}

	// Only cookie credentials are CSRF-able; Bearer clients attach the
	// session id explicitly, so no token goes into their context.
	if fromCookie {
		ctx = types.WithSessionCSRFToken(ctx, session.CSRFToken)
	}
	return ctx, identity, nil
}

// extractSessionID pulls the session id from the cookie or, for API
// clients, from a Bearer Authorization header. The second return reports
// whether the credential arrived via the cookie.
func extractSessionID(req *http.Request) (string, bool) {
	if c, err := req.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if h := req.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), false
	}
	return "", false
}
