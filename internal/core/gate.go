package core

import (
	"context"
	"log/slog"
	"net/http"

	"obrador/internal/billing"
	"obrador/internal/types"
)

// SuperAdminBusinessID is the sentinel business id placed in the authorized
// context when a super admin has no business of their own.
const SuperAdminBusinessID = "biz_admin"

// SessionProvider resolves the caller's identity from a request.
// Implemented by auth.IdentityResolver. A failed resolution returns an
// auth-coded AppError; the returned context carries session-derived values
// (CSRF token) and must be used for the rest of the request.
type SessionProvider interface {
	IdentityFromRequest(r *http.Request) (context.Context, *types.Identity, error)
}

// PermissionChecker verifies role membership within a business.
// Implemented by auth.PermissionChecker.
type PermissionChecker interface {
	Check(ctx context.Context, userID, businessID string, allowedRoles []types.TeamRole) (*types.Membership, error)
}

// BillingLookup fetches the billing snapshot for a business.
// Returns (nil, nil) when no record exists; the gate answers 404 for that.
type BillingLookup interface {
	GetBillingRecord(ctx context.Context, businessID string) (*types.BillingRecord, error)
}

// AuthorizedHandler is a handler that runs only after every gate check has
// passed. The AuthorizedContext carries the resolved plan so the handler
// never consults billing state itself.
type AuthorizedHandler func(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext)

// GateOptions declares the policy for one protected route.
type GateOptions struct {
	// AllowedRoles is an exact membership set; empty skips the role check.
	// Use types.RolesAtLeast to express "at least admin".
	AllowedRoles []types.TeamRole

	// RequiresBusiness rejects callers with no business association.
	RequiresBusiness bool

	// RequiresActiveSubscription rejects callers whose business has neither
	// a lifetime purchase, an active subscription, nor an unexpired trial.
	RequiresActiveSubscription bool

	// AllowSuperAdminBypass lets super admins skip every check after
	// session resolution.
	AllowSuperAdminBypass bool

	// RequiredFeature, when set, demands the flag be enabled in the
	// resolved plan.
	RequiredFeature types.FeatureFlag

	// MinimumPlan, when set, demands the resolved tier rank at or above it.
	MinimumPlan types.PlanTier
}

// DefaultGateOptions returns the baseline policy for protected routes:
// business required, active subscription required, super admin bypass on.
func DefaultGateOptions() GateOptions {
	return GateOptions{
		RequiresBusiness:           true,
		RequiresActiveSubscription: true,
		AllowSuperAdminBypass:      true,
	}
}

// Gate wraps protected handlers with the full authorization and entitlement
// policy. Evaluation is fail-fast in a fixed order: session, super-admin
// bypass, business association, role, then subscription state. The gate
// only reads; it never caches, retries, or mutates billing state.
type Gate struct {
	sessions    SessionProvider
	permissions PermissionChecker
	billing     BillingLookup
	resolver    *billing.Resolver
	catalog     billing.Catalog
	logger      *slog.Logger
}

// NewGate creates a Gate. A nil logger falls back to slog.Default.
func NewGate(
	sessions SessionProvider,
	permissions PermissionChecker,
	billingLookup BillingLookup,
	resolver *billing.Resolver,
	catalog billing.Catalog,
	logger *slog.Logger,
) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions:    sessions,
		permissions: permissions,
		billing:     billingLookup,
		resolver:    resolver,
		catalog:     catalog,
		logger:      logger,
	}
}

// Protect returns an http.HandlerFunc enforcing opts before invoking next.
func (g *Gate) Protect(opts GateOptions, next AuthorizedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, identity, err := g.sessions.IdentityFromRequest(r)
		if err != nil || identity == nil {
			if err == nil {
				err = types.NewAppError(types.ErrCodeAuthTokenInvalid, "authentication required", nil)
			}
			Error(w, r, err)
			return
		}
		r = r.WithContext(types.WithIdentity(ctx, *identity))

		if err := checkCSRF(r); err != nil {
			g.logCheckFailure(r.Context(), "CSRF check failed", identity, err)
			Error(w, r, err)
			return
		}

		// Super admins skip every remaining check when the route allows it.
		// They get full entitlements; the sentinel id stands in when they
		// have no business of their own.
		if identity.IsSuperAdmin && opts.AllowSuperAdminBypass {
			businessID := identity.BusinessID
			if businessID == "" {
				businessID = SuperAdminBusinessID
			}
			next(w, r, types.AuthorizedContext{
				UserID:     identity.UserID,
				BusinessID: businessID,
				Plan:       g.catalog.FeaturesFor(types.PlanLifetime),
			})
			return
		}

		if opts.RequiresBusiness && identity.BusinessID == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodePermissionNoBusiness,
				"no business associated with this account",
				nil,
			))
			return
		}

		if len(opts.AllowedRoles) > 0 {
			if _, err := g.permissions.Check(r.Context(), identity.UserID, identity.BusinessID, opts.AllowedRoles); err != nil {
				g.logCheckFailure(r.Context(), "role check failed", identity, err)
				Error(w, r, err)
				return
			}
		}

		plan := g.catalog.FeaturesFor(types.PlanFree)
		needsBilling := opts.RequiresActiveSubscription || opts.MinimumPlan != "" || opts.RequiredFeature != ""
		if needsBilling {
			rec, err := g.billing.GetBillingRecord(r.Context(), identity.BusinessID)
			if err != nil {
				g.logger.Error("billing lookup failed",
					"request_id", types.GetRequestID(r.Context()),
					"business_id", identity.BusinessID,
					"error", err,
				)
				Error(w, r, err)
				return
			}
			if rec == nil {
				Error(w, r, types.NewAppError(
					types.ErrCodeNotFoundBilling,
					"business not found",
					nil,
				))
				return
			}

			if opts.RequiresActiveSubscription && !g.resolver.Entitled(rec) {
				Error(w, r, types.NewAppError(
					types.ErrCodePaymentRequired,
					"an active subscription is required",
					nil,
				))
				return
			}

			plan = g.resolver.Resolve(rec)

			if opts.MinimumPlan != "" && !plan.Tier.AtLeast(opts.MinimumPlan) {
				Error(w, r, types.NewAppErrorWithDetails(
					types.ErrCodePermissionPlan,
					"plan "+string(plan.Tier)+" does not meet the required minimum "+string(opts.MinimumPlan),
					nil,
					map[string]any{
						"current_plan":  string(plan.Tier),
						"required_plan": string(opts.MinimumPlan),
					},
				))
				return
			}

			if opts.RequiredFeature != "" && !plan.Has(opts.RequiredFeature) {
				Error(w, r, types.NewAppErrorWithDetails(
					types.ErrCodePermissionFeature,
					"feature "+string(opts.RequiredFeature)+" is not available on the current plan",
					nil,
					map[string]any{"feature": string(opts.RequiredFeature)},
				))
				return
			}
		}

		next(w, r, types.AuthorizedContext{
			UserID:     identity.UserID,
			BusinessID: identity.BusinessID,
			Plan:       plan,
		})
	}
}

func (g *Gate) logCheckFailure(ctx context.Context, msg string, identity *types.Identity, err error) {
	g.logger.Info(msg,
		"request_id", types.GetRequestID(ctx),
		"user_id", identity.UserID,
		"business_id", identity.BusinessID,
		"error", err,
	)
}
