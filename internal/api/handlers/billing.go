package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"obrador/internal/billing"
	"obrador/internal/core"
	"obrador/internal/external"
	"obrador/internal/types"
)

// lifetimePriceID is the one-time Stripe price for the lifetime purchase.
// It is not part of the subscription catalog; completing its checkout sets
// the lifetime flag through the webhook instead.
const lifetimePriceID = "price_lifetime"

// StripeService defines the Stripe operations used by the billing handler.
// Implemented by external.StripeClient.
type StripeService interface {
	CreateCheckoutSession(ctx context.Context, businessID, priceID string, lifetime bool, successURL, cancelURL string) (checkoutURL string, sessionID string, err error)
	CreatePortalSession(ctx context.Context, businessID, returnURL string) (string, error)
	GetSubscription(ctx context.Context, businessID string) (*external.SubscriptionInfo, error)
}

// CheckoutRequest is the request body for POST /v1/billing/checkout.
// Redirect URLs are server-controlled; the client only picks the price.
type CheckoutRequest struct {
	PriceID  string `json:"price_id" validate:"required"`
	Lifetime bool   `json:"lifetime"`
}

// CheckoutResponse carries the Stripe-hosted checkout URL.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// PortalResponse carries the Stripe billing portal URL.
type PortalResponse struct {
	URL string `json:"url"`
}

// SubscriptionResponse combines the resolved plan with the live Stripe
// subscription state, if any.
type SubscriptionResponse struct {
	Plan         types.FeatureSet           `json:"plan"`
	Subscription *external.SubscriptionInfo `json:"subscription,omitempty"`
}

// BillingHandler serves checkout, portal, and subscription state endpoints.
// None of its routes require an active subscription: a free-tier owner must
// be able to reach checkout.
type BillingHandler struct {
	stripe    StripeService
	catalog   billing.Catalog
	gate      *core.Gate
	validator *core.Validator
	webAppURL string
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	stripe StripeService,
	catalog billing.Catalog,
	gate *core.Gate,
	validator *core.Validator,
	webAppURL string,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		stripe:    stripe,
		catalog:   catalog,
		gate:      gate,
		validator: validator,
		webAppURL: webAppURL,
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing routes on the v1 router. Checkout and
// portal are restricted to owners and admins; any member can read the
// subscription state.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	adminOpts := core.GateOptions{
		AllowedRoles:          types.RolesAtLeast(types.RoleAdmin),
		RequiresBusiness:      true,
		AllowSuperAdminBypass: true,
	}
	memberOpts := core.GateOptions{
		RequiresBusiness:      true,
		AllowSuperAdminBypass: true,
	}

	r.Route("/billing", func(r chi.Router) {
		r.Post("/checkout", h.gate.Protect(adminOpts, h.Checkout))
		r.Post("/portal", h.gate.Protect(adminOpts, h.Portal))
		r.Get("/subscription", h.gate.Protect(memberOpts, h.Subscription))
	})
}

// Checkout handles POST /v1/billing/checkout. Subscription prices must exist
// in the catalog so an unknown id can never be sold; the lifetime purchase
// uses its fixed one-time price.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Lifetime {
		if req.PriceID != lifetimePriceID {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidPrice,
				"lifetime checkout requires the lifetime price",
				nil,
			))
			return
		}
	} else if _, ok := h.catalog.TierForPrice(req.PriceID); !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPrice,
			"unknown price id",
			nil,
			map[string]any{"price_id": req.PriceID},
		))
		return
	}

	checkoutURL, sessionID, err := h.stripe.CreateCheckoutSession(
		r.Context(),
		ac.BusinessID,
		req.PriceID,
		req.Lifetime,
		h.webAppURL+"/billing/success?session_id={CHECKOUT_SESSION_ID}",
		h.webAppURL+"/billing/cancelled",
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("checkout session created",
		"request_id", types.GetRequestID(r.Context()),
		"business_id", ac.BusinessID,
		"price_id", req.PriceID,
		"lifetime", req.Lifetime,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{
		URL:       checkoutURL,
		SessionID: sessionID,
	}})
}

// Portal handles POST /v1/billing/portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	portalURL, err := h.stripe.CreatePortalSession(r.Context(), ac.BusinessID, h.webAppURL+"/settings/billing")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalResponse{URL: portalURL}})
}

// Subscription handles GET /v1/billing/subscription. The plan comes from the
// gate's resolution; the live Stripe record is attached when one exists.
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	info, err := h.stripe.GetSubscription(r.Context(), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SubscriptionResponse{
		Plan:         ac.Plan,
		Subscription: info,
	}})
}
