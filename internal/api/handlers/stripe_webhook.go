package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"obrador/internal/core"
	"obrador/internal/types"
)

// maxWebhookBodySize caps the Stripe event payload size.
const maxWebhookBodySize = 256 * 1024

// WebhookVerifier validates the Stripe-Signature header against the raw
// payload. Implemented by external.StripeVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// WebhookBillingRepo defines the billing snapshot writes driven by webhook
// events.
type WebhookBillingRepo interface {
	EnsureRecord(ctx context.Context, businessID, stripeCustomerID string) error
	SetLifetime(ctx context.Context, businessID string, eventTimestamp time.Time) error
	UpdateSubscriptionState(ctx context.Context, businessID, subscriptionID, priceID string, status types.SubscriptionStatus, currentPeriodEnd *time.Time, eventTimestamp time.Time) error
	MarkPaymentFailed(ctx context.Context, businessID string, eventTimestamp time.Time) error
}

// WebhookBusinessRepo maps Stripe customer ids back to tenants.
type WebhookBusinessRepo interface {
	GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Business, error)
}

// stripeEvent is the webhook event envelope.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSessionObject is the subset of checkout.session we consume.
type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// subscriptionObject is the subset of customer.subscription we consume.
type subscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// invoiceObject is the subset of invoice we consume.
type invoiceObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// StripeWebhookHandler applies Stripe billing events to the local snapshot.
//
// Idempotency comes from the repository's optimistic event-timestamp lock:
// replayed or out-of-order events become logged no-ops. Events for unknown
// customers are acknowledged so Stripe stops retrying them; repository
// failures return 500 so Stripe retries with backoff.
type StripeWebhookHandler struct {
	verifier   WebhookVerifier
	billing    WebhookBillingRepo
	businesses WebhookBusinessRepo
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. secret is the
// endpoint's webhook signing secret.
func NewStripeWebhookHandler(
	verifier WebhookVerifier,
	billing WebhookBillingRepo,
	businesses WebhookBusinessRepo,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		billing:    billing,
		businesses: businesses,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. It is authenticated by
// signature, not by session, so it bypasses the gate.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle handles POST /v1/webhooks/stripe.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "failed to read webhook payload", err))
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), h.secret); err != nil {
		h.logger.Warn("webhook signature verification failed",
			"request_id", types.GetRequestID(r.Context()),
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookSignature, "invalid webhook signature", err))
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed webhook event", err))
		return
	}

	eventTime := time.Unix(event.Created, 0).UTC()

	var handleErr error
	switch event.Type {
	case "checkout.session.completed":
		handleErr = h.handleCheckoutCompleted(r.Context(), event, eventTime)
	case "customer.subscription.created", "customer.subscription.updated":
		handleErr = h.handleSubscriptionEvent(r.Context(), event, eventTime, "")
	case "customer.subscription.deleted":
		handleErr = h.handleSubscriptionEvent(r.Context(), event, eventTime, types.SubStatusCanceled)
	case "invoice.payment_failed":
		handleErr = h.handlePaymentFailed(r.Context(), event, eventTime)
	default:
		h.logger.Debug("ignoring unhandled webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
	}

	if handleErr != nil {
		h.logger.Error("webhook event processing failed",
			"request_id", types.GetRequestID(r.Context()),
			"event_id", event.ID,
			"event_type", event.Type,
			"error", handleErr,
		)
		core.Error(w, r, handleErr)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"received": true}})
}

// handleCheckoutCompleted processes a finished checkout. A payment-mode
// session is the one-time lifetime purchase; a subscription-mode session only
// establishes the customer link, because the subscription state arrives
// through its own events.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripeEvent, eventTime time.Time) error {
	var session checkoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed checkout session object", err)
	}

	businessID := session.ClientReferenceID
	if businessID == "" {
		businessID = session.Metadata["business_id"]
	}
	if businessID == "" {
		// Sessions created outside this API carry no tenant reference;
		// acknowledge and move on.
		h.logger.Warn("checkout session without business reference",
			"event_id", event.ID,
			"session_id", session.ID,
		)
		return nil
	}

	if err := h.billing.EnsureRecord(ctx, businessID, session.Customer); err != nil {
		return err
	}

	if session.Mode == "payment" {
		return h.billing.SetLifetime(ctx, businessID, eventTime)
	}
	return nil
}

// handleSubscriptionEvent applies a subscription lifecycle event. When
// statusOverride is set (deletion), it replaces the status on the object.
func (h *StripeWebhookHandler) handleSubscriptionEvent(ctx context.Context, event stripeEvent, eventTime time.Time, statusOverride types.SubscriptionStatus) error {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed subscription object", err)
	}

	business, err := h.resolveBusiness(ctx, event.ID, sub.Customer)
	if err != nil || business == nil {
		return err
	}

	status := types.SubscriptionStatus(sub.Status)
	if statusOverride != "" {
		status = statusOverride
	}

	var priceID string
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
	}

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &end
	}

	return h.billing.UpdateSubscriptionState(ctx, business.ID, sub.ID, priceID, status, periodEnd, eventTime)
}

// handlePaymentFailed moves the subscription to past_due.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event stripeEvent, eventTime time.Time) error {
	var inv invoiceObject
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed invoice object", err)
	}

	business, err := h.resolveBusiness(ctx, event.ID, inv.Customer)
	if err != nil || business == nil {
		return err
	}

	return h.billing.MarkPaymentFailed(ctx, business.ID, eventTime)
}

// resolveBusiness maps a Stripe customer id to a business. Unknown customers
// return (nil, nil): the event is acknowledged so Stripe does not retry a
// permanently unroutable delivery.
func (h *StripeWebhookHandler) resolveBusiness(ctx context.Context, eventID, customerID string) (*types.Business, error) {
	if customerID == "" {
		h.logger.Warn("webhook event without customer id", "event_id", eventID)
		return nil, nil
	}

	business, err := h.businesses.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundBusiness {
			h.logger.Warn("webhook event for unknown stripe customer",
				"event_id", eventID,
				"customer_id", customerID,
			)
			return nil, nil
		}
		return nil, err
	}
	return business, nil
}
