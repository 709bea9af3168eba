package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"obrador/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockWebhookVerifier implements WebhookVerifier for testing.
type mockWebhookVerifier struct {
	shouldFail bool
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		return errors.New("signature verification failed")
	}
	return nil
}

// mockWebhookBillingRepo records billing snapshot writes.
type mockWebhookBillingRepo struct {
	ensureCalls   []ensureCall
	lifetimeCalls []lifetimeCall
	updateCalls   []subStateCall
	failedCalls   []paymentFailedCall

	ensureErr   error
	lifetimeErr error
	updateErr   error
	failedErr   error
}

type ensureCall struct {
	BusinessID string
	CustomerID string
}

type lifetimeCall struct {
	BusinessID string
	EventTime  time.Time
}

type subStateCall struct {
	BusinessID     string
	SubscriptionID string
	PriceID        string
	Status         types.SubscriptionStatus
	PeriodEnd      *time.Time
	EventTime      time.Time
}

type paymentFailedCall struct {
	BusinessID string
	EventTime  time.Time
}

func (m *mockWebhookBillingRepo) EnsureRecord(_ context.Context, businessID, customerID string) error {
	m.ensureCalls = append(m.ensureCalls, ensureCall{businessID, customerID})
	return m.ensureErr
}

func (m *mockWebhookBillingRepo) SetLifetime(_ context.Context, businessID string, ts time.Time) error {
	m.lifetimeCalls = append(m.lifetimeCalls, lifetimeCall{businessID, ts})
	return m.lifetimeErr
}

func (m *mockWebhookBillingRepo) UpdateSubscriptionState(_ context.Context, businessID, subID, priceID string, status types.SubscriptionStatus, periodEnd *time.Time, ts time.Time) error {
	m.updateCalls = append(m.updateCalls, subStateCall{businessID, subID, priceID, status, periodEnd, ts})
	return m.updateErr
}

func (m *mockWebhookBillingRepo) MarkPaymentFailed(_ context.Context, businessID string, ts time.Time) error {
	m.failedCalls = append(m.failedCalls, paymentFailedCall{businessID, ts})
	return m.failedErr
}

// mockWebhookBusinessRepo resolves Stripe customers to businesses.
type mockWebhookBusinessRepo struct {
	businesses map[string]*types.Business
	err        error
}

func (m *mockWebhookBusinessRepo) GetByStripeCustomerID(_ context.Context, customerID string) (*types.Business, error) {
	if m.err != nil {
		return nil, m.err
	}
	if b, ok := m.businesses[customerID]; ok {
		return b, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundBusiness, "no business for stripe customer", nil)
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newWebhookFixture() (*StripeWebhookHandler, *mockWebhookBillingRepo, *mockWebhookBusinessRepo, *mockWebhookVerifier) {
	billing := &mockWebhookBillingRepo{}
	businesses := &mockWebhookBusinessRepo{
		businesses: map[string]*types.Business{
			"cus_123": {ID: "biz_1", Name: "Horno de San Juan"},
		},
	}
	verifier := &mockWebhookVerifier{}
	h := NewStripeWebhookHandler(verifier, billing, businesses, "whsec_test", slog.Default())
	return h, billing, businesses, verifier
}

// buildStripeEvent creates a JSON-encoded Stripe event payload.
func buildStripeEvent(eventType, eventID string, created int64, dataObject any) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data": map[string]any{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

func postWebhook(h *StripeWebhookHandler, payload []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

const testEventCreated = int64(1767225600) // 2026-01-01T00:00:00Z

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	h, billing, _, verifier := newWebhookFixture()
	verifier.shouldFail = true

	rec := postWebhook(h, buildStripeEvent("customer.subscription.updated", "evt_1", testEventCreated, map[string]any{}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if len(billing.updateCalls) != 0 {
		t.Errorf("expected no billing writes after signature failure, got %d", len(billing.updateCalls))
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeWebhookSignature) {
		t.Errorf("expected code %q, got %q", types.ErrCodeWebhookSignature, resp.Error.Code)
	}
}

func TestWebhook_CheckoutPaymentModeSetsLifetime(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	payload := buildStripeEvent("checkout.session.completed", "evt_2", testEventCreated, map[string]any{
		"id":                  "cs_1",
		"mode":                "payment",
		"customer":            "cus_123",
		"client_reference_id": "biz_1",
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(billing.ensureCalls) != 1 {
		t.Fatalf("expected 1 EnsureRecord call, got %d", len(billing.ensureCalls))
	}
	if billing.ensureCalls[0].BusinessID != "biz_1" || billing.ensureCalls[0].CustomerID != "cus_123" {
		t.Errorf("unexpected EnsureRecord args: %+v", billing.ensureCalls[0])
	}
	if len(billing.lifetimeCalls) != 1 {
		t.Fatalf("expected 1 SetLifetime call, got %d", len(billing.lifetimeCalls))
	}
	want := time.Unix(testEventCreated, 0).UTC()
	if !billing.lifetimeCalls[0].EventTime.Equal(want) {
		t.Errorf("expected event time %v, got %v", want, billing.lifetimeCalls[0].EventTime)
	}
}

func TestWebhook_CheckoutSubscriptionModeOnlyEnsuresRecord(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	payload := buildStripeEvent("checkout.session.completed", "evt_3", testEventCreated, map[string]any{
		"id":       "cs_2",
		"mode":     "subscription",
		"customer": "cus_123",
		"metadata": map[string]string{"business_id": "biz_1"},
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(billing.ensureCalls) != 1 {
		t.Fatalf("expected 1 EnsureRecord call, got %d", len(billing.ensureCalls))
	}
	if len(billing.lifetimeCalls) != 0 {
		t.Errorf("subscription-mode checkout must not set lifetime, got %d calls", len(billing.lifetimeCalls))
	}
}

func TestWebhook_SubscriptionUpdatedAppliesState(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	periodEnd := int64(1774828800)
	payload := buildStripeEvent("customer.subscription.updated", "evt_4", testEventCreated, map[string]any{
		"id":                 "sub_1",
		"customer":           "cus_123",
		"status":             "active",
		"current_period_end": periodEnd,
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": "price_pro_monthly"}},
			},
		},
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(billing.updateCalls) != 1 {
		t.Fatalf("expected 1 UpdateSubscriptionState call, got %d", len(billing.updateCalls))
	}
	call := billing.updateCalls[0]
	if call.BusinessID != "biz_1" {
		t.Errorf("expected business biz_1, got %q", call.BusinessID)
	}
	if call.SubscriptionID != "sub_1" {
		t.Errorf("expected subscription sub_1, got %q", call.SubscriptionID)
	}
	if call.PriceID != "price_pro_monthly" {
		t.Errorf("expected price_pro_monthly, got %q", call.PriceID)
	}
	if call.Status != types.SubStatusActive {
		t.Errorf("expected status active, got %q", call.Status)
	}
	if call.PeriodEnd == nil || !call.PeriodEnd.Equal(time.Unix(periodEnd, 0).UTC()) {
		t.Errorf("unexpected period end: %v", call.PeriodEnd)
	}
}

func TestWebhook_SubscriptionDeletedForcesCanceled(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	payload := buildStripeEvent("customer.subscription.deleted", "evt_5", testEventCreated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_123",
		"status":   "active",
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(billing.updateCalls) != 1 {
		t.Fatalf("expected 1 UpdateSubscriptionState call, got %d", len(billing.updateCalls))
	}
	if billing.updateCalls[0].Status != types.SubStatusCanceled {
		t.Errorf("deletion must record canceled regardless of object status, got %q", billing.updateCalls[0].Status)
	}
}

func TestWebhook_PaymentFailedMarksPastDue(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	payload := buildStripeEvent("invoice.payment_failed", "evt_6", testEventCreated, map[string]any{
		"id":       "in_1",
		"customer": "cus_123",
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(billing.failedCalls) != 1 {
		t.Fatalf("expected 1 MarkPaymentFailed call, got %d", len(billing.failedCalls))
	}
	if billing.failedCalls[0].BusinessID != "biz_1" {
		t.Errorf("expected business biz_1, got %q", billing.failedCalls[0].BusinessID)
	}
}

func TestWebhook_UnknownCustomerAcknowledged(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	payload := buildStripeEvent("customer.subscription.updated", "evt_7", testEventCreated, map[string]any{
		"id":       "sub_9",
		"customer": "cus_unknown",
		"status":   "active",
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("unknown customer must be acknowledged with 200, got %d", rec.Code)
	}
	if len(billing.updateCalls) != 0 {
		t.Errorf("expected no billing writes for unknown customer, got %d", len(billing.updateCalls))
	}
}

func TestWebhook_UnhandledEventTypeAcknowledged(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()

	payload := buildStripeEvent("customer.created", "evt_8", testEventCreated, map[string]any{"id": "cus_123"})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unhandled event type, got %d", rec.Code)
	}
	if len(billing.ensureCalls)+len(billing.updateCalls)+len(billing.lifetimeCalls)+len(billing.failedCalls) != 0 {
		t.Error("expected no billing writes for unhandled event type")
	}
}

func TestWebhook_RepositoryErrorReturns500ForRetry(t *testing.T) {
	h, billing, _, _ := newWebhookFixture()
	billing.updateErr = types.NewAppError(types.ErrCodeInternalDB, "db unavailable", nil)

	payload := buildStripeEvent("customer.subscription.updated", "evt_9", testEventCreated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_123",
		"status":   "active",
	})

	rec := postWebhook(h, payload)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("repository failures must return 500 so Stripe retries, got %d", rec.Code)
	}
}
