package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"obrador/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// BusinessBillingLookup is the minimal data access StripeClient needs to
// resolve a business into its Stripe customer id and billing email.
type BusinessBillingLookup interface {
	// GetBillingInfo returns the stripe_customer_id and billing_email for
	// the business. Returns ("", email, nil) when the business exists but
	// has never touched Stripe.
	GetBillingInfo(ctx context.Context, businessID string) (stripeCustomerID string, billingEmail string, err error)

	// UpdateStripeCustomerID stores the customer id after creation.
	UpdateStripeCustomerID(ctx context.Context, businessID string, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient talks to the Stripe REST API directly through BaseClient,
// which provides the circuit breaker and retry behavior and keeps the client
// trivially testable with httptest.
type StripeClient struct {
	base       *BaseClient
	secretKey  string
	baseURL    string
	businesses BusinessBillingLookup
	logger     *slog.Logger
}

// NewStripeClient creates a StripeClient. The httpClient should carry a
// timeout of around 20 seconds.
func NewStripeClient(
	httpClient *http.Client,
	businesses BusinessBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"Obrador/1.0",
	)
	return NewStripeClientWithBase(base, businesses, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Used by tests to control retry behavior.
func NewStripeClientWithBase(
	base *BaseClient,
	businesses BusinessBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:       base,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		businesses: businesses,
		logger:     logger,
	}
}

// SubscriptionInfo is the dashboard-facing snapshot of the live Stripe
// subscription.
type SubscriptionInfo struct {
	Status            types.SubscriptionStatus `json:"status"`
	PriceID           string                   `json:"price_id,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end,omitempty"`
}

// EnsureCustomer retrieves or creates the Stripe customer for a business.
// Search-first on metadata['business_id'] prevents duplicate customers when
// checkout is retried.
func (s *StripeClient) EnsureCustomer(ctx context.Context, businessID string, email string) (string, error) {
	customerID, billingEmail, err := s.businesses.GetBillingInfo(ctx, businessID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}
	if email == "" {
		email = billingEmail
	}

	searchParams := url.Values{}
	searchParams.Set("query", fmt.Sprintf("metadata['business_id']:'%s'", businessID))

	searchResp, err := s.doGet(ctx, "/v1/customers/search", searchParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		id := searchResult.Data[0].ID
		s.storeCustomerID(ctx, businessID, id)
		return id, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[business_id]", businessID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	s.storeCustomerID(ctx, businessID, customer.ID)
	return customer.ID, nil
}

// storeCustomerID persists the customer id. Failure is logged, not fatal:
// the next EnsureCustomer finds the customer again via search.
func (s *StripeClient) storeCustomerID(ctx context.Context, businessID, customerID string) {
	if err := s.businesses.UpdateStripeCustomerID(ctx, businessID, customerID); err != nil {
		s.logger.WarnContext(ctx, "failed to store stripe customer id",
			"business_id", businessID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCheckoutSession generates a Stripe Checkout URL for a subscription
// price or, when lifetime is true, a one-time lifetime purchase. The
// business id rides along as client_reference_id and metadata for webhook
// correlation.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	businessID string,
	priceID string,
	lifetime bool,
	successURL string,
	cancelURL string,
) (checkoutURL string, sessionID string, err error) {
	customerID, err := s.EnsureCustomer(ctx, businessID, "")
	if err != nil {
		return "", "", err
	}

	mode := "subscription"
	if lifetime {
		mode = "payment"
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", mode)
	params.Set("client_reference_id", businessID)
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("metadata[business_id]", businessID)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL where the owner
// manages payment methods and cancellation.
func (s *StripeClient) CreatePortalSession(ctx context.Context, businessID string, returnURL string) (string, error) {
	customerID, _, err := s.businesses.GetBillingInfo(ctx, businessID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", types.NewAppError(
			types.ErrCodeNotFoundBilling,
			"business has no billing relationship yet",
			nil,
		)
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// GetSubscription retrieves the live subscription for the business. Returns
// nil when the customer has no subscription (free tier or lifetime).
func (s *StripeClient) GetSubscription(ctx context.Context, businessID string) (*SubscriptionInfo, error) {
	customerID, _, err := s.businesses.GetBillingInfo(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, nil
	}

	queryParams := url.Values{}
	queryParams.Set("customer", customerID)
	queryParams.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", queryParams)
	if err != nil {
		return nil, s.wrapStripeError("GetSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var listResp stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscriptions response",
			err,
		)
	}

	if len(listResp.Data) == 0 {
		return nil, nil
	}

	sub := listResp.Data[0]
	info := &SubscriptionInfo{
		Status:            types.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		info.CurrentPeriodEnd = &end
	}
	if len(sub.Items.Data) > 0 {
		info.PriceID = sub.Items.Data[0].Price.ID
	}
	return info, nil
}

// --- HTTP helpers ---

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// --- Error handling ---

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error body and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
		)
	}
}

// wrapStripeError passes AppErrors from BaseClient through unchanged and
// wraps anything else as a Stripe upstream failure.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// --- Stripe response types ---

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID                string                  `json:"id"`
	Status            string                  `json:"status"`
	CancelAtPeriodEnd bool                    `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64                   `json:"current_period_end"`
	Items             stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// --- Webhook verification ---

// StripeVerifier validates webhook payload signatures using stripe-go's
// HMAC-SHA256 check with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the endpoint's signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
