package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"obrador/internal/billing"
	"obrador/internal/types"
)

var gateNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type stubSessionProvider struct {
	identity *types.Identity
	err      error

	// csrfToken, when set, is placed in the returned context the way the
	// resolver does for cookie credentials.
	csrfToken string
}

func (s *stubSessionProvider) IdentityFromRequest(r *http.Request) (context.Context, *types.Identity, error) {
	ctx := r.Context()
	if s.csrfToken != "" {
		ctx = types.WithSessionCSRFToken(ctx, s.csrfToken)
	}
	return ctx, s.identity, s.err
}

type stubPermissionChecker struct {
	membership *types.Membership
	err        error

	gotRoles []types.TeamRole
}

func (s *stubPermissionChecker) Check(ctx context.Context, userID, businessID string, allowedRoles []types.TeamRole) (*types.Membership, error) {
	s.gotRoles = allowedRoles
	return s.membership, s.err
}

type stubBillingLookup struct {
	record *types.BillingRecord
	err    error

	calls int
}

func (s *stubBillingLookup) GetBillingRecord(ctx context.Context, businessID string) (*types.BillingRecord, error) {
	s.calls++
	return s.record, s.err
}

type gateFixture struct {
	sessions    *stubSessionProvider
	permissions *stubPermissionChecker
	billing     *stubBillingLookup
	gate        *Gate
}

func newGateFixture(identity *types.Identity, rec *types.BillingRecord) *gateFixture {
	catalog := billing.NewStaticCatalog()
	f := &gateFixture{
		sessions:    &stubSessionProvider{identity: identity},
		permissions: &stubPermissionChecker{membership: &types.Membership{}},
		billing:     &stubBillingLookup{record: rec},
	}
	f.gate = NewGate(
		f.sessions,
		f.permissions,
		f.billing,
		billing.NewResolver(catalog, types.FixedClock{T: gateNow}),
		catalog,
		testLogger(),
	)
	return f
}

func memberIdentity(role types.TeamRole) *types.Identity {
	return &types.Identity{
		UserID:     "user_1",
		Email:      "ana@example.com",
		BusinessID: "biz_1",
		Role:       role,
	}
}

func activeProRecord() *types.BillingRecord {
	price := "price_pro_monthly"
	status := types.SubStatusActive
	return &types.BillingRecord{
		BusinessID:         "biz_1",
		PriceID:            &price,
		SubscriptionStatus: &status,
	}
}

func serveGate(g *Gate, opts GateOptions, next AuthorizedHandler) *httptest.ResponseRecorder {
	if next == nil {
		next = func(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
			JSON(w, r, http.StatusOK, APIResponse{Data: "ok"})
		}
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	g.Protect(opts, next)(rr, req)
	return rr
}

func decodeGateError(t *testing.T, rr *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}

func TestGate_MissingSessionIs401(t *testing.T) {
	f := newGateFixture(nil, nil)
	f.sessions.err = types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if detail := decodeGateError(t, rr); detail.Code != string(types.ErrCodeAuthTokenMissing) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodeAuthTokenMissing)
	}
}

func TestGate_NilIdentityWithoutErrorIs401(t *testing.T) {
	f := newGateFixture(nil, nil)

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestGate_SuperAdminBypass(t *testing.T) {
	f := newGateFixture(&types.Identity{
		UserID:       "user_admin",
		IsSuperAdmin: true,
	}, nil)

	var got types.AuthorizedContext
	rr := serveGate(f.gate, DefaultGateOptions(), func(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
		got = ac
		w.WriteHeader(http.StatusOK)
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got.BusinessID != SuperAdminBusinessID {
		t.Errorf("BusinessID = %s, want sentinel %s", got.BusinessID, SuperAdminBusinessID)
	}
	if got.Plan.Tier != types.PlanLifetime {
		t.Errorf("Plan.Tier = %s, want %s", got.Plan.Tier, types.PlanLifetime)
	}
	if f.billing.calls != 0 {
		t.Errorf("billing lookup called %d times during bypass, want 0", f.billing.calls)
	}
}

func TestGate_SuperAdminKeepsOwnBusinessID(t *testing.T) {
	id := memberIdentity(types.RoleOwner)
	id.IsSuperAdmin = true
	f := newGateFixture(id, nil)

	var got types.AuthorizedContext
	serveGate(f.gate, DefaultGateOptions(), func(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
		got = ac
		w.WriteHeader(http.StatusOK)
	})

	if got.BusinessID != "biz_1" {
		t.Errorf("BusinessID = %s, want biz_1", got.BusinessID)
	}
}

func TestGate_SuperAdminBypassDisabled(t *testing.T) {
	// With the bypass off, a super admin without a business hits the
	// business requirement like anyone else.
	f := newGateFixture(&types.Identity{
		UserID:       "user_admin",
		IsSuperAdmin: true,
	}, nil)

	opts := DefaultGateOptions()
	opts.AllowSuperAdminBypass = false
	rr := serveGate(f.gate, opts, nil)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	if detail := decodeGateError(t, rr); detail.Code != string(types.ErrCodePermissionNoBusiness) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodePermissionNoBusiness)
	}
}

func TestGate_NoBusinessIs403(t *testing.T) {
	f := newGateFixture(&types.Identity{UserID: "user_1"}, nil)

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	if detail := decodeGateError(t, rr); detail.Code != string(types.ErrCodePermissionNoBusiness) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodePermissionNoBusiness)
	}
}

func TestGate_RoleCheckFailurePropagatesVerbatim(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleEditor), activeProRecord())
	f.permissions.err = types.NewAppError(types.ErrCodePermissionRole, "role editor is not allowed for this operation", nil)

	opts := DefaultGateOptions()
	opts.AllowedRoles = []types.TeamRole{types.RoleOwner, types.RoleAdmin}
	rr := serveGate(f.gate, opts, nil)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	detail := decodeGateError(t, rr)
	if detail.Code != string(types.ErrCodePermissionRole) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodePermissionRole)
	}
	if detail.Message != "role editor is not allowed for this operation" {
		t.Errorf("message = %q should pass through unchanged", detail.Message)
	}
	if f.billing.calls != 0 {
		t.Error("billing must not be consulted after a role failure")
	}
}

func TestGate_RoleSetPassedThroughToChecker(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleAdmin), activeProRecord())

	opts := DefaultGateOptions()
	opts.AllowedRoles = types.RolesAtLeast(types.RoleAdmin)
	serveGate(f.gate, opts, nil)

	want := []types.TeamRole{types.RoleOwner, types.RoleAdmin}
	if len(f.permissions.gotRoles) != len(want) {
		t.Fatalf("checker received roles %v, want %v", f.permissions.gotRoles, want)
	}
	for i := range want {
		if f.permissions.gotRoles[i] != want[i] {
			t.Errorf("checker received roles %v, want %v", f.permissions.gotRoles, want)
			break
		}
	}
}

func TestGate_EmptyRoleSetSkipsChecker(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleEditor), activeProRecord())
	f.permissions.err = types.NewAppError(types.ErrCodePermissionRole, "should not be called", nil)

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
}

func TestGate_MissingBillingRecordIs404(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleOwner), nil)

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if detail := decodeGateError(t, rr); detail.Code != string(types.ErrCodeNotFoundBilling) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodeNotFoundBilling)
	}
}

func TestGate_PastDueSubscriptionIs402(t *testing.T) {
	price := "price_pro_monthly"
	status := types.SubStatusPastDue
	f := newGateFixture(memberIdentity(types.RoleOwner), &types.BillingRecord{
		BusinessID:         "biz_1",
		PriceID:            &price,
		SubscriptionStatus: &status,
	})

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusPaymentRequired)
	}
	if detail := decodeGateError(t, rr); detail.Code != string(types.ErrCodePaymentRequired) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodePaymentRequired)
	}
}

func TestGate_ExpiredTrialIs402(t *testing.T) {
	price := "price_basic_monthly"
	status := types.SubStatusTrialing
	end := gateNow.Add(-time.Hour)
	f := newGateFixture(memberIdentity(types.RoleOwner), &types.BillingRecord{
		BusinessID:         "biz_1",
		PriceID:            &price,
		SubscriptionStatus: &status,
		CurrentPeriodEnd:   &end,
	})

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusPaymentRequired)
	}
}

func TestGate_LifetimeSatisfiesSubscriptionRequirement(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleOwner), &types.BillingRecord{
		BusinessID: "biz_1",
		IsLifetime: true,
	})

	var got types.AuthorizedContext
	rr := serveGate(f.gate, DefaultGateOptions(), func(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
		got = ac
		w.WriteHeader(http.StatusOK)
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got.Plan.Tier != types.PlanLifetime {
		t.Errorf("Plan.Tier = %s, want %s", got.Plan.Tier, types.PlanLifetime)
	}
}

func TestGate_ProPlanWithRequiredFeatureSucceeds(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleOwner), activeProRecord())

	opts := DefaultGateOptions()
	opts.RequiredFeature = types.FeatureAdvancedAnalytics
	var got types.AuthorizedContext
	rr := serveGate(f.gate, opts, func(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
		got = ac
		w.WriteHeader(http.StatusOK)
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if !got.Plan.Has(types.FeatureAdvancedAnalytics) {
		t.Error("authorized context plan should carry the analytics flag")
	}
}

func TestGate_BasicPlanMissingFeatureIs403(t *testing.T) {
	price := "price_basic_monthly"
	status := types.SubStatusActive
	f := newGateFixture(memberIdentity(types.RoleOwner), &types.BillingRecord{
		BusinessID:         "biz_1",
		PriceID:            &price,
		SubscriptionStatus: &status,
	})

	opts := DefaultGateOptions()
	opts.RequiredFeature = types.FeatureAdvancedAnalytics
	rr := serveGate(f.gate, opts, nil)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	detail := decodeGateError(t, rr)
	if detail.Code != string(types.ErrCodePermissionFeature) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodePermissionFeature)
	}
	if detail.Details["feature"] != string(types.FeatureAdvancedAnalytics) {
		t.Errorf("details should name the feature, got %v", detail.Details)
	}
}

func TestGate_MinimumPlanBelowRequiredIs403(t *testing.T) {
	price := "price_basic_monthly"
	status := types.SubStatusActive
	f := newGateFixture(memberIdentity(types.RoleOwner), &types.BillingRecord{
		BusinessID:         "biz_1",
		PriceID:            &price,
		SubscriptionStatus: &status,
	})

	opts := DefaultGateOptions()
	opts.MinimumPlan = types.PlanPro
	rr := serveGate(f.gate, opts, nil)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	detail := decodeGateError(t, rr)
	if detail.Code != string(types.ErrCodePermissionPlan) {
		t.Errorf("code = %s, want %s", detail.Code, types.ErrCodePermissionPlan)
	}
	if detail.Details["current_plan"] != string(types.PlanBasic) || detail.Details["required_plan"] != string(types.PlanPro) {
		t.Errorf("details should name both tiers, got %v", detail.Details)
	}
}

func TestGate_BillingLookupFailureIs500(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleOwner), nil)
	f.billing.err = types.NewAppError(types.ErrCodeInternalDB, "query failed", nil)

	rr := serveGate(f.gate, DefaultGateOptions(), nil)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestGate_NoBillingChecksSkipsLookup(t *testing.T) {
	f := newGateFixture(memberIdentity(types.RoleOwner), nil)

	opts := GateOptions{
		RequiresBusiness:      true,
		AllowSuperAdminBypass: true,
	}
	rr := serveGate(f.gate, opts, nil)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	if f.billing.calls != 0 {
		t.Errorf("billing lookup called %d times, want 0", f.billing.calls)
	}
}

func TestGate_FeatureCheckWithoutSubscriptionRequirement(t *testing.T) {
	// Billing endpoints drop the subscription requirement but may still pin
	// a feature; the plan must be resolved even on the free fallback.
	f := newGateFixture(memberIdentity(types.RoleOwner), &types.BillingRecord{
		BusinessID: "biz_1",
	})

	opts := DefaultGateOptions()
	opts.RequiresActiveSubscription = false
	opts.RequiredFeature = types.FeatureBudgetCalculator
	rr := serveGate(f.gate, opts, nil)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d (free plan lacks the flag)", rr.Code, http.StatusForbidden)
	}
}
