package billing

import (
	"testing"
	"time"

	"obrador/internal/types"
)

var resolverNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestResolver() *Resolver {
	return NewResolver(NewStaticCatalog(), types.FixedClock{T: resolverNow})
}

func strPtr(s string) *string { return &s }

func statusPtr(s types.SubscriptionStatus) *types.SubscriptionStatus { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestResolve_NilRecordIsFree(t *testing.T) {
	r := newTestResolver()
	fs := r.Resolve(nil)
	if fs.Tier != types.PlanFree {
		t.Errorf("Tier = %s, want %s", fs.Tier, types.PlanFree)
	}
}

func TestResolve_LifetimeOverridesEverything(t *testing.T) {
	r := newTestResolver()

	cases := []struct {
		name string
		rec  types.BillingRecord
	}{
		{"lifetime with no subscription", types.BillingRecord{IsLifetime: true}},
		{"lifetime with canceled subscription", types.BillingRecord{
			IsLifetime:         true,
			SubscriptionStatus: statusPtr(types.SubStatusCanceled),
		}},
		{"lifetime with unknown price", types.BillingRecord{
			IsLifetime:         true,
			PriceID:            strPtr("price_unmapped"),
			SubscriptionStatus: statusPtr(types.SubStatusActive),
		}},
		{"lifetime with expired trial", types.BillingRecord{
			IsLifetime:         true,
			SubscriptionStatus: statusPtr(types.SubStatusTrialing),
			CurrentPeriodEnd:   timePtr(resolverNow.Add(-24 * time.Hour)),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := r.Resolve(&tc.rec)
			if fs.Tier != types.PlanLifetime {
				t.Errorf("Tier = %s, want %s", fs.Tier, types.PlanLifetime)
			}
		})
	}
}

func TestResolve_ActiveSubscription(t *testing.T) {
	r := newTestResolver()
	rec := &types.BillingRecord{
		PriceID:            strPtr("price_pro_monthly"),
		SubscriptionStatus: statusPtr(types.SubStatusActive),
	}
	fs := r.Resolve(rec)
	if fs.Tier != types.PlanPro {
		t.Errorf("Tier = %s, want %s", fs.Tier, types.PlanPro)
	}
}

func TestResolve_TrialingStrictlyBeforeEnd(t *testing.T) {
	r := newTestResolver()

	cases := []struct {
		name string
		end  *time.Time
		want types.PlanTier
	}{
		{"trial ends in the future", timePtr(resolverNow.Add(time.Hour)), types.PlanBasic},
		{"trial ends exactly now", timePtr(resolverNow), types.PlanFree},
		{"trial ended in the past", timePtr(resolverNow.Add(-time.Hour)), types.PlanFree},
		{"trial end missing", nil, types.PlanFree},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &types.BillingRecord{
				PriceID:            strPtr("price_basic_monthly"),
				SubscriptionStatus: statusPtr(types.SubStatusTrialing),
				CurrentPeriodEnd:   tc.end,
			}
			fs := r.Resolve(rec)
			if fs.Tier != tc.want {
				t.Errorf("Tier = %s, want %s", fs.Tier, tc.want)
			}
		})
	}
}

func TestResolve_InactiveStatusesFallBackToFree(t *testing.T) {
	r := newTestResolver()

	statuses := []types.SubscriptionStatus{
		types.SubStatusCanceled,
		types.SubStatusPastDue,
		types.SubStatusUnpaid,
		types.SubStatusIncomplete,
		types.SubStatusIncompleteExpired,
	}

	for _, st := range statuses {
		rec := &types.BillingRecord{
			PriceID:            strPtr("price_pro_monthly"),
			SubscriptionStatus: statusPtr(st),
		}
		fs := r.Resolve(rec)
		if fs.Tier != types.PlanFree {
			t.Errorf("status %s: Tier = %s, want %s", st, fs.Tier, types.PlanFree)
		}
	}
}

func TestResolve_ActiveWithUnmappedPriceIsFree(t *testing.T) {
	// A price id removed from the catalog must not grant paid features even
	// while Stripe still reports the subscription active.
	r := newTestResolver()
	rec := &types.BillingRecord{
		PriceID:            strPtr("price_from_old_deploy"),
		SubscriptionStatus: statusPtr(types.SubStatusActive),
	}
	fs := r.Resolve(rec)
	if fs.Tier != types.PlanFree {
		t.Errorf("Tier = %s, want %s", fs.Tier, types.PlanFree)
	}
}

func TestResolve_ActiveWithNoPriceIsFree(t *testing.T) {
	r := newTestResolver()
	rec := &types.BillingRecord{
		SubscriptionStatus: statusPtr(types.SubStatusActive),
	}
	fs := r.Resolve(rec)
	if fs.Tier != types.PlanFree {
		t.Errorf("Tier = %s, want %s", fs.Tier, types.PlanFree)
	}
}

func TestEntitled(t *testing.T) {
	r := newTestResolver()

	cases := []struct {
		name string
		rec  *types.BillingRecord
		want bool
	}{
		{"nil record", nil, false},
		{"lifetime", &types.BillingRecord{IsLifetime: true}, true},
		{"active", &types.BillingRecord{
			SubscriptionStatus: statusPtr(types.SubStatusActive),
		}, true},
		{"unexpired trial", &types.BillingRecord{
			SubscriptionStatus: statusPtr(types.SubStatusTrialing),
			CurrentPeriodEnd:   timePtr(resolverNow.Add(time.Hour)),
		}, true},
		{"expired trial", &types.BillingRecord{
			SubscriptionStatus: statusPtr(types.SubStatusTrialing),
			CurrentPeriodEnd:   timePtr(resolverNow.Add(-time.Hour)),
		}, false},
		{"trial without end date", &types.BillingRecord{
			SubscriptionStatus: statusPtr(types.SubStatusTrialing),
		}, false},
		{"past_due", &types.BillingRecord{
			SubscriptionStatus: statusPtr(types.SubStatusPastDue),
		}, false},
		{"no status", &types.BillingRecord{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Entitled(tc.rec); got != tc.want {
				t.Errorf("Entitled = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewResolver_NilClockDefaultsToWallClock(t *testing.T) {
	r := NewResolver(NewStaticCatalog(), nil)
	rec := &types.BillingRecord{
		PriceID:            strPtr("price_pro_monthly"),
		SubscriptionStatus: statusPtr(types.SubStatusActive),
	}
	if fs := r.Resolve(rec); fs.Tier != types.PlanPro {
		t.Errorf("Tier = %s, want %s", fs.Tier, types.PlanPro)
	}
}
