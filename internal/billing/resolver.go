package billing

import (
	"time"

	"obrador/internal/types"
)

// Resolver turns a business's billing snapshot into the feature set it is
// entitled to right now. Resolution is a pure function of the record and the
// clock; it never errors and never touches the network.
type Resolver struct {
	catalog Catalog
	clock   types.Clock
}

// NewResolver creates a Resolver. A nil clock defaults to the wall clock.
func NewResolver(catalog Catalog, clock types.Clock) *Resolver {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Resolver{catalog: catalog, clock: clock}
}

// Resolve returns the feature set for the given billing record at the
// resolver's current time. A nil record resolves to the Free set.
//
// Priority order, first match wins:
//  1. Lifetime purchase grants the Lifetime set regardless of any
//     subscription state, including canceled or absent.
//  2. An active subscription, or a trialing one whose period end is strictly
//     in the future, grants the tier the price id maps to.
//  3. Everything else falls back to Free: canceled, past_due, unpaid,
//     expired trials, unknown price ids, no billing row.
func (r *Resolver) Resolve(rec *types.BillingRecord) types.FeatureSet {
	return r.ResolveAt(rec, r.clock.Now())
}

// ResolveAt is Resolve with an explicit evaluation time.
func (r *Resolver) ResolveAt(rec *types.BillingRecord, now time.Time) types.FeatureSet {
	if rec == nil {
		return r.catalog.FeaturesFor(types.PlanFree)
	}
	if rec.IsLifetime {
		return r.catalog.FeaturesFor(types.PlanLifetime)
	}
	if !entitledAt(rec, now) {
		return r.catalog.FeaturesFor(types.PlanFree)
	}
	if rec.PriceID == nil {
		return r.catalog.FeaturesFor(types.PlanFree)
	}
	tier, ok := r.catalog.TierForPrice(*rec.PriceID)
	if !ok {
		return r.catalog.FeaturesFor(types.PlanFree)
	}
	return r.catalog.FeaturesFor(tier)
}

// Entitled reports whether the record grants paid access at the resolver's
// current time: lifetime, active, or an unexpired trial. This is the check
// behind the gate's subscription requirement.
func (r *Resolver) Entitled(rec *types.BillingRecord) bool {
	if rec == nil {
		return false
	}
	if rec.IsLifetime {
		return true
	}
	return entitledAt(rec, r.clock.Now())
}

// entitledAt reports whether the subscription status grants access at the
// given time. Trials with a missing or non-future period end do not count;
// entitlement fails closed.
func entitledAt(rec *types.BillingRecord, now time.Time) bool {
	if rec.SubscriptionStatus == nil {
		return false
	}
	switch *rec.SubscriptionStatus {
	case types.SubStatusActive:
		return true
	case types.SubStatusTrialing:
		return rec.CurrentPeriodEnd != nil && rec.CurrentPeriodEnd.After(now)
	default:
		return false
	}
}
