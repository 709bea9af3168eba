// Package billing provides the plan catalog and plan resolution logic.
package billing

import "obrador/internal/types"

// Catalog is the authoritative mapping from Stripe price ids to plan tiers
// and from tiers to feature sets. It is a deploy-time constant; nothing is
// fetched at runtime.
type Catalog interface {
	// TierForPrice returns the tier a Stripe price id maps to. The second
	// return is false for unknown ids; callers apply the Free fallback.
	TierForPrice(priceID string) (types.PlanTier, bool)

	// FeaturesFor returns the feature set for the given tier. Total: unknown
	// tiers return the Free set so enforcement fails safely.
	FeaturesFor(tier types.PlanTier) types.FeatureSet

	// FeaturesForPrice resolves a price id directly to its feature set,
	// equivalent to TierForPrice followed by FeaturesFor with the Free
	// fallback applied.
	FeaturesForPrice(priceID string) types.FeatureSet
}

// priceTiers maps Stripe price ids to tiers. Monthly and annual prices of a
// plan map to the same tier; the lifetime purchase is a one-time payment and
// never appears here (it sets the is_lifetime flag via webhook instead).
var priceTiers = map[string]types.PlanTier{
	"price_basic_monthly": types.PlanBasic,
	"price_basic_yearly":  types.PlanBasic,
	"price_pro_monthly":   types.PlanPro,
	"price_pro_yearly":    types.PlanPro,
}

// tierFeatures defines the hardcoded entitlements per tier.
// Quota value 0 means unlimited; enforcement code must treat 0 as no cap.
var tierFeatures = map[types.PlanTier]types.FeatureSet{
	types.PlanFree: {
		Tier:              types.PlanFree,
		MaxOrdersPerMonth: 10,
		MaxCustomers:      20,
		MaxRecipes:        5,
	},
	types.PlanBasic: {
		Tier:              types.PlanBasic,
		MaxOrdersPerMonth: 100,
		MaxCustomers:      200,
		MaxRecipes:        50,
		MultiUser:         true,
		BudgetCalculator:  true,
	},
	types.PlanPro: {
		Tier:               types.PlanPro,
		MaxOrdersPerMonth:  0,
		MaxCustomers:       0,
		MaxRecipes:         0,
		AdvancedAnalytics:  true,
		MultiUser:          true,
		PrioritySupport:    true,
		CustomIntegrations: true,
		BudgetCalculator:   true,
	},
	types.PlanLifetime: {
		Tier:               types.PlanLifetime,
		MaxOrdersPerMonth:  0,
		MaxCustomers:       0,
		MaxRecipes:         0,
		AdvancedAnalytics:  true,
		MultiUser:          true,
		PrioritySupport:    true,
		CustomIntegrations: true,
		BudgetCalculator:   true,
	},
}

// freeFeatures is cached to avoid map lookups on the fallback path.
var freeFeatures = tierFeatures[types.PlanFree]

// staticCatalog is the standard production Catalog, backed by the in-memory
// tables above.
type staticCatalog struct {
	prices   map[string]types.PlanTier
	features map[types.PlanTier]types.FeatureSet
}

// NewStaticCatalog returns the production Catalog. The package-level tables
// are copied so callers cannot mutate them through the returned value.
func NewStaticCatalog() Catalog {
	p := make(map[string]types.PlanTier, len(priceTiers))
	for k, v := range priceTiers {
		p[k] = v
	}
	f := make(map[types.PlanTier]types.FeatureSet, len(tierFeatures))
	for k, v := range tierFeatures {
		f[k] = v
	}
	return &staticCatalog{prices: p, features: f}
}

func (c *staticCatalog) TierForPrice(priceID string) (types.PlanTier, bool) {
	tier, ok := c.prices[priceID]
	return tier, ok
}

func (c *staticCatalog) FeaturesFor(tier types.PlanTier) types.FeatureSet {
	if fs, ok := c.features[tier]; ok {
		return fs
	}
	return freeFeatures
}

func (c *staticCatalog) FeaturesForPrice(priceID string) types.FeatureSet {
	tier, ok := c.TierForPrice(priceID)
	if !ok {
		return freeFeatures
	}
	return c.FeaturesFor(tier)
}
