package types

import (
	"time"
)

// FeatureSet is the resolved entitlement bundle for a plan tier: quota caps
// plus boolean feature flags. Quota fields use 0 to mean unlimited.
// JSON keys for the flags are the product's wire names (see FeatureFlag).
type FeatureSet struct {
	Tier PlanTier `json:"tier"`

	MaxOrdersPerMonth int `json:"maxOrdersPerMonth"`
	MaxCustomers      int `json:"maxCustomers"`
	MaxRecipes        int `json:"maxRecipes"`

	AdvancedAnalytics  bool `json:"analiticasAvanzadas"`
	MultiUser          bool `json:"multiUsuario"`
	PrioritySupport    bool `json:"soportePrioritario"`
	CustomIntegrations bool `json:"integracionesPersonalizadas"`
	BudgetCalculator   bool `json:"calculadoraPresupuestos"`
}

// Has reports whether the named feature flag is enabled in this set.
// Unknown flags are disabled.
func (f FeatureSet) Has(flag FeatureFlag) bool {
	switch flag {
	case FeatureAdvancedAnalytics:
		return f.AdvancedAnalytics
	case FeatureMultiUser:
		return f.MultiUser
	case FeaturePrioritySupport:
		return f.PrioritySupport
	case FeatureCustomIntegrations:
		return f.CustomIntegrations
	case FeatureBudgetCalculator:
		return f.BudgetCalculator
	default:
		return false
	}
}

// WithinQuota reports whether adding one more item keeps current under the
// cap. A cap of 0 means unlimited.
func WithinQuota(current, cap int) bool {
	return cap == 0 || current < cap
}

// User is a human account. Users may belong to at most one business through
// a Membership row; super admins operate across businesses.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name,omitempty" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	IsSuperAdmin bool       `json:"-" db:"is_super_admin"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time `json:"-" db:"deleted_at"`
}

// Business is the tenant: a bakery with its own orders, customers, recipes,
// team, and billing state. The Stripe subscription snapshot lives inline on
// the row; the gate reads it through BillingRecord.
type Business struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	BillingEmail     string     `json:"billing_email" db:"billing_email"`
	StripeCustomerID string     `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time `json:"-" db:"deleted_at"`
}

// BillingRecord is the subscription snapshot for a business, maintained by
// the Stripe webhook handler and read by the plan resolver. Pointer fields
// are nil when the business has never had a subscription.
type BillingRecord struct {
	BusinessID           string              `json:"business_id" db:"business_id"`
	StripeCustomerID     string              `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID *string             `json:"-" db:"stripe_subscription_id"`
	PriceID              *string             `json:"price_id,omitempty" db:"stripe_price_id"`
	IsLifetime           bool                `json:"is_lifetime" db:"is_lifetime"`
	SubscriptionStatus   *SubscriptionStatus `json:"subscription_status,omitempty" db:"subscription_status"`
	CurrentPeriodEnd     *time.Time          `json:"current_period_end,omitempty" db:"current_period_end"`
	LastEventAt          *time.Time          `json:"-" db:"last_subscription_event_at"`
}

// Session is a server-side login session. The opaque id doubles as the
// cookie value; CSRFToken is issued alongside it for mutating requests.
type Session struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	CSRFToken      string    `db:"csrf_token"`
	IPAddress      string    `db:"ip_address"`
	UserAgent      string    `db:"user_agent"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at"`
}

// Invitation is a pending offer to join a business team. Delivered by email
// through the queue worker; accepted invitations become Memberships.
type Invitation struct {
	ID         string           `json:"id" db:"id"`
	BusinessID string           `json:"business_id" db:"business_id"`
	Email      string           `json:"email" db:"email"`
	Role       TeamRole         `json:"role" db:"role"`
	Token      string           `json:"-" db:"token_hash"`
	Status     InvitationStatus `json:"status" db:"status"`
	InvitedBy  string           `json:"invited_by" db:"invited_by"`
	ExpiresAt  time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// SecurityEvent records an authentication attempt for brute force tracking.
type SecurityEvent struct {
	ID            string    `db:"id"`
	EventType     string    `db:"event_type"`
	Identifier    string    `db:"identifier"`
	IPAddress     string    `db:"ip_address"`
	AttemptedAt   time.Time `db:"attempted_at"`
	Success       bool      `db:"success"`
	FailureReason string    `db:"failure_reason"`
}

// Customer is a bakery client the business takes orders for.
type Customer struct {
	ID         string    `json:"id" db:"id"`
	BusinessID string    `json:"business_id" db:"business_id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email,omitempty" db:"email"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	Notes      string    `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// OrderItem is one line of an order. Stored as JSONB on the order row.
type OrderItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// OrderItemList is the JSONB column type for an order's line items.
type OrderItemList []OrderItem

// Total returns the sum of quantity x unit price over all items.
func (l OrderItemList) Total() float64 {
	var total float64
	for _, it := range l {
		total += float64(it.Quantity) * it.UnitPrice
	}
	return total
}

// Order is a customer order with a delivery date and line items.
type Order struct {
	ID           string        `json:"id" db:"id"`
	BusinessID   string        `json:"business_id" db:"business_id"`
	CustomerID   string        `json:"customer_id" db:"customer_id"`
	Status       OrderStatus   `json:"status" db:"status"`
	Items        OrderItemList `json:"items" db:"items"`
	Notes        string        `json:"notes,omitempty" db:"notes"`
	DeliveryDate time.Time     `json:"delivery_date" db:"delivery_date"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// Ingredient is one component of a recipe with its cost basis.
type Ingredient struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unit_cost"`
}

// IngredientList is the JSONB column type for a recipe's ingredients.
type IngredientList []Ingredient

// Cost returns the summed ingredient cost (quantity x unit cost).
func (l IngredientList) Cost() float64 {
	var total float64
	for _, ing := range l {
		total += ing.Quantity * ing.UnitCost
	}
	return total
}

// Recipe is a product recipe with ingredient costing and a target margin
// used to compute the suggested sale price.
type Recipe struct {
	ID            string         `json:"id" db:"id"`
	BusinessID    string         `json:"business_id" db:"business_id"`
	Name          string         `json:"name" db:"name"`
	Servings      int            `json:"servings" db:"servings"`
	Ingredients   IngredientList `json:"ingredients" db:"ingredients"`
	MarginPercent float64        `json:"margin_percent" db:"margin_percent"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// SuggestedPrice returns ingredient cost marked up by the recipe's margin.
func (r *Recipe) SuggestedPrice() float64 {
	cost := r.Ingredients.Cost()
	return cost * (1 + r.MarginPercent/100)
}
