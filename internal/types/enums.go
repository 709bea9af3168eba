package types

// PlanTier identifies the subscription plan for a business.
// Tiers are totally ordered: Free < Basic < Pro < Lifetime.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanBasic    PlanTier = "basic"
	PlanPro      PlanTier = "pro"
	PlanLifetime PlanTier = "lifetime"
)

// tierOrdinals defines the fixed tier ordering used for minimum-plan checks.
// Unknown tiers map to the Free ordinal so comparisons fail closed.
var tierOrdinals = map[PlanTier]int{
	PlanFree:     0,
	PlanBasic:    1,
	PlanPro:      2,
	PlanLifetime: 3,
}

// Ordinal returns the tier's position in the fixed ordering.
// Unknown tiers are treated as Free.
func (t PlanTier) Ordinal() int {
	return tierOrdinals[t]
}

// AtLeast reports whether t grants at least the entitlement level of other.
func (t PlanTier) AtLeast(other PlanTier) bool {
	return t.Ordinal() >= other.Ordinal()
}

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	_, ok := tierOrdinals[t]
	return ok
}

// TeamRole defines authorization levels within a business.
type TeamRole string

const (
	RoleOwner  TeamRole = "owner"
	RoleAdmin  TeamRole = "admin"
	RoleEditor TeamRole = "editor"
)

// roleRanks defines the fixed role ordering Owner > Admin > Editor.
// Unknown roles rank below every valid role.
var roleRanks = map[TeamRole]int{
	RoleEditor: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Rank returns the role's position in the fixed ordering; 0 for unknown roles.
func (r TeamRole) Rank() int {
	return roleRanks[r]
}

// Valid reports whether r is a known role.
func (r TeamRole) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// In reports whether r is a member of the given role set. Membership is
// exact: an owner is not "in" a set that only names admin.
func (r TeamRole) In(roles []TeamRole) bool {
	for _, allowed := range roles {
		if r == allowed {
			return true
		}
	}
	return false
}

// RolesAtLeast expands a minimum role into the explicit set of roles ranked
// equal or higher. Call sites that mean "at least admin" should use this
// instead of hand-enumerating sets, which drift as roles are added.
func RolesAtLeast(min TeamRole) []TeamRole {
	var roles []TeamRole
	for _, r := range []TeamRole{RoleOwner, RoleAdmin, RoleEditor} {
		if r.Rank() >= min.Rank() {
			roles = append(roles, r)
		}
	}
	return roles
}

// SubscriptionStatus represents the state of a billing subscription as stored
// on the business billing record. Values mirror Stripe's wire values.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// FeatureFlag names a boolean entitlement in a plan's feature set.
// The values are the product's wire names. These MUST stay stable: they
// appear in route configuration and in payloads consumed by the web client.
type FeatureFlag string

const (
	FeatureAdvancedAnalytics  FeatureFlag = "analiticasAvanzadas"
	FeatureMultiUser          FeatureFlag = "multiUsuario"
	FeaturePrioritySupport    FeatureFlag = "soportePrioritario"
	FeatureCustomIntegrations FeatureFlag = "integracionesPersonalizadas"
	FeatureBudgetCalculator   FeatureFlag = "calculadoraPresupuestos"
)

// OrderStatus represents the lifecycle state of a bakery order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderReady      OrderStatus = "ready"
	OrderDelivered  OrderStatus = "delivered"
	OrderCanceled   OrderStatus = "canceled"
)

// InvitationStatus represents the lifecycle state of a team invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)
