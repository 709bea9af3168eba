package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// BillingRepository manages the billing_records table, the local snapshot of
// each business's Stripe subscription state.
//
// Key invariants:
//   - Webhook-driven updates use optimistic locking via
//     last_subscription_event_at, so out-of-order or duplicate Stripe events
//     become idempotent no-ops.
//   - Updates check the owning business's deleted_at to prevent zombie
//     billing state on deleted tenants.
type BillingRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewBillingRepository creates a new BillingRepository backed by the given
// database connection (pool or transaction).
func NewBillingRepository(db DBTX, logger *slog.Logger) *BillingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingRepository{db: db, logger: logger}
}

// billingColumns defines the standard set of columns selected for billing
// queries. Used consistently across all query methods to avoid column drift.
const billingColumns = `br.business_id, br.stripe_customer_id, br.stripe_subscription_id,
	br.stripe_price_id, br.is_lifetime, br.subscription_status,
	br.current_period_end, br.last_subscription_event_at`

// scanBillingRecord scans a single billing row. The columns must match the
// order defined in billingColumns.
func scanBillingRecord(row pgx.Row) (*types.BillingRecord, error) {
	var rec types.BillingRecord
	var status *string

	err := row.Scan(
		&rec.BusinessID,
		&rec.StripeCustomerID,
		&rec.StripeSubscriptionID,
		&rec.PriceID,
		&rec.IsLifetime,
		&status,
		&rec.CurrentPeriodEnd,
		&rec.LastEventAt,
	)
	if err != nil {
		return nil, err
	}
	if status != nil {
		s := types.SubscriptionStatus(*status)
		rec.SubscriptionStatus = &s
	}
	return &rec, nil
}

// GetBillingRecord retrieves the billing snapshot for a business. Returns
// (nil, nil) when the business has no billing record yet; the caller decides
// what that means (the API gate answers 404).
func (r *BillingRepository) GetBillingRecord(ctx context.Context, businessID string) (*types.BillingRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+billingColumns+`
		 FROM billing_records br
		 WHERE br.business_id = $1`,
		businessID,
	)

	rec, err := scanBillingRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve billing record", err)
	}
	return rec, nil
}

// EnsureRecord creates the billing row for a business on first contact with
// Stripe, or refreshes the customer id if the row already exists. Safe to
// call repeatedly.
func (r *BillingRepository) EnsureRecord(ctx context.Context, businessID, stripeCustomerID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_records (business_id, stripe_customer_id, is_lifetime, created_at, updated_at)
		 VALUES ($1, $2, false, NOW(), NOW())
		 ON CONFLICT (business_id)
		 DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id, updated_at = NOW()`,
		businessID,
		stripeCustomerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure billing record", err)
	}
	return nil
}

// checkBusinessActive rejects billing writes against soft-deleted tenants.
// Logs an alert so Ops can cancel the dangling Stripe subscription manually.
func (r *BillingRepository) checkBusinessActive(ctx context.Context, businessID string) error {
	var deletedAt *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT deleted_at FROM businesses WHERE id = $1`,
		businessID,
	).Scan(&deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundBusiness, "business not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check business status", err)
	}
	if deletedAt != nil {
		r.logger.Error("billing event received for deleted business",
			slog.String("business_id", businessID),
		)
		return types.NewAppError(types.ErrCodeConflictConcurrent, "business is deleted; billing update rejected", nil)
	}
	return nil
}

// UpdateSubscriptionState applies a Stripe subscription event to the local
// snapshot. The update only wins when the event is newer than the last
// applied one; stale or duplicate events are logged and silently ignored.
func (r *BillingRepository) UpdateSubscriptionState(
	ctx context.Context,
	businessID string,
	subscriptionID string,
	priceID string,
	status types.SubscriptionStatus,
	currentPeriodEnd *time.Time,
	eventTimestamp time.Time,
) error {
	if err := r.checkBusinessActive(ctx, businessID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE billing_records
		 SET stripe_subscription_id = $1,
		     stripe_price_id = $2,
		     subscription_status = $3,
		     current_period_end = $4,
		     last_subscription_event_at = $5,
		     updated_at = NOW()
		 WHERE business_id = $6
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $5)`,
		nilIfEmpty(subscriptionID),
		nilIfEmpty(priceID),
		string(status),
		currentPeriodEnd,
		eventTimestamp,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription state", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("stale subscription event ignored",
			slog.String("business_id", businessID),
			slog.Time("event_timestamp", eventTimestamp),
		)
	}
	return nil
}

// SetLifetime marks the business as lifetime-entitled after a one-time
// lifetime purchase completes. Lifetime is sticky: later subscription events
// never clear the flag.
func (r *BillingRepository) SetLifetime(ctx context.Context, businessID string, eventTimestamp time.Time) error {
	if err := r.checkBusinessActive(ctx, businessID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE billing_records
		 SET is_lifetime = true,
		     last_subscription_event_at = GREATEST(COALESCE(last_subscription_event_at, $1), $1),
		     updated_at = NOW()
		 WHERE business_id = $2`,
		eventTimestamp,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set lifetime entitlement", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBilling, "billing record not found", nil)
	}
	return nil
}

// MarkPaymentFailed records a failed invoice by moving the subscription to
// past_due. Uses the same optimistic lock as subscription updates so a later
// recovery event is never overwritten by a stale failure.
func (r *BillingRepository) MarkPaymentFailed(ctx context.Context, businessID string, eventTimestamp time.Time) error {
	if err := r.checkBusinessActive(ctx, businessID); err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE billing_records
		 SET subscription_status = $1,
		     last_subscription_event_at = $2,
		     updated_at = NOW()
		 WHERE business_id = $3
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $2)`,
		string(types.SubStatusPastDue),
		eventTimestamp,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record payment failure", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("stale payment failure event ignored",
			slog.String("business_id", businessID),
			slog.Time("event_timestamp", eventTimestamp),
		)
	}
	return nil
}
