package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// BusinessRepository provides data access for the businesses table.
type BusinessRepository struct {
	db DBTX
}

// NewBusinessRepository creates a new BusinessRepository backed by the given
// database connection (pool or transaction).
func NewBusinessRepository(db DBTX) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// businessColumns defines the standard set of columns selected for business
// queries. Used consistently across all query methods to avoid column drift.
const businessColumns = `b.id, b.name, b.billing_email, b.stripe_customer_id,
	b.created_at, b.updated_at, b.deleted_at`

// scanBusiness scans a single business row. The columns must match the order
// defined in businessColumns.
func scanBusiness(row pgx.Row) (*types.Business, error) {
	var b types.Business
	var stripeCustomerID *string

	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.BillingEmail,
		&stripeCustomerID,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeCustomerID != nil {
		b.StripeCustomerID = *stripeCustomerID
	}
	return &b, nil
}

// Create inserts a new business record. The caller must set the ID (prefixed
// UUID, e.g. "biz_...") and required fields before calling.
func (r *BusinessRepository) Create(ctx context.Context, biz *types.Business) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO businesses (id, name, billing_email, stripe_customer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), COALESCE($6, NOW()))`,
		biz.ID,
		biz.Name,
		biz.BillingEmail,
		nilIfEmpty(biz.StripeCustomerID),
		nilIfZeroTime(biz.CreatedAt),
		nilIfZeroTime(biz.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create business", err)
	}
	return nil
}

// GetByID retrieves a business by id. Excludes soft-deleted businesses.
func (r *BusinessRepository) GetByID(ctx context.Context, id string) (*types.Business, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+businessColumns+`
		 FROM businesses b
		 WHERE b.id = $1 AND b.deleted_at IS NULL`,
		id,
	)

	biz, err := scanBusiness(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundBusiness, "business not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve business", err)
	}
	return biz, nil
}

// GetByStripeCustomerID resolves a business from its Stripe customer id.
// Used by the webhook handler to map incoming events to a tenant.
func (r *BusinessRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Business, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+businessColumns+`
		 FROM businesses b
		 WHERE b.stripe_customer_id = $1 AND b.deleted_at IS NULL`,
		customerID,
	)

	biz, err := scanBusiness(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundBusiness, "no business for stripe customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve stripe customer", err)
	}
	return biz, nil
}

// GetBillingInfo returns the stripe_customer_id and billing_email for a
// business. The customer id is empty when the business has never touched
// Stripe.
func (r *BusinessRepository) GetBillingInfo(ctx context.Context, businessID string) (string, string, error) {
	var (
		customerID *string
		email      string
	)
	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id, billing_email FROM businesses
		 WHERE id = $1 AND deleted_at IS NULL`,
		businessID,
	).Scan(&customerID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundBusiness, "business not found", nil)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve billing info", err)
	}
	if customerID == nil {
		return "", email, nil
	}
	return *customerID, email, nil
}

// Update applies changes to the mutable business fields (name,
// billing_email). The updated_at timestamp is set by the database.
func (r *BusinessRepository) Update(ctx context.Context, biz *types.Business) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE businesses
		 SET name = $1,
		     billing_email = $2,
		     updated_at = NOW()
		 WHERE id = $3 AND deleted_at IS NULL`,
		biz.Name,
		biz.BillingEmail,
		biz.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update business", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBusiness, "business not found", nil)
	}
	return nil
}

// UpdateStripeCustomerID stores the Stripe customer id after the first
// checkout session is created for the business.
func (r *BusinessRepository) UpdateStripeCustomerID(ctx context.Context, id, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE businesses SET stripe_customer_id = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		customerID,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBusiness, "business not found", nil)
	}
	return nil
}

// Delete performs a soft delete by setting deleted_at = NOW(). The caller
// must cancel the Stripe subscription before calling Delete.
func (r *BusinessRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE businesses SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete business", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBusiness, "business not found or already deleted", nil)
	}
	return nil
}
