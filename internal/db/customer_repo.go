package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// CustomerRepository provides data access for the customers table.
type CustomerRepository struct {
	db DBTX
}

// NewCustomerRepository creates a new CustomerRepository backed by the given
// database connection (pool or transaction).
func NewCustomerRepository(db DBTX) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = `c.id, c.business_id, c.name, c.email, c.phone, c.notes,
	c.created_at, c.updated_at`

func scanCustomer(row pgx.Row) (*types.Customer, error) {
	var c types.Customer
	var (
		email *string
		phone *string
		notes *string
	)
	err := row.Scan(
		&c.ID,
		&c.BusinessID,
		&c.Name,
		&email,
		&phone,
		&notes,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		c.Email = *email
	}
	if phone != nil {
		c.Phone = *phone
	}
	if notes != nil {
		c.Notes = *notes
	}
	return &c, nil
}

// Create inserts a new customer.
func (r *CustomerRepository) Create(ctx context.Context, c *types.Customer) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO customers (id, business_id, name, email, phone, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW()))`,
		c.ID,
		c.BusinessID,
		c.Name,
		nilIfEmpty(c.Email),
		nilIfEmpty(c.Phone),
		nilIfEmpty(c.Notes),
		nilIfZeroTime(c.CreatedAt),
		nilIfZeroTime(c.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create customer", err)
	}
	return nil
}

// GetByID retrieves a customer scoped to a business.
func (r *CustomerRepository) GetByID(ctx context.Context, id, businessID string) (*types.Customer, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+customerColumns+`
		 FROM customers c
		 WHERE c.id = $1 AND c.business_id = $2`,
		id,
		businessID,
	)

	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve customer", err)
	}
	return c, nil
}

// List returns customers for a business ordered by name.
func (r *CustomerRepository) List(ctx context.Context, businessID string, limit, offset int) ([]*types.Customer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+customerColumns+`
		 FROM customers c
		 WHERE c.business_id = $1
		 ORDER BY c.name ASC, c.id ASC
		 LIMIT $2 OFFSET $3`,
		businessID,
		limit,
		offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list customers", err)
	}
	defer rows.Close()

	var customers []*types.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan customer", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate customers", err)
	}
	return customers, nil
}

// Update rewrites the mutable customer fields.
func (r *CustomerRepository) Update(ctx context.Context, c *types.Customer) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers
		 SET name = $1, email = $2, phone = $3, notes = $4, updated_at = NOW()
		 WHERE id = $5 AND business_id = $6`,
		c.Name,
		nilIfEmpty(c.Email),
		nilIfEmpty(c.Phone),
		nilIfEmpty(c.Notes),
		c.ID,
		c.BusinessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update customer", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
	}
	return nil
}

// Delete removes a customer. Orders keep their customer_id reference; the
// schema uses ON DELETE RESTRICT so customers with orders cannot be removed.
func (r *CustomerRepository) Delete(ctx context.Context, id, businessID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM customers WHERE id = $1 AND business_id = $2`,
		id,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete customer", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
	}
	return nil
}

// Count returns the total customers for a business. Feeds the customer
// quota check.
func (r *CustomerRepository) Count(ctx context.Context, businessID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM customers WHERE business_id = $1`,
		businessID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count customers", err)
	}
	return count, nil
}
