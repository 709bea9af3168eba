package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// OrderRepository provides data access for the orders table. Every query is
// scoped by business_id; cross-tenant reads are structurally impossible.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository creates a new OrderRepository backed by the given
// database connection (pool or transaction).
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `o.id, o.business_id, o.customer_id, o.status, o.items,
	o.notes, o.delivery_date, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	var notes *string
	err := row.Scan(
		&o.ID,
		&o.BusinessID,
		&o.CustomerID,
		&o.Status,
		&o.Items,
		&notes,
		&o.DeliveryDate,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		o.Notes = *notes
	}
	return &o, nil
}

// Create inserts a new order. Items are stored as JSONB through the
// OrderItemList valuer.
func (r *OrderRepository) Create(ctx context.Context, order *types.Order) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO orders (id, business_id, customer_id, status, items, notes,
		 delivery_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()))`,
		order.ID,
		order.BusinessID,
		order.CustomerID,
		order.Status,
		order.Items,
		nilIfEmpty(order.Notes),
		order.DeliveryDate,
		nilIfZeroTime(order.CreatedAt),
		nilIfZeroTime(order.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create order", err)
	}
	return nil
}

// GetByID retrieves an order scoped to a business.
func (r *OrderRepository) GetByID(ctx context.Context, id, businessID string) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders o
		 WHERE o.id = $1 AND o.business_id = $2`,
		id,
		businessID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve order", err)
	}
	return order, nil
}

// List returns orders for a business ordered by delivery date, optionally
// filtered by status. Limit/offset pagination; callers cap the limit.
func (r *OrderRepository) List(ctx context.Context, businessID string, status *types.OrderStatus, limit, offset int) ([]*types.Order, error) {
	query := `SELECT ` + orderColumns + `
		 FROM orders o
		 WHERE o.business_id = $1`
	args := []any{businessID}

	if status != nil {
		query += ` AND o.status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY o.delivery_date ASC, o.id ASC`

	if status != nil {
		query += ` LIMIT $3 OFFSET $4`
	} else {
		query += ` LIMIT $2 OFFSET $3`
	}
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list orders", err)
	}
	defer rows.Close()

	var orders []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate orders", err)
	}
	return orders, nil
}

// Update rewrites the mutable order fields (customer, status, items, notes,
// delivery date).
func (r *OrderRepository) Update(ctx context.Context, order *types.Order) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders
		 SET customer_id = $1,
		     status = $2,
		     items = $3,
		     notes = $4,
		     delivery_date = $5,
		     updated_at = NOW()
		 WHERE id = $6 AND business_id = $7`,
		order.CustomerID,
		order.Status,
		order.Items,
		nilIfEmpty(order.Notes),
		order.DeliveryDate,
		order.ID,
		order.BusinessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update order", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	return nil
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id, businessID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM orders WHERE id = $1 AND business_id = $2`,
		id,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete order", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	return nil
}

// CountForMonth returns the number of orders created in the calendar month
// containing ref (UTC). Feeds the monthly order quota check.
func (r *OrderRepository) CountForMonth(ctx context.Context, businessID string, ref time.Time) (int, error) {
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	nextMonth := monthStart.AddDate(0, 1, 0)

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders
		 WHERE business_id = $1 AND created_at >= $2 AND created_at < $3`,
		businessID,
		monthStart,
		nextMonth,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count monthly orders", err)
	}
	return count, nil
}
