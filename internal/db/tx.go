package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"obrador/internal/auth"
	"obrador/internal/types"
)

// AuthTxManager runs the login flow's writes inside a single transaction,
// handing the callback transaction-scoped repositories. Implements
// auth.AuthTxManager.
type AuthTxManager struct {
	pool *pgxpool.Pool
}

// NewAuthTxManager creates an AuthTxManager over the given pool.
func NewAuthTxManager(pool *pgxpool.Pool) *AuthTxManager {
	return &AuthTxManager{pool: pool}
}

// RunInTx begins a transaction, invokes fn with repositories bound to it,
// and commits on success or rolls back on error. Application errors from the
// callback pass through unchanged; transaction machinery failures are
// wrapped as database errors.
func (m *AuthTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, txUserRepo auth.UserRepo, txSessionRepo auth.SessionRepo) error) error {
	err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewUserRepository(tx), NewSessionRepository(tx))
	})
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return types.NewAppError(types.ErrCodeInternalDB, "transaction failed", err)
	}
	return nil
}
