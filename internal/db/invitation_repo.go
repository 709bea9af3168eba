package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// InvitationRepository provides data access for the invitations table. Raw
// invitation tokens are never stored; the token column holds a SHA-256 hex
// digest and lookups hash the presented token first.
type InvitationRepository struct {
	db DBTX
}

// NewInvitationRepository creates a new InvitationRepository backed by the
// given database connection (pool or transaction).
func NewInvitationRepository(db DBTX) *InvitationRepository {
	return &InvitationRepository{db: db}
}

const invitationColumns = `i.id, i.business_id, i.email, i.role, i.token_hash,
	i.status, i.invited_by, i.expires_at, i.created_at`

func scanInvitation(row pgx.Row) (*types.Invitation, error) {
	var inv types.Invitation
	err := row.Scan(
		&inv.ID,
		&inv.BusinessID,
		&inv.Email,
		&inv.Role,
		&inv.Token,
		&inv.Status,
		&inv.InvitedBy,
		&inv.ExpiresAt,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create inserts a new pending invitation. A partial unique index on
// (business_id, email) WHERE status = 'pending' rejects duplicate open
// invitations for the same address.
func (r *InvitationRepository) Create(ctx context.Context, inv *types.Invitation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO invitations (id, business_id, email, role, token_hash,
		 status, invited_by, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		inv.ID,
		inv.BusinessID,
		inv.Email,
		inv.Role,
		inv.Token,
		inv.Status,
		inv.InvitedBy,
		inv.ExpiresAt,
		nilIfZeroTime(inv.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictInvitation, "a pending invitation already exists for this email", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create invitation", err)
	}
	return nil
}

// GetByTokenHash retrieves a pending, unexpired invitation by the SHA-256
// hash of the raw token. Expired or consumed invitations return the same
// token-invalid error as unknown ones.
func (r *InvitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations i
		 WHERE i.token_hash = $1 AND i.status = 'pending' AND i.expires_at > NOW()`,
		tokenHash,
	)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid or expired invitation token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve invitation", err)
	}
	return inv, nil
}

// GetByID retrieves an invitation scoped to a business.
func (r *InvitationRepository) GetByID(ctx context.Context, id, businessID string) (*types.Invitation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations i
		 WHERE i.id = $1 AND i.business_id = $2`,
		id,
		businessID,
	)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvitation, "invitation not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve invitation", err)
	}
	return inv, nil
}

// ListByBusiness returns all invitations for a business, newest first.
func (r *InvitationRepository) ListByBusiness(ctx context.Context, businessID string) ([]*types.Invitation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+invitationColumns+`
		 FROM invitations i
		 WHERE i.business_id = $1
		 ORDER BY i.created_at DESC`,
		businessID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list invitations", err)
	}
	defer rows.Close()

	var invs []*types.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invitation", err)
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate invitations", err)
	}
	return invs, nil
}

// UpdateStatus transitions an invitation. Only pending invitations may move;
// accepting an already-consumed invitation is a no-op conflict.
func (r *InvitationRepository) UpdateStatus(ctx context.Context, id string, status types.InvitationStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE invitations SET status = $1
		 WHERE id = $2 AND status = 'pending'`,
		status,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update invitation status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictInvitation, "invitation is no longer pending", nil)
	}
	return nil
}
