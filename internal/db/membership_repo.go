package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// MembershipRepository provides data access for the memberships table, which
// links users to businesses with a team role. It backs both the permission
// checker (GetMembership) and the identity resolver (GetPrimaryMembership).
type MembershipRepository struct {
	db DBTX
}

// NewMembershipRepository creates a new MembershipRepository backed by the
// given database connection (pool or transaction).
func NewMembershipRepository(db DBTX) *MembershipRepository {
	return &MembershipRepository{db: db}
}

const membershipColumns = `m.user_id, m.business_id, m.role, m.joined_at`

func scanMembership(row pgx.Row) (*types.Membership, error) {
	var m types.Membership
	err := row.Scan(
		&m.UserID,
		&m.BusinessID,
		&m.Role,
		&m.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMembership retrieves the membership of a user in a specific business.
// Returns (nil, nil) when the user is not a member; the permission checker
// translates that into a not-member denial.
func (r *MembershipRepository) GetMembership(ctx context.Context, userID, businessID string) (*types.Membership, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+membershipColumns+`
		 FROM memberships m
		 JOIN businesses b ON b.id = m.business_id
		 WHERE m.user_id = $1 AND m.business_id = $2 AND b.deleted_at IS NULL`,
		userID,
		businessID,
	)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve membership", err)
	}
	return m, nil
}

// GetPrimaryMembership retrieves the user's earliest membership. Users belong
// to a single business in practice; the oldest row wins if data drift ever
// produces more than one. Returns (nil, nil) when the user has no business.
func (r *MembershipRepository) GetPrimaryMembership(ctx context.Context, userID string) (*types.Membership, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+membershipColumns+`
		 FROM memberships m
		 JOIN businesses b ON b.id = m.business_id
		 WHERE m.user_id = $1 AND b.deleted_at IS NULL
		 ORDER BY m.joined_at ASC
		 LIMIT 1`,
		userID,
	)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve primary membership", err)
	}
	return m, nil
}

// ListByBusiness returns all members of a business ordered by join date.
func (r *MembershipRepository) ListByBusiness(ctx context.Context, businessID string) ([]*types.Membership, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+membershipColumns+`
		 FROM memberships m
		 WHERE m.business_id = $1
		 ORDER BY m.joined_at ASC`,
		businessID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list members", err)
	}
	defer rows.Close()

	var members []*types.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan membership", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate members", err)
	}
	return members, nil
}

// Create adds a user to a business team. Returns a conflict error when the
// user is already a member.
func (r *MembershipRepository) Create(ctx context.Context, m *types.Membership) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO memberships (user_id, business_id, role, joined_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		m.UserID,
		m.BusinessID,
		m.Role,
		nilIfZeroTime(m.JoinedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "user is already a member", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create membership", err)
	}
	return nil
}

// UpdateRole changes a member's role within a business.
func (r *MembershipRepository) UpdateRole(ctx context.Context, userID, businessID string, role types.TeamRole) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE memberships SET role = $1
		 WHERE user_id = $2 AND business_id = $3`,
		role,
		userID,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update member role", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil)
	}
	return nil
}

// Delete removes a user from a business team. The caller enforces the last
// owner constraint before calling Delete.
func (r *MembershipRepository) Delete(ctx context.Context, userID, businessID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND business_id = $2`,
		userID,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to remove member", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil)
	}
	return nil
}

// CountOwners returns the number of owner-role members of a business. Used
// by role-change and removal logic to keep at least one owner. The caller is
// responsible for running inside a transaction when the count guards a
// mutation.
func (r *MembershipRepository) CountOwners(ctx context.Context, businessID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships
		 WHERE business_id = $1 AND role = 'owner'`,
		businessID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count owners", err)
	}
	return count, nil
}

// CountMembers returns the total team size for a business. Used by the
// invitation flow to decide whether the multi-user feature is required.
func (r *MembershipRepository) CountMembers(ctx context.Context, businessID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE business_id = $1`,
		businessID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count members", err)
	}
	return count, nil
}
