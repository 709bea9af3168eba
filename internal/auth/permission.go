package auth

import (
	"context"
	"fmt"

	"obrador/internal/types"
)

// MembershipLookup provides the membership row for a user within a business.
// Returns (nil, nil) when the user is not a member; errors are reserved for
// infrastructure failures.
type MembershipLookup interface {
	GetMembership(ctx context.Context, userID, businessID string) (*types.Membership, error)
}

// PermissionChecker answers whether a user may act within a business under a
// given set of allowed roles. Membership is exact-set: owner does not imply
// admin. Call sites wanting hierarchy expand it with types.RolesAtLeast.
type PermissionChecker struct {
	memberships MembershipLookup
}

// NewPermissionChecker creates a PermissionChecker over the given lookup.
func NewPermissionChecker(memberships MembershipLookup) *PermissionChecker {
	return &PermissionChecker{memberships: memberships}
}

// Check verifies that userID is a member of businessID with a role in
// allowedRoles, and returns the membership on success.
//
// Failure modes:
//   - not a member: permission_not_member
//   - member with a role outside the set: permission_role_insufficient,
//     message names the caller's role
//
// Infrastructure errors from the lookup propagate unchanged.
func (c *PermissionChecker) Check(ctx context.Context, userID, businessID string, allowedRoles []types.TeamRole) (*types.Membership, error) {
	m, err := c.memberships.GetMembership(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, types.NewAppError(
			types.ErrCodePermissionNotMember,
			"not a member of this business",
			nil,
		)
	}
	if !m.Role.In(allowedRoles) {
		return nil, types.NewAppError(
			types.ErrCodePermissionRole,
			fmt.Sprintf("role %s is not allowed for this operation", m.Role),
			nil,
		).WithDetails(map[string]any{"role": string(m.Role)})
	}
	return m, nil
}
