package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// UserRepository provides data access for the users table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.email, u.name, u.password_hash, u.is_super_admin,
	u.created_at, u.updated_at, u.deleted_at`

// scanUser scans a single user row into a types.User struct. The columns
// must match the order defined in userColumns. Nullable columns (name,
// password_hash) use pointer scan targets.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		name         *string
		passwordHash *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&name,
		&passwordHash,
		&u.IsSuperAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return &u, nil
}

// Create inserts a new user record. The caller must set the ID (prefixed
// UUID, e.g. "user_...") and required fields before calling.
// Returns a conflict error if the email is already registered.
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, is_super_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), COALESCE($7, NOW()))`,
		user.ID,
		user.Email,
		nilIfEmpty(user.Name),
		nilIfEmpty(user.PasswordHash),
		user.IsSuperAdmin,
		nilIfZeroTime(user.CreatedAt),
		nilIfZeroTime(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "email already registered", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetByID retrieves a user by id. Excludes soft-deleted users.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.id = $1 AND u.deleted_at IS NULL`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email for the login flow. The email must be
// canonicalized by the caller. Returns an auth_user_not_found error so the
// login flow can mask it as invalid credentials.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.email = $1 AND u.deleted_at IS NULL`,
		email,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthUserNotFound, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by email", err)
	}
	return u, nil
}

// UpdateLastLogin stamps the user's updated_at on successful login. Called
// inside the login transaction.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_login_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last login", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// UpdatePassword replaces the user's password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, newHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		newHash,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update password", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// Delete performs a soft delete by setting deleted_at = NOW(). The caller is
// responsible for invalidating sessions within the same transaction.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
