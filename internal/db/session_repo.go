package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// SessionRepository provides data access for the sessions table. The session
// id is the opaque cookie value, so lookups by id are the hot path of every
// authenticated request.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `s.id, s.user_id, s.csrf_token, s.ip_address, s.user_agent,
	s.expires_at, s.last_activity_at, s.created_at`

func scanSession(row pgx.Row) (*types.Session, error) {
	var sess types.Session
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.CSRFToken,
		&sess.IPAddress,
		&sess.UserAgent,
		&sess.ExpiresAt,
		&sess.LastActivityAt,
		&sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, csrf_token, ip_address, user_agent,
		 expires_at, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW()))`,
		session.ID,
		session.UserID,
		session.CSRFToken,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
		nilIfZeroTime(session.LastActivityAt),
		nilIfZeroTime(session.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID retrieves a session by its id. An unknown id returns an
// auth_token_invalid error so callers reject the credential with a 401
// without revealing whether the session ever existed.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions s
		 WHERE s.id = $1`,
		sessionID,
	)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve session", err)
	}
	return sess, nil
}

// TouchActivity updates the session's last_activity_at. Best-effort; the
// caller may ignore errors.
func (r *SessionRepository) TouchActivity(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET last_activity_at = NOW() WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch session activity", err)
	}
	return nil
}

// DeleteByID removes a single session (logout).
func (r *SessionRepository) DeleteByID(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}

// DeleteByUser removes all sessions for a user (revoke everywhere).
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete user sessions", err)
	}
	return nil
}

// DeleteExpiredByUser removes expired sessions for a user. Lazy cleanup
// performed during login.
func (r *SessionRepository) DeleteExpiredByUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND expires_at < NOW()`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	return nil
}

// DeleteExpired removes all expired sessions. Used by maintenance tooling.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	return tag.RowsAffected(), nil
}
