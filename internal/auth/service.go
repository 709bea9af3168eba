package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"obrador/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// UserRepo defines the data access methods needed by AuthService.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	GetByID(ctx context.Context, userID string) (*types.User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}

// AuthTxManager abstracts transactional execution for the AuthService.
// The callback receives transaction-scoped repositories so every write in
// the login flow commits or rolls back together.
type AuthTxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// NewPasswordHasher returns the production bcrypt hasher.
func NewPasswordHasher() PasswordHasher {
	return &bcryptHasher{}
}

// HashToken produces a hex-encoded SHA-256 hash of a raw token string.
// Used for invitation tokens, which must be searchable in the database
// (unlike bcrypt hashes, which are salted).
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// AuthService verifies credentials and manages login sessions.
type AuthService struct {
	userRepo   UserRepo
	sessionSvc *sessionService
	security   SecurityService
	txManager  AuthTxManager
	hasher     PasswordHasher
	clock      types.Clock
	logger     *slog.Logger
}

// AuthServiceConfig holds the dependencies for creating an AuthService.
type AuthServiceConfig struct {
	UserRepo       UserRepo
	SessionService *sessionService
	Security       SecurityService
	TxManager      AuthTxManager
	Hasher         PasswordHasher
	Clock          types.Clock
	Logger         *slog.Logger
}

// NewAuthService creates a new AuthService.
// Nil Hasher, Clock, or Logger fall back to the production defaults.
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:   cfg.UserRepo,
		sessionSvc: cfg.SessionService,
		security:   cfg.Security,
		txManager:  cfg.TxManager,
		hasher:     hasher,
		clock:      clock,
		logger:     logger,
	}
}

// Login verifies credentials and creates a session within a transaction.
//
// Flow:
//  1. Reject if the email or IP is blocked by brute force protection.
//  2. Fetch user by email; not-found is masked as invalid credentials so
//     the endpoint cannot be used for account enumeration.
//  3. Verify the password hash.
//  4. In one transaction: update last_login_at, create the session, and
//     lazily delete the user's expired sessions.
//  5. Record the attempt with the SecurityService on every path.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*types.User, *types.Session, error) {
	email = CanonicalizeEmail(email)

	if s.security.IsIdentifierBlocked(ctx, email) || s.security.IsIPBlocked(ctx, ip) {
		return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "too many failed attempts, try again later", nil)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeAuthUserNotFound {
			_ = s.security.RecordAttempt(ctx, "login", email, ip, false, "user_not_found")
			return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
		}
		return nil, nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		_ = s.security.RecordAttempt(ctx, "login", email, ip, false, "invalid_creds")
		return nil, nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
	}

	var session *types.Session
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context, txUserRepo UserRepo, txSessionRepo SessionRepo) error {
		if updateErr := txUserRepo.UpdateLastLogin(txCtx, user.ID); updateErr != nil {
			return updateErr
		}

		txSessionSvc := s.sessionSvc.withRepo(txSessionRepo)
		sess, _, createErr := txSessionSvc.CreateSession(txCtx, user.ID, ip, "")
		if createErr != nil {
			return createErr
		}
		session = sess

		if cleanupErr := txSessionRepo.DeleteExpiredByUser(txCtx, user.ID); cleanupErr != nil {
			// The scheduled cleanup will catch orphaned sessions.
			s.logger.Warn("failed to clean expired sessions during login",
				"user_id", user.ID,
				"error", cleanupErr,
			)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	_ = s.security.RecordAttempt(ctx, "login", email, ip, true, "")

	s.logger.Info("user logged in",
		"user_id", user.ID,
		"email", email,
	)

	return user, session, nil
}

// Logout invalidates the given session.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessionSvc.InvalidateSession(ctx, sessionID)
}
