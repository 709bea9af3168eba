// Package auth implements authentication, session management, and the
// role-based permission checks used by the API gate.
package auth

import (
	"context"
	"log/slog"
	"time"

	"obrador/internal/types"
)

// SecurityConfig holds the tunable thresholds for brute force protection.
type SecurityConfig struct {
	// IPBlockThreshold is the number of failed attempts from an IP within
	// the window before the IP is blocked.
	IPBlockThreshold int

	// IdentifierBlockThreshold is the number of failed login attempts for a
	// specific identifier (email) within the window before it is blocked.
	IdentifierBlockThreshold int

	// WindowDuration is the time window for counting recent failures.
	WindowDuration time.Duration
}

// DefaultSecurityConfig returns the default brute force thresholds.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		IPBlockThreshold:         100,
		IdentifierBlockThreshold: 5,
		WindowDuration:           15 * time.Minute,
	}
}

// SecurityRepo defines the data access methods needed by the SecurityService.
type SecurityRepo interface {
	LogAttempt(ctx context.Context, event *types.SecurityEvent) error
	CountRecentFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountRecentFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error)
}

// SecurityService tracks authentication attempts and answers blocking
// decisions for the login flow.
type SecurityService interface {
	RecordAttempt(ctx context.Context, eventType, identifier, ip string, success bool, reason string) error
	IsIPBlocked(ctx context.Context, ip string) bool
	IsIdentifierBlocked(ctx context.Context, identifier string) bool
}

type securityService struct {
	repo   SecurityRepo
	config SecurityConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewSecurityService creates the production SecurityService.
func NewSecurityService(repo SecurityRepo, config SecurityConfig, clock types.Clock, logger *slog.Logger) SecurityService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &securityService{
		repo:   repo,
		config: config,
		clock:  clock,
		logger: logger,
	}
}

// RecordAttempt logs a security event. Called on both successful and failed
// authentication attempts.
func (s *securityService) RecordAttempt(ctx context.Context, eventType, identifier, ip string, success bool, reason string) error {
	event := &types.SecurityEvent{
		EventType:     eventType,
		Identifier:    identifier,
		IPAddress:     ip,
		AttemptedAt:   s.clock.Now(),
		Success:       success,
		FailureReason: reason,
	}

	if err := s.repo.LogAttempt(ctx, event); err != nil {
		s.logger.Error("failed to record security attempt",
			"event_type", eventType,
			"identifier", identifier,
			"ip", ip,
			"error", err,
		)
		return err
	}
	return nil
}

// IsIPBlocked reports whether an IP has exceeded the failure threshold in
// the configured window. On repo error it fails open: a database issue must
// not lock out legitimate users.
func (s *securityService) IsIPBlocked(ctx context.Context, ip string) bool {
	since := s.clock.Now().Add(-s.config.WindowDuration)
	count, err := s.repo.CountRecentFailuresByIP(ctx, ip, since)
	if err != nil {
		s.logger.Error("failed to check IP block status",
			"ip", ip,
			"error", err,
		)
		return false
	}
	return count >= s.config.IPBlockThreshold
}

// IsIdentifierBlocked reports whether an identifier (email) has exceeded the
// failure threshold in the configured window. Fails open on repo error.
func (s *securityService) IsIdentifierBlocked(ctx context.Context, identifier string) bool {
	since := s.clock.Now().Add(-s.config.WindowDuration)
	count, err := s.repo.CountRecentFailuresByIdentifier(ctx, identifier, since)
	if err != nil {
		s.logger.Error("failed to check identifier block status",
			"identifier", identifier,
			"error", err,
		)
		return false
	}
	return count >= s.config.IdentifierBlockThreshold
}
