package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"obrador/internal/auth"
	"obrador/internal/core"
	"obrador/internal/queue"
	"obrador/internal/types"
)

// invitationTTL is how long an invitation link stays valid.
const invitationTTL = 7 * 24 * time.Hour

// TeamMembershipRepo defines the membership data access used by the team
// handler.
type TeamMembershipRepo interface {
	GetMembership(ctx context.Context, userID, businessID string) (*types.Membership, error)
	ListByBusiness(ctx context.Context, businessID string) ([]*types.Membership, error)
	Create(ctx context.Context, m *types.Membership) error
	UpdateRole(ctx context.Context, userID, businessID string, role types.TeamRole) error
	Delete(ctx context.Context, userID, businessID string) error
	CountOwners(ctx context.Context, businessID string) (int, error)
}

// TeamInvitationRepo defines the invitation data access used by the team
// handler.
type TeamInvitationRepo interface {
	Create(ctx context.Context, inv *types.Invitation) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*types.Invitation, error)
	GetByID(ctx context.Context, id, businessID string) (*types.Invitation, error)
	ListByBusiness(ctx context.Context, businessID string) ([]*types.Invitation, error)
	UpdateStatus(ctx context.Context, id string, status types.InvitationStatus) error
}

// TeamBusinessLookup fetches the business for invitation email rendering.
type TeamBusinessLookup interface {
	GetByID(ctx context.Context, id string) (*types.Business, error)
}

// InvitationNotifier enqueues invitation emails for asynchronous delivery.
// Implemented by queue.EmailTrigger.
type InvitationNotifier interface {
	SendInvitationEmail(ctx context.Context, msg queue.InvitationEmailMessage) error
}

// InviteTokenSource generates the raw invitation token. Implemented by
// auth.CryptoTokenGenerator.
type InviteTokenSource interface {
	GenerateSecureToken() (string, error)
}

// InviteMemberRequest is the request body for POST /v1/team/invitations.
// Owner is not an invitable role; a business has at most one owner.
type InviteMemberRequest struct {
	Email string         `json:"email" validate:"required,email"`
	Role  types.TeamRole `json:"role" validate:"required,oneof=admin editor"`
}

// ChangeRoleRequest is the request body for PATCH /v1/team/members/{userID}.
type ChangeRoleRequest struct {
	Role types.TeamRole `json:"role" validate:"required,team_role"`
}

// AcceptInvitationRequest is the request body for POST /v1/invitations/accept.
type AcceptInvitationRequest struct {
	Token string `json:"token" validate:"required"`
}

// TeamHandler manages team membership and invitations.
type TeamHandler struct {
	memberships TeamMembershipRepo
	invitations TeamInvitationRepo
	businesses  TeamBusinessLookup
	notifier    InvitationNotifier
	tokens      InviteTokenSource
	gate        *core.Gate
	validator   *core.Validator
	webAppURL   string
	clock       types.Clock
	logger      *slog.Logger
}

// TeamHandlerConfig holds the dependencies for creating a TeamHandler.
type TeamHandlerConfig struct {
	Memberships TeamMembershipRepo
	Invitations TeamInvitationRepo
	Businesses  TeamBusinessLookup
	Notifier    InvitationNotifier
	Tokens      InviteTokenSource
	Gate        *core.Gate
	Validator   *core.Validator
	WebAppURL   string
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewTeamHandler creates a TeamHandler.
func NewTeamHandler(cfg TeamHandlerConfig) *TeamHandler {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TeamHandler{
		memberships: cfg.Memberships,
		invitations: cfg.Invitations,
		businesses:  cfg.Businesses,
		notifier:    cfg.Notifier,
		tokens:      cfg.Tokens,
		gate:        cfg.Gate,
		validator:   cfg.Validator,
		webAppURL:   cfg.WebAppURL,
		clock:       clock,
		logger:      logger,
	}
}

// RegisterRoutes mounts the team routes on the v1 router.
//
// Inviting requires at least admin role plus the multi-user plan feature.
// Role changes are owner-only. Accepting an invitation only needs a session:
// the caller has no business yet.
func (h *TeamHandler) RegisterRoutes(r chi.Router) {
	memberOpts := core.DefaultGateOptions()

	adminOpts := core.DefaultGateOptions()
	adminOpts.AllowedRoles = types.RolesAtLeast(types.RoleAdmin)

	inviteOpts := core.DefaultGateOptions()
	inviteOpts.AllowedRoles = types.RolesAtLeast(types.RoleAdmin)
	inviteOpts.RequiredFeature = types.FeatureMultiUser

	ownerOpts := core.DefaultGateOptions()
	ownerOpts.AllowedRoles = []types.TeamRole{types.RoleOwner}

	acceptOpts := core.GateOptions{
		RequiresBusiness:           false,
		RequiresActiveSubscription: false,
	}

	r.Route("/team", func(r chi.Router) {
		r.Get("/members", h.gate.Protect(memberOpts, h.ListMembers))
		r.Patch("/members/{userID}", h.gate.Protect(ownerOpts, h.ChangeRole))
		r.Delete("/members/{userID}", h.gate.Protect(adminOpts, h.RemoveMember))

		r.Get("/invitations", h.gate.Protect(adminOpts, h.ListInvitations))
		r.Post("/invitations", h.gate.Protect(inviteOpts, h.Invite))
		r.Delete("/invitations/{id}", h.gate.Protect(adminOpts, h.RevokeInvitation))
	})

	r.Post("/invitations/accept", h.gate.Protect(acceptOpts, h.AcceptInvitation))
}

// ListMembers handles GET /v1/team/members.
func (h *TeamHandler) ListMembers(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	members, err := h.memberships.ListByBusiness(r.Context(), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: members})
}

// Invite handles POST /v1/team/invitations. The raw token is generated here,
// only its hash is persisted, and the raw value rides to the recipient
// through the email queue.
func (h *TeamHandler) Invite(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req InviteMemberRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rawToken, err := h.tokens.GenerateSecureToken()
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate invitation token", err))
		return
	}

	now := h.clock.Now()
	invitation := &types.Invitation{
		ID:         "inv_" + uuid.New().String(),
		BusinessID: ac.BusinessID,
		Email:      auth.CanonicalizeEmail(req.Email),
		Role:       req.Role,
		Token:      auth.HashToken(rawToken),
		Status:     types.InvitationPending,
		InvitedBy:  ac.UserID,
		ExpiresAt:  now.Add(invitationTTL),
		CreatedAt:  now,
	}

	if err := h.invitations.Create(r.Context(), invitation); err != nil {
		core.Error(w, r, err)
		return
	}

	business, err := h.businesses.GetByID(r.Context(), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var meta *types.ResponseMeta
	msg := queue.InvitationEmailMessage{
		InvitationID: invitation.ID,
		BusinessID:   ac.BusinessID,
		BusinessName: business.Name,
		Email:        invitation.Email,
		Role:         invitation.Role,
		InvitedBy:    ac.UserID,
		AcceptURL:    h.acceptURL(rawToken),
		ExpiresAt:    invitation.ExpiresAt,
	}
	if err := h.notifier.SendInvitationEmail(r.Context(), msg); err != nil {
		// The invitation stays valid; the admin can resend or share the link
		// from the pending list.
		h.logger.Error("failed to enqueue invitation email",
			"request_id", types.GetRequestID(r.Context()),
			"invitation_id", invitation.ID,
			"error", err,
		)
		meta = &types.ResponseMeta{Warnings: []string{"invitation created but the email could not be queued"}}
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: invitation, Meta: meta})
}

// ListInvitations handles GET /v1/team/invitations.
func (h *TeamHandler) ListInvitations(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	invitations, err := h.invitations.ListByBusiness(r.Context(), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: invitations})
}

// RevokeInvitation handles DELETE /v1/team/invitations/{id}. Only pending
// invitations can be revoked.
func (h *TeamHandler) RevokeInvitation(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	invitation, err := h.invitations.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.invitations.UpdateStatus(r.Context(), invitation.ID, types.InvitationRevoked); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptInvitation handles POST /v1/invitations/accept. The caller must be
// logged in with the same email the invitation was issued to and must not
// already belong to a business. The status transition happens before the
// membership insert so a token can only ever be redeemed once.
func (h *TeamHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request, _ types.AuthorizedContext) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "authentication required", nil))
		return
	}

	var req AcceptInvitationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	invitation, err := h.invitations.GetByTokenHash(r.Context(), auth.HashToken(req.Token))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if auth.CanonicalizeEmail(identity.Email) != invitation.Email {
		core.Error(w, r, types.NewAppError(
			types.ErrCodePermissionNotMember,
			"this invitation was issued to a different email address",
			nil,
		))
		return
	}

	if identity.BusinessID != "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictEmail,
			"account already belongs to a business",
			nil,
		))
		return
	}

	if err := h.invitations.UpdateStatus(r.Context(), invitation.ID, types.InvitationAccepted); err != nil {
		core.Error(w, r, err)
		return
	}

	membership := &types.Membership{
		UserID:     identity.UserID,
		BusinessID: invitation.BusinessID,
		Role:       invitation.Role,
		JoinedAt:   h.clock.Now(),
	}
	if err := h.memberships.Create(r.Context(), membership); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("invitation accepted",
		"request_id", types.GetRequestID(r.Context()),
		"invitation_id", invitation.ID,
		"user_id", identity.UserID,
		"business_id", invitation.BusinessID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: membership})
}

// ChangeRole handles PATCH /v1/team/members/{userID}. A business has at most
// one owner, so promoting to owner and demoting the owner are both rejected.
func (h *TeamHandler) ChangeRole(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req ChangeRoleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	targetID := chi.URLParam(r, "userID")

	if req.Role == types.RoleOwner {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictOwner,
			"a business has exactly one owner",
			nil,
		))
		return
	}
	if targetID == ac.UserID {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictOwner,
			"the owner cannot change their own role",
			nil,
		))
		return
	}

	target, err := h.memberships.GetMembership(r.Context(), targetID, ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if target == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil))
		return
	}

	if err := h.memberships.UpdateRole(r.Context(), targetID, ac.BusinessID, req.Role); err != nil {
		core.Error(w, r, err)
		return
	}

	target.Role = req.Role
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: target})
}

// RemoveMember handles DELETE /v1/team/members/{userID}. The owner cannot be
// removed; transfer of ownership is not supported through the API.
func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	targetID := chi.URLParam(r, "userID")

	target, err := h.memberships.GetMembership(r.Context(), targetID, ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if target == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil))
		return
	}
	if target.Role == types.RoleOwner {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictOwner,
			"the owner cannot be removed from the business",
			nil,
		))
		return
	}

	if err := h.memberships.Delete(r.Context(), targetID, ac.BusinessID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("member removed",
		"request_id", types.GetRequestID(r.Context()),
		"user_id", targetID,
		"business_id", ac.BusinessID,
		"removed_by", ac.UserID,
	)

	w.WriteHeader(http.StatusNoContent)
}

// acceptURL builds the web app link embedded in the invitation email.
func (h *TeamHandler) acceptURL(rawToken string) string {
	return h.webAppURL + "/invitations/accept?token=" + url.QueryEscape(rawToken)
}
