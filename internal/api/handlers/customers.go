package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"obrador/internal/core"
	"obrador/internal/types"
)

// CustomerRepo defines the data access contract for customer operations.
type CustomerRepo interface {
	Create(ctx context.Context, c *types.Customer) error
	GetByID(ctx context.Context, id, businessID string) (*types.Customer, error)
	List(ctx context.Context, businessID string, limit, offset int) ([]*types.Customer, error)
	Update(ctx context.Context, c *types.Customer) error
	Delete(ctx context.Context, id, businessID string) error
	Count(ctx context.Context, businessID string) (int, error)
}

// CreateCustomerRequest is the request body for POST /v1/customers.
type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Notes string `json:"notes,omitempty" validate:"max=2000"`
}

// UpdateCustomerRequest is the request body for PATCH /v1/customers/{id}.
type UpdateCustomerRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// CustomerHandler manages the customer directory with plan quota enforcement.
type CustomerHandler struct {
	repo      CustomerRepo
	gate      *core.Gate
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewCustomerHandler creates a CustomerHandler.
func NewCustomerHandler(repo CustomerRepo, gate *core.Gate, validator *core.Validator, clock types.Clock, logger *slog.Logger) *CustomerHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerHandler{
		repo:      repo,
		gate:      gate,
		validator: validator,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the customer routes on the v1 router.
func (h *CustomerHandler) RegisterRoutes(r chi.Router) {
	opts := core.DefaultGateOptions()

	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.gate.Protect(opts, h.List))
		r.Post("/", h.gate.Protect(opts, h.Create))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.gate.Protect(opts, h.Get))
			r.Patch("/", h.gate.Protect(opts, h.Update))
			r.Delete("/", h.gate.Protect(opts, h.Delete))
		})
	})
}

// Create handles POST /v1/customers, enforcing the plan's customer cap.
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req CreateCustomerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	count, err := h.repo.Count(r.Context(), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !types.WithinQuota(count, ac.Plan.MaxCustomers) {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeLimitCustomers,
			"customer limit reached for the current plan",
			nil,
			map[string]any{
				"current": count,
				"max":     ac.Plan.MaxCustomers,
			},
		))
		return
	}

	now := h.clock.Now()
	customer := &types.Customer{
		ID:         "cus_" + uuid.New().String(),
		BusinessID: ac.BusinessID,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Notes:      req.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.repo.Create(r.Context(), customer); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: customer})
}

// Get handles GET /v1/customers/{id}.
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	customer, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: customer})
}

// List handles GET /v1/customers.
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customers, err := h.repo.List(r.Context(), ac.BusinessID, limit, offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: customers,
		Meta: &types.ResponseMeta{Pagination: &types.PageInfo{HasMore: len(customers) == limit}},
	})
}

// Update handles PATCH /v1/customers/{id}.
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req UpdateCustomerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	customer, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		customer.Name = *req.Name
	}
	if req.Email != nil {
		customer.Email = *req.Email
	}
	if req.Phone != nil {
		customer.Phone = *req.Phone
	}
	if req.Notes != nil {
		customer.Notes = *req.Notes
	}
	customer.UpdatedAt = h.clock.Now()

	if err := h.repo.Update(r.Context(), customer); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: customer})
}

// Delete handles DELETE /v1/customers/{id}. Customers with existing orders
// are protected by the database and surface as a conflict.
func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "id"), ac.BusinessID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
