package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"obrador/internal/core"
	"obrador/internal/types"
)

// Default and maximum page sizes for list endpoints.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// OrderRepo defines the data access contract for order operations.
// Mirrors the concrete db.OrderRepository methods used by this handler.
type OrderRepo interface {
	Create(ctx context.Context, order *types.Order) error
	GetByID(ctx context.Context, id, businessID string) (*types.Order, error)
	List(ctx context.Context, businessID string, status *types.OrderStatus, limit, offset int) ([]*types.Order, error)
	Update(ctx context.Context, order *types.Order) error
	Delete(ctx context.Context, id, businessID string) error
	CountForMonth(ctx context.Context, businessID string, ref time.Time) (int, error)
}

// CreateOrderRequest is the request body for POST /v1/orders.
type CreateOrderRequest struct {
	CustomerID   string              `json:"customer_id" validate:"required"`
	Items        []types.OrderItem   `json:"items" validate:"required,min=1,dive"`
	Notes        string              `json:"notes,omitempty" validate:"max=2000"`
	DeliveryDate time.Time           `json:"delivery_date" validate:"required"`
}

// UpdateOrderRequest is the request body for PATCH /v1/orders/{id}.
// Pointer fields distinguish "not sent" from zero values.
type UpdateOrderRequest struct {
	CustomerID   *string             `json:"customer_id,omitempty"`
	Status       *types.OrderStatus  `json:"status,omitempty" validate:"omitempty,oneof=pending in_progress ready delivered canceled"`
	Items        *[]types.OrderItem  `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	Notes        *string             `json:"notes,omitempty" validate:"omitempty,max=2000"`
	DeliveryDate *time.Time          `json:"delivery_date,omitempty"`
}

// OrderResponse augments the stored order with its computed total.
type OrderResponse struct {
	*types.Order
	Total float64 `json:"total"`
}

// OrderHandler manages order CRUD with monthly quota enforcement.
type OrderHandler struct {
	repo      OrderRepo
	gate      *core.Gate
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewOrderHandler creates an OrderHandler. Nil clock and logger fall back to
// the production defaults.
func NewOrderHandler(repo OrderRepo, gate *core.Gate, validator *core.Validator, clock types.Clock, logger *slog.Logger) *OrderHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{
		repo:      repo,
		gate:      gate,
		validator: validator,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the order routes on the v1 router. All routes use
// the default policy: business membership plus an active subscription.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	opts := core.DefaultGateOptions()

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.gate.Protect(opts, h.List))
		r.Post("/", h.gate.Protect(opts, h.Create))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.gate.Protect(opts, h.Get))
			r.Patch("/", h.gate.Protect(opts, h.Update))
			r.Delete("/", h.gate.Protect(opts, h.Delete))
		})
	})
}

// Create handles POST /v1/orders. The monthly quota from the resolved plan
// is checked before insertion; a cap of 0 means unlimited.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	count, err := h.repo.CountForMonth(r.Context(), ac.BusinessID, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !types.WithinQuota(count, ac.Plan.MaxOrdersPerMonth) {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeLimitOrders,
			"monthly order limit reached for the current plan",
			nil,
			map[string]any{
				"current": count,
				"max":     ac.Plan.MaxOrdersPerMonth,
			},
		))
		return
	}

	now := h.clock.Now()
	order := &types.Order{
		ID:           "ord_" + uuid.New().String(),
		BusinessID:   ac.BusinessID,
		CustomerID:   req.CustomerID,
		Status:       types.OrderPending,
		Items:        req.Items,
		Notes:        req.Notes,
		DeliveryDate: req.DeliveryDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.repo.Create(r.Context(), order); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("order created",
		"request_id", types.GetRequestID(r.Context()),
		"order_id", order.ID,
		"business_id", ac.BusinessID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: OrderResponse{
		Order: order,
		Total: order.Items.Total(),
	}})
}

// Get handles GET /v1/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	order, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: OrderResponse{
		Order: order,
		Total: order.Items.Total(),
	}})
}

// List handles GET /v1/orders with optional status filter and offset
// pagination.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var status *types.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := types.OrderStatus(raw)
		switch s {
		case types.OrderPending, types.OrderInProgress, types.OrderReady, types.OrderDelivered, types.OrderCanceled:
			status = &s
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidBody,
				"unknown order status filter: "+raw,
				nil,
			))
			return
		}
	}

	orders, err := h.repo.List(r.Context(), ac.BusinessID, status, limit, offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderResponse{Order: o, Total: o.Items.Total()})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: out,
		Meta: &types.ResponseMeta{Pagination: &types.PageInfo{HasMore: len(orders) == limit}},
	})
}

// Update handles PATCH /v1/orders/{id}, applying only the fields present in
// the request body.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req UpdateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	order, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.CustomerID != nil {
		order.CustomerID = *req.CustomerID
	}
	if req.Status != nil {
		order.Status = *req.Status
	}
	if req.Items != nil {
		order.Items = *req.Items
	}
	if req.Notes != nil {
		order.Notes = *req.Notes
	}
	if req.DeliveryDate != nil {
		order.DeliveryDate = *req.DeliveryDate
	}
	order.UpdatedAt = h.clock.Now()

	if err := h.repo.Update(r.Context(), order); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: OrderResponse{
		Order: order,
		Total: order.Items.Total(),
	}})
}

// Delete handles DELETE /v1/orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "id"), ac.BusinessID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parsePagination reads limit/offset query parameters with defaults and an
// upper bound on page size.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			return 0, 0, types.NewAppError(
				types.ErrCodeValidationInvalidBody,
				"limit must be a positive integer",
				convErr,
			)
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return 0, 0, types.NewAppError(
				types.ErrCodeValidationInvalidBody,
				"offset must be a non-negative integer",
				convErr,
			)
		}
		offset = n
	}

	return limit, offset, nil
}
