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

// RecipeRepo defines the data access contract for recipe operations.
type RecipeRepo interface {
	Create(ctx context.Context, rec *types.Recipe) error
	GetByID(ctx context.Context, id, businessID string) (*types.Recipe, error)
	List(ctx context.Context, businessID string, limit, offset int) ([]*types.Recipe, error)
	Update(ctx context.Context, rec *types.Recipe) error
	Delete(ctx context.Context, id, businessID string) error
	Count(ctx context.Context, businessID string) (int, error)
}

// CreateRecipeRequest is the request body for POST /v1/recipes.
type CreateRecipeRequest struct {
	Name          string             `json:"name" validate:"required,max=200"`
	Servings      int                `json:"servings" validate:"required,gt=0"`
	Ingredients   []types.Ingredient `json:"ingredients" validate:"required,min=1,dive"`
	MarginPercent float64            `json:"margin_percent" validate:"gte=0,lte=1000"`
}

// UpdateRecipeRequest is the request body for PATCH /v1/recipes/{id}.
type UpdateRecipeRequest struct {
	Name          *string             `json:"name,omitempty" validate:"omitempty,max=200"`
	Servings      *int                `json:"servings,omitempty" validate:"omitempty,gt=0"`
	Ingredients   *[]types.Ingredient `json:"ingredients,omitempty" validate:"omitempty,min=1,dive"`
	MarginPercent *float64            `json:"margin_percent,omitempty" validate:"omitempty,gte=0,lte=1000"`
}

// RecipeResponse augments the stored recipe with its computed costing.
type RecipeResponse struct {
	*types.Recipe
	IngredientCost float64 `json:"ingredient_cost"`
	SuggestedPrice float64 `json:"suggested_price"`
}

// BudgetRequest is the request body for POST /v1/recipes/{id}/budget.
type BudgetRequest struct {
	Units         int      `json:"units" validate:"required,gt=0"`
	MarginPercent *float64 `json:"margin_percent,omitempty" validate:"omitempty,gte=0,lte=1000"`
}

// BudgetResponse is the computed quote for producing a number of units of a
// recipe.
type BudgetResponse struct {
	RecipeID       string  `json:"recipe_id"`
	RecipeName     string  `json:"recipe_name"`
	Units          int     `json:"units"`
	MarginPercent  float64 `json:"margin_percent"`
	UnitCost       float64 `json:"unit_cost"`
	UnitPrice      float64 `json:"unit_price"`
	TotalCost      float64 `json:"total_cost"`
	TotalPrice     float64 `json:"total_price"`
	EstimatedGross float64 `json:"estimated_gross"`
}

// RecipeHandler manages recipes, ingredient costing, and the budget
// calculator.
type RecipeHandler struct {
	repo      RecipeRepo
	gate      *core.Gate
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewRecipeHandler creates a RecipeHandler.
func NewRecipeHandler(repo RecipeRepo, gate *core.Gate, validator *core.Validator, clock types.Clock, logger *slog.Logger) *RecipeHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipeHandler{
		repo:      repo,
		gate:      gate,
		validator: validator,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the recipe routes on the v1 router. The budget
// calculator additionally requires its feature flag in the resolved plan.
func (h *RecipeHandler) RegisterRoutes(r chi.Router) {
	opts := core.DefaultGateOptions()

	budgetOpts := core.DefaultGateOptions()
	budgetOpts.RequiredFeature = types.FeatureBudgetCalculator

	r.Route("/recipes", func(r chi.Router) {
		r.Get("/", h.gate.Protect(opts, h.List))
		r.Post("/", h.gate.Protect(opts, h.Create))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.gate.Protect(opts, h.Get))
			r.Patch("/", h.gate.Protect(opts, h.Update))
			r.Delete("/", h.gate.Protect(opts, h.Delete))
			r.Post("/budget", h.gate.Protect(budgetOpts, h.Budget))
		})
	})
}

// Create handles POST /v1/recipes, enforcing the plan's recipe cap.
func (h *RecipeHandler) Create(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req CreateRecipeRequest
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
	if !types.WithinQuota(count, ac.Plan.MaxRecipes) {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeLimitRecipes,
			"recipe limit reached for the current plan",
			nil,
			map[string]any{
				"current": count,
				"max":     ac.Plan.MaxRecipes,
			},
		))
		return
	}

	now := h.clock.Now()
	recipe := &types.Recipe{
		ID:            "rcp_" + uuid.New().String(),
		BusinessID:    ac.BusinessID,
		Name:          req.Name,
		Servings:      req.Servings,
		Ingredients:   req.Ingredients,
		MarginPercent: req.MarginPercent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.repo.Create(r.Context(), recipe); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: recipeResponse(recipe)})
}

// Get handles GET /v1/recipes/{id}.
func (h *RecipeHandler) Get(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	recipe, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: recipeResponse(recipe)})
}

// List handles GET /v1/recipes.
func (h *RecipeHandler) List(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	recipes, err := h.repo.List(r.Context(), ac.BusinessID, limit, offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]RecipeResponse, 0, len(recipes))
	for _, rec := range recipes {
		out = append(out, recipeResponse(rec))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: out,
		Meta: &types.ResponseMeta{Pagination: &types.PageInfo{HasMore: len(recipes) == limit}},
	})
}

// Update handles PATCH /v1/recipes/{id}.
func (h *RecipeHandler) Update(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req UpdateRecipeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	recipe, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		recipe.Name = *req.Name
	}
	if req.Servings != nil {
		recipe.Servings = *req.Servings
	}
	if req.Ingredients != nil {
		recipe.Ingredients = *req.Ingredients
	}
	if req.MarginPercent != nil {
		recipe.MarginPercent = *req.MarginPercent
	}
	recipe.UpdatedAt = h.clock.Now()

	if err := h.repo.Update(r.Context(), recipe); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: recipeResponse(recipe)})
}

// Delete handles DELETE /v1/recipes/{id}.
func (h *RecipeHandler) Delete(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "id"), ac.BusinessID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Budget handles POST /v1/recipes/{id}/budget: a production quote for N
// units of the recipe. The route is feature-gated; by the time this runs the
// plan is known to include the calculator.
func (h *RecipeHandler) Budget(w http.ResponseWriter, r *http.Request, ac types.AuthorizedContext) {
	var req BudgetRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	recipe, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"), ac.BusinessID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	margin := recipe.MarginPercent
	if req.MarginPercent != nil {
		margin = *req.MarginPercent
	}

	unitCost := recipe.Ingredients.Cost()
	unitPrice := unitCost * (1 + margin/100)
	totalCost := unitCost * float64(req.Units)
	totalPrice := unitPrice * float64(req.Units)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: BudgetResponse{
		RecipeID:       recipe.ID,
		RecipeName:     recipe.Name,
		Units:          req.Units,
		MarginPercent:  margin,
		UnitCost:       unitCost,
		UnitPrice:      unitPrice,
		TotalCost:      totalCost,
		TotalPrice:     totalPrice,
		EstimatedGross: totalPrice - totalCost,
	}})
}

func recipeResponse(rec *types.Recipe) RecipeResponse {
	return RecipeResponse{
		Recipe:         rec,
		IngredientCost: rec.Ingredients.Cost(),
		SuggestedPrice: rec.SuggestedPrice(),
	}
}
