package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"obrador/internal/types"
)

// RecipeRepository provides data access for the recipes table. Ingredients
// are stored as JSONB through the IngredientList valuer.
type RecipeRepository struct {
	db DBTX
}

// NewRecipeRepository creates a new RecipeRepository backed by the given
// database connection (pool or transaction).
func NewRecipeRepository(db DBTX) *RecipeRepository {
	return &RecipeRepository{db: db}
}

const recipeColumns = `r.id, r.business_id, r.name, r.servings, r.ingredients,
	r.margin_percent, r.created_at, r.updated_at`

func scanRecipe(row pgx.Row) (*types.Recipe, error) {
	var rec types.Recipe
	err := row.Scan(
		&rec.ID,
		&rec.BusinessID,
		&rec.Name,
		&rec.Servings,
		&rec.Ingredients,
		&rec.MarginPercent,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new recipe.
func (r *RecipeRepository) Create(ctx context.Context, rec *types.Recipe) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO recipes (id, business_id, name, servings, ingredients,
		 margin_percent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW()))`,
		rec.ID,
		rec.BusinessID,
		rec.Name,
		rec.Servings,
		rec.Ingredients,
		rec.MarginPercent,
		nilIfZeroTime(rec.CreatedAt),
		nilIfZeroTime(rec.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create recipe", err)
	}
	return nil
}

// GetByID retrieves a recipe scoped to a business.
func (r *RecipeRepository) GetByID(ctx context.Context, id, businessID string) (*types.Recipe, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+recipeColumns+`
		 FROM recipes r
		 WHERE r.id = $1 AND r.business_id = $2`,
		id,
		businessID,
	)

	rec, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRecipe, "recipe not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve recipe", err)
	}
	return rec, nil
}

// List returns recipes for a business ordered by name.
func (r *RecipeRepository) List(ctx context.Context, businessID string, limit, offset int) ([]*types.Recipe, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+recipeColumns+`
		 FROM recipes r
		 WHERE r.business_id = $1
		 ORDER BY r.name ASC, r.id ASC
		 LIMIT $2 OFFSET $3`,
		businessID,
		limit,
		offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list recipes", err)
	}
	defer rows.Close()

	var recipes []*types.Recipe
	for rows.Next() {
		rec, err := scanRecipe(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recipe", err)
		}
		recipes = append(recipes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate recipes", err)
	}
	return recipes, nil
}

// Update rewrites the mutable recipe fields.
func (r *RecipeRepository) Update(ctx context.Context, rec *types.Recipe) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE recipes
		 SET name = $1, servings = $2, ingredients = $3, margin_percent = $4, updated_at = NOW()
		 WHERE id = $5 AND business_id = $6`,
		rec.Name,
		rec.Servings,
		rec.Ingredients,
		rec.MarginPercent,
		rec.ID,
		rec.BusinessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update recipe", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRecipe, "recipe not found", nil)
	}
	return nil
}

// Delete removes a recipe.
func (r *RecipeRepository) Delete(ctx context.Context, id, businessID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM recipes WHERE id = $1 AND business_id = $2`,
		id,
		businessID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete recipe", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRecipe, "recipe not found", nil)
	}
	return nil
}

// Count returns the total recipes for a business. Feeds the recipe quota
// check.
func (r *RecipeRepository) Count(ctx context.Context, businessID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM recipes WHERE business_id = $1`,
		businessID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count recipes", err)
	}
	return count, nil
}
