package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

func ListBrands(ctx context.Context, db *sql.DB) ([]models.Brand, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	brands := []models.Brand{}
	for rows.Next() {
		var b models.Brand
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		brands = append(brands, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return brands, nil
}

func ListCategories(ctx context.Context, db *sql.DB) ([]models.Category, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}

// UpsertBrand returns the id of the brand with this name, creating it if needed.
func UpsertBrand(ctx context.Context, q database.Querier, name string) (int64, error) {
	return upsertLookup(ctx, q, "brands", name)
}

func UpsertCategory(ctx context.Context, q database.Querier, name string) (int64, error) {
	return upsertLookup(ctx, q, "categories", name)
}

func upsertLookup(ctx context.Context, q database.Querier, table, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, database.NewValidationError("name", "is required")
	}

	var id int64
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, table),
		name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, err)
	}

	return id, nil
}
