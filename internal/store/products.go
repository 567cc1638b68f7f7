package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, title, price, original_price, description, image_url,
	category_id, category, brand_id, brand, sizes, colors, conditions, stock, likes, created_at`

const searchResultLimit = 20

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	var original decimal.NullDecimal
	var categoryID, brandID sql.NullInt64

	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Price,
		&original,
		&p.Description,
		&p.ImageURL,
		&categoryID,
		&p.Category,
		&brandID,
		&p.Brand,
		pq.Array(&p.Sizes),
		pq.Array(&p.Colors),
		pq.Array(&p.Conditions),
		&p.Stock,
		&p.Likes,
		&p.CreatedAt,
	)
	if err != nil {
		return p, err
	}

	if original.Valid {
		p.OriginalPrice = &original.Decimal
	}
	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	if brandID.Valid {
		p.BrandID = &brandID.Int64
	}
	if p.Sizes == nil {
		p.Sizes = []string{}
	}
	if p.Colors == nil {
		p.Colors = []string{}
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}

	return p, nil
}

func collectProducts(rows *sql.Rows) ([]models.Product, error) {
	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

func validateProductInput(in *models.ProductInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return database.NewValidationError("title", "is required")
	}
	if in.Price.IsNegative() {
		return database.NewValidationError("price", "must not be negative")
	}
	if in.OriginalPrice != nil && in.OriginalPrice.IsNegative() {
		return database.NewValidationError("original_price", "must not be negative")
	}
	if in.Stock < 0 {
		return database.NewValidationError("stock", "must not be negative")
	}

	in.Sizes = normalizeNames(in.Sizes)
	in.Colors = normalizeNames(in.Colors)
	in.Conditions = normalizeNames(in.Conditions)
	return nil
}

func normalizeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := []string{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func checkProductRefs(ctx context.Context, tx *sql.Tx, in models.ProductInput) error {
	if in.BrandID != nil {
		var exists bool
		err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM brands WHERE id = $1)", *in.BrandID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check brand exists: %w", err)
		}
		if !exists {
			return database.ErrBrandNotFound
		}
	}

	if in.CategoryID != nil {
		var exists bool
		err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)", *in.CategoryID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check category exists: %w", err)
		}
		if !exists {
			return database.ErrCategoryNotFound
		}
	}

	return nil
}

// attributeTable describes one lookup table and its product join table.
// The names are constants; no caller input reaches them.
type attributeTable struct {
	lookup string
	join   string
	fk     string
}

var (
	sizeAttribute      = attributeTable{lookup: "sizes", join: "product_sizes", fk: "size_id"}
	colorAttribute     = attributeTable{lookup: "colors", join: "product_colors", fk: "color_id"}
	conditionAttribute = attributeTable{lookup: "conditions", join: "product_conditions", fk: "condition_id"}
)

func replaceAttribute(ctx context.Context, tx *sql.Tx, productID int64, table attributeTable, names []string) error {
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE product_id = $1", table.join),
		productID)
	if err != nil {
		return fmt.Errorf("clear %s: %w", table.join, err)
	}

	if len(names) == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING", table.lookup),
		pq.Array(names))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table.lookup, err)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (product_id, %s)
		 SELECT $1, id FROM %s WHERE name = ANY($2::text[])`, table.join, table.fk, table.lookup),
		productID, pq.Array(names))
	if err != nil {
		return fmt.Errorf("link %s: %w", table.join, err)
	}

	return nil
}

func replaceProductAttributes(ctx context.Context, tx *sql.Tx, productID int64, in models.ProductInput) error {
	if err := replaceAttribute(ctx, tx, productID, sizeAttribute, in.Sizes); err != nil {
		return err
	}
	if err := replaceAttribute(ctx, tx, productID, colorAttribute, in.Colors); err != nil {
		return err
	}
	return replaceAttribute(ctx, tx, productID, conditionAttribute, in.Conditions)
}

func CreateProduct(ctx context.Context, db *sql.DB, in models.ProductInput) (*models.Product, error) {
	if err := validateProductInput(&in); err != nil {
		return nil, err
	}

	var product *models.Product
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := checkProductRefs(ctx, tx, in); err != nil {
			return err
		}

		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO products (title, price, original_price, description, image_url, category_id, brand_id, stock, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			 RETURNING id`,
			in.Title, in.Price, nullableDecimal(in.OriginalPrice), in.Description, in.ImageURL,
			nullableInt64(in.CategoryID), nullableInt64(in.BrandID), in.Stock).Scan(&id)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}

		if err := replaceProductAttributes(ctx, tx, id, in); err != nil {
			return err
		}

		product, err = GetProduct(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

// UpdateProduct overwrites the product row and replaces its size, color and
// condition links in one transaction. Existing order items keep their
// snapshot prices.
func UpdateProduct(ctx context.Context, db *sql.DB, id int64, in models.ProductInput) (*models.Product, error) {
	if err := validateProductInput(&in); err != nil {
		return nil, err
	}

	var product *models.Product
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := checkProductRefs(ctx, tx, in); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE products
			 SET title = $1, price = $2, original_price = $3, description = $4, image_url = $5,
			     category_id = $6, brand_id = $7, stock = $8, updated_at = NOW()
			 WHERE id = $9`,
			in.Title, in.Price, nullableDecimal(in.OriginalPrice), in.Description, in.ImageURL,
			nullableInt64(in.CategoryID), nullableInt64(in.BrandID), in.Stock, id)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrProductNotFound
		}

		if err := replaceProductAttributes(ctx, tx, id, in); err != nil {
			return err
		}

		product, err = GetProduct(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func DeleteProduct(ctx context.Context, db *sql.DB, id int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		for _, table := range []attributeTable{sizeAttribute, colorAttribute, conditionAttribute} {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE product_id = $1", table.join),
				id)
			if err != nil {
				return fmt.Errorf("clear %s: %w", table.join, err)
			}
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrProductNotFound
		}

		return nil
	})
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM product_details WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &product, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	return FilterProducts(ctx, db, ProductFilter{Page: page, PageSize: pageSize})
}

func FilterProducts(ctx context.Context, db *sql.DB, filter ProductFilter) (*OffsetPage, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}

	query, args, countQuery, countArgs := buildFilterQuery(filter)

	var total int64
	if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter products: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	return newOffsetPage(products, total, filter.Page, filter.PageSize), nil
}

// SearchProducts matches the full-text vector or a case-insensitive substring
// of title, brand, category or description. Title hits rank first.
func SearchProducts(ctx context.Context, db *sql.DB, term string) ([]models.Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, database.NewValidationError("query", "is required")
	}

	query := `
		SELECT ` + productColumns + `
		FROM (
			SELECT *,
				CASE
					WHEN title ILIKE $2 THEN 1
					WHEN brand ILIKE $2 THEN 2
					WHEN category ILIKE $2 THEN 3
					WHEN description ILIKE $2 THEN 4
					ELSE 5
				END AS match_rank,
				ts_rank(search_vector, plainto_tsquery('english', $1)) AS text_rank
			FROM product_details
			WHERE search_vector @@ plainto_tsquery('english', $1)
			   OR title ILIKE $2
			   OR description ILIKE $2
			   OR brand ILIKE $2
			   OR category ILIKE $2
		) matches
		ORDER BY match_rank, text_rank DESC, id
		LIMIT $3`

	rows, err := db.QueryContext(ctx, query, term, "%"+escapeLike(term)+"%", searchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// PricedProduct is the slice of a product row checkout needs to quote and
// snapshot an order line.
type PricedProduct struct {
	ID       int64
	Title    string
	ImageURL string
	Price    decimal.Decimal
	Stock    int
}

func GetPricedProducts(ctx context.Context, db *sql.DB, ids []int64) (map[int64]PricedProduct, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, title, image_url, price, stock FROM products WHERE id = ANY($1::bigint[])`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get product prices: %w", err)
	}
	defer rows.Close()

	return collectPriced(rows, len(ids))
}

// LockProductsForOrder takes row locks in id order so concurrent checkouts
// touching the same products cannot deadlock each other.
func LockProductsForOrder(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]PricedProduct, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, title, image_url, price, stock
		 FROM products
		 WHERE id = ANY($1::bigint[])
		 ORDER BY id
		 FOR UPDATE`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	return collectPriced(rows, len(ids))
}

func collectPriced(rows *sql.Rows, n int) (map[int64]PricedProduct, error) {
	out := make(map[int64]PricedProduct, n)
	for rows.Next() {
		var p PricedProduct
		if err := rows.Scan(&p.ID, &p.Title, &p.ImageURL, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product price: %w", err)
		}
		out[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}
