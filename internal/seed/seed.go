// Package seed loads a catalog description from YAML into the database.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Brands     []string  `yaml:"brands"`
	Categories []string  `yaml:"categories"`
	Products   []Product `yaml:"products"`
}

// Product names its brand and category instead of referencing ids, so a
// catalog file can be applied to any database.
type Product struct {
	Title         string   `yaml:"title"`
	Price         string   `yaml:"price"`
	OriginalPrice string   `yaml:"original_price"`
	Description   string   `yaml:"description"`
	ImageURL      string   `yaml:"image_url"`
	Brand         string   `yaml:"brand"`
	Category      string   `yaml:"category"`
	Sizes         []string `yaml:"sizes"`
	Colors        []string `yaml:"colors"`
	Conditions    []string `yaml:"conditions"`
	Stock         int      `yaml:"stock"`
}

type Summary struct {
	Brands     int
	Categories int
	Created    int
	Skipped    int
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return &c, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	for i, p := range c.Products {
		if _, err := p.input(nil, nil); err != nil {
			return nil, fmt.Errorf("product %d (%q): %w", i, p.Title, err)
		}
	}

	return &c, nil
}

func (p Product) input(brandID, categoryID *int64) (models.ProductInput, error) {
	in := models.ProductInput{
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		ImageURL:    p.ImageURL,
		BrandID:     brandID,
		CategoryID:  categoryID,
		Sizes:       p.Sizes,
		Colors:      p.Colors,
		Conditions:  p.Conditions,
		Stock:       p.Stock,
	}
	if in.Title == "" {
		return in, database.NewValidationError("title", "is required")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
	if err != nil {
		return in, database.NewValidationError("price", "must be a decimal, got %q", p.Price)
	}
	in.Price = price

	if p.OriginalPrice != "" {
		original, err := decimal.NewFromString(strings.TrimSpace(p.OriginalPrice))
		if err != nil {
			return in, database.NewValidationError("original_price", "must be a decimal, got %q", p.OriginalPrice)
		}
		in.OriginalPrice = &original
	}

	return in, nil
}

// Apply upserts brands and categories, including those only named by
// products, and creates products that do not exist yet. A product exists when
// a row with the same title and brand is already present, so applying the
// same file twice creates nothing the second time.
func Apply(ctx context.Context, db *sql.DB, c *Catalog) (Summary, error) {
	var sum Summary

	brandIDs := map[string]int64{}
	categoryIDs := map[string]int64{}

	brands := append([]string{}, c.Brands...)
	categories := append([]string{}, c.Categories...)
	for _, p := range c.Products {
		if p.Brand != "" {
			brands = append(brands, p.Brand)
		}
		if p.Category != "" {
			categories = append(categories, p.Category)
		}
	}

	for _, name := range brands {
		name = strings.TrimSpace(name)
		if _, ok := brandIDs[name]; ok {
			continue
		}
		id, err := store.UpsertBrand(ctx, db, name)
		if err != nil {
			return sum, fmt.Errorf("brand %q: %w", name, err)
		}
		brandIDs[name] = id
		sum.Brands++
	}

	for _, name := range categories {
		name = strings.TrimSpace(name)
		if _, ok := categoryIDs[name]; ok {
			continue
		}
		id, err := store.UpsertCategory(ctx, db, name)
		if err != nil {
			return sum, fmt.Errorf("category %q: %w", name, err)
		}
		categoryIDs[name] = id
		sum.Categories++
	}

	for _, p := range c.Products {
		var brandID, categoryID *int64
		if id, ok := brandIDs[strings.TrimSpace(p.Brand)]; ok && p.Brand != "" {
			brandID = &id
		}
		if id, ok := categoryIDs[strings.TrimSpace(p.Category)]; ok && p.Category != "" {
			categoryID = &id
		}

		in, err := p.input(brandID, categoryID)
		if err != nil {
			return sum, fmt.Errorf("product %q: %w", p.Title, err)
		}

		exists, err := productExists(ctx, db, in.Title, brandID)
		if err != nil {
			return sum, err
		}
		if exists {
			sum.Skipped++
			continue
		}

		if _, err := store.CreateProduct(ctx, db, in); err != nil {
			return sum, fmt.Errorf("product %q: %w", p.Title, err)
		}
		sum.Created++
	}

	return sum, nil
}

func productExists(ctx context.Context, db *sql.DB, title string, brandID *int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM products
			WHERE title = $1 AND brand_id IS NOT DISTINCT FROM $2
		)`,
		title, brandID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return exists, nil
}
