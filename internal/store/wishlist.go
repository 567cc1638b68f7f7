package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const wishlistUserFK = "wishlists_user_id_fkey"

// Membership writes and like-counter updates share one statement each, so the
// pair commits or fails together without relying on row-lock ordering.
const (
	addWishlistSQL = `
		WITH inserted AS (
			INSERT INTO wishlists (user_id, product_id, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id, product_id) DO NOTHING
			RETURNING product_id
		)
		UPDATE products SET likes = likes + 1
		WHERE id IN (SELECT product_id FROM inserted)
		RETURNING likes`

	removeWishlistSQL = `
		WITH deleted AS (
			DELETE FROM wishlists
			WHERE user_id = $1 AND product_id = $2
			RETURNING product_id
		)
		UPDATE products SET likes = GREATEST(likes - 1, 0)
		WHERE id IN (SELECT product_id FROM deleted)
		RETURNING likes`

	clearWishlistSQL = `
		WITH deleted AS (
			DELETE FROM wishlists
			WHERE user_id = $1
			RETURNING product_id
		)
		UPDATE products p SET likes = GREATEST(p.likes - 1, 0)
		FROM deleted
		WHERE p.id = deleted.product_id`
)

// WishlistChange reports what a wishlist write did. Changed is false when the
// membership was already in the requested state.
type WishlistChange struct {
	ProductID  int64 `json:"product_id"`
	InWishlist bool  `json:"in_wishlist"`
	Changed    bool  `json:"changed"`
	Likes      int   `json:"likes"`
}

func ListWishlist(ctx context.Context, db *sql.DB, userID string) ([]models.WishlistItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT w.user_id, w.created_at,
		        pd.id, pd.title, pd.price, pd.original_price, pd.description, pd.image_url,
		        pd.category_id, pd.category, pd.brand_id, pd.brand, pd.sizes, pd.colors, pd.conditions,
		        pd.stock, pd.likes, pd.created_at
		 FROM wishlists w
		 JOIN product_details pd ON pd.id = w.product_id
		 WHERE w.user_id = $1
		 ORDER BY w.created_at DESC, pd.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	items := []models.WishlistItem{}
	for rows.Next() {
		var item models.WishlistItem
		product, err := scanProduct(prefixScanner{row: rows, prefix: []any{&item.UserID, &item.CreatedAt}})
		if err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		item.Product = product
		item.ProductID = product.ID
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// prefixScanner lets scanProduct read rows that carry extra leading columns.
type prefixScanner struct {
	row    rowScanner
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.row.Scan(append(append([]any{}, p.prefix...), dest...)...)
}

func IsInWishlist(ctx context.Context, db database.Querier, userID string, productID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM wishlists WHERE user_id = $1 AND product_id = $2)`,
		userID, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check wishlist: %w", err)
	}
	return exists, nil
}

func AddToWishlist(ctx context.Context, db *sql.DB, userID string, productID int64) (*WishlistChange, error) {
	return addToWishlist(ctx, db, userID, productID)
}

func addToWishlist(ctx context.Context, q database.Querier, userID string, productID int64) (*WishlistChange, error) {
	change := &WishlistChange{ProductID: productID, InWishlist: true}

	err := q.QueryRowContext(ctx, addWishlistSQL, userID, productID).Scan(&change.Likes)
	switch {
	case err == nil:
		change.Changed = true
		return change, nil
	case err == sql.ErrNoRows:
		likes, err := productLikes(ctx, q, productID)
		if err != nil {
			return nil, err
		}
		change.Likes = likes
		return change, nil
	case database.IsForeignKeyViolation(err):
		if database.ConstraintName(err) == wishlistUserFK {
			return nil, database.ErrUserNotFound
		}
		return nil, database.ErrProductNotFound
	default:
		return nil, fmt.Errorf("add to wishlist: %w", err)
	}
}

func RemoveFromWishlist(ctx context.Context, db *sql.DB, userID string, productID int64) (*WishlistChange, error) {
	return removeFromWishlist(ctx, db, userID, productID)
}

func removeFromWishlist(ctx context.Context, q database.Querier, userID string, productID int64) (*WishlistChange, error) {
	change := &WishlistChange{ProductID: productID, InWishlist: false}

	err := q.QueryRowContext(ctx, removeWishlistSQL, userID, productID).Scan(&change.Likes)
	switch {
	case err == nil:
		change.Changed = true
		return change, nil
	case err == sql.ErrNoRows:
		likes, err := productLikes(ctx, q, productID)
		if err != nil {
			return nil, err
		}
		change.Likes = likes
		return change, nil
	default:
		return nil, fmt.Errorf("remove from wishlist: %w", err)
	}
}

// ToggleWishlist flips membership on the server. The product row is locked
// first so two concurrent toggles serialize instead of both adding.
func ToggleWishlist(ctx context.Context, db *sql.DB, userID string, productID int64) (*WishlistChange, error) {
	var change *WishlistChange
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var locked int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM products WHERE id = $1 FOR UPDATE`,
			productID).Scan(&locked)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}

		present, err := IsInWishlist(ctx, tx, userID, productID)
		if err != nil {
			return err
		}

		if present {
			change, err = removeFromWishlist(ctx, tx, userID, productID)
		} else {
			change, err = addToWishlist(ctx, tx, userID, productID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

// ClearWishlist returns how many memberships were removed.
func ClearWishlist(ctx context.Context, db *sql.DB, userID string) (int64, error) {
	result, err := db.ExecContext(ctx, clearWishlistSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("clear wishlist: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func productLikes(ctx context.Context, q database.Querier, productID int64) (int, error) {
	var likes int
	err := q.QueryRowContext(ctx, `SELECT likes FROM products WHERE id = $1`, productID).Scan(&likes)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrProductNotFound
		}
		return 0, fmt.Errorf("get product likes: %w", err)
	}
	return likes, nil
}
