package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

// GetOrCreateCart never reports a missing cart: the first call for a user
// creates one and says so through the outcome.
func GetOrCreateCart(ctx context.Context, db *sql.DB, userID string) (*models.CartLookup, error) {
	cart, outcome, err := ensureCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	items, err := listCartItems(ctx, db, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items

	return &models.CartLookup{Cart: cart, Outcome: outcome}, nil
}

func ensureCart(ctx context.Context, q database.Querier, userID string) (*models.Cart, models.CartOutcome, error) {
	cart := &models.Cart{UserID: userID, Items: []models.CartItem{}}

	err := q.QueryRowContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at)
		 VALUES ($1, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		userID).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err == nil {
		return cart, models.CartCreated, nil
	}
	if err != sql.ErrNoRows {
		if database.IsForeignKeyViolation(err) {
			return nil, "", database.ErrUserNotFound
		}
		return nil, "", fmt.Errorf("create cart: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM carts WHERE user_id = $1`,
		userID).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("get cart: %w", err)
	}

	return cart, models.CartFound, nil
}

func listCartItems(ctx context.Context, q database.Querier, cartID int64) ([]models.CartItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ci.product_id, pd.title, pd.price, pd.image_url, ci.quantity, ci.added_at
		 FROM cart_items ci
		 JOIN product_details pd ON pd.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.added_at, ci.product_id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ProductID,
			&item.Title,
			&item.Price,
			&item.ImageURL,
			&item.Quantity,
			&item.AddedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func touchCart(ctx context.Context, q database.Querier, cartID int64) error {
	_, err := q.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

// AddCartItem inserts the line or adds quantity to the existing one. A
// (cart, product) pair never has more than one row.
func AddCartItem(ctx context.Context, db *sql.DB, userID string, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, database.NewValidationError("quantity", "must be at least 1")
	}

	var cart *models.Cart
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		cart, _, err = ensureCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity, added_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (cart_id, product_id)
			 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
			cart.ID, productID, quantity)
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return database.ErrProductNotFound
			}
			return fmt.Errorf("add cart item: %w", err)
		}

		if err := touchCart(ctx, tx, cart.ID); err != nil {
			return err
		}

		cart.Items, err = listCartItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

// UpdateCartItem sets an absolute quantity. Zero removes the line.
func UpdateCartItem(ctx context.Context, db *sql.DB, userID string, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, database.NewValidationError("quantity", "must not be negative")
	}

	var cart *models.Cart
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		cart, _, err = ensureCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		var result sql.Result
		if quantity == 0 {
			result, err = tx.ExecContext(ctx,
				`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
				cart.ID, productID)
		} else {
			result, err = tx.ExecContext(ctx,
				`UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND product_id = $2`,
				cart.ID, productID, quantity)
		}
		if err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrCartItemNotFound
		}

		if err := touchCart(ctx, tx, cart.ID); err != nil {
			return err
		}

		cart.Items, err = listCartItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

// RemoveCartItem decrements the line by quantity and deletes it once the
// decrement reaches the current quantity.
func RemoveCartItem(ctx context.Context, db *sql.DB, userID string, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, database.NewValidationError("quantity", "must be at least 1")
	}

	var cart *models.Cart
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		cart, _, err = ensureCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		var remaining int
		err = tx.QueryRowContext(ctx,
			`UPDATE cart_items SET quantity = quantity - $3
			 WHERE cart_id = $1 AND product_id = $2 AND quantity > $3
			 RETURNING quantity`,
			cart.ID, productID, quantity).Scan(&remaining)
		switch {
		case err == sql.ErrNoRows:
			result, err := tx.ExecContext(ctx,
				`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
				cart.ID, productID)
			if err != nil {
				return fmt.Errorf("delete cart item: %w", err)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			if rowsAffected == 0 {
				return database.ErrCartItemNotFound
			}
		case err != nil:
			return fmt.Errorf("decrement cart item: %w", err)
		}

		if err := touchCart(ctx, tx, cart.ID); err != nil {
			return err
		}

		cart.Items, err = listCartItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

// ClearCart deletes every line but keeps the cart row.
func ClearCart(ctx context.Context, db *sql.DB, userID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_items
		 WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`,
		userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
