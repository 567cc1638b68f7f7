package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const userColumns = `id, email, display_name, photo_url, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PhotoURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// SyncUser mirrors the identity provider's current profile into the local
// row keyed by the provider's subject id. The provider always wins.
func SyncUser(ctx context.Context, db *sql.DB, id, email, displayName, photoURL string) (*models.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, database.NewValidationError("id", "is required")
	}

	query := `
		INSERT INTO users (id, email, display_name, photo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = EXCLUDED.display_name,
		    photo_url = EXCLUDED.photo_url,
		    updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(db.QueryRowContext(ctx, query, id, email, displayName, photoURL))
	if err != nil {
		return nil, fmt.Errorf("sync user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id string) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// DeleteUser removes the user with their cart, wishlist and orders. Like
// counters of wishlisted products are released in the same transaction.
func DeleteUser(ctx context.Context, db *sql.DB, id string) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, clearWishlistSQL, id); err != nil {
			return fmt.Errorf("clear wishlist: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrUserNotFound
		}

		return nil
	})
}
