package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const subscriberColumns = `id, email, active, subscribed_at, unsubscribed_at`

func scanSubscriber(row rowScanner) (*models.Subscriber, error) {
	sub := &models.Subscriber{}
	var unsubbed sql.NullTime
	err := row.Scan(&sub.ID, &sub.Email, &sub.Active, &sub.SubscribedAt, &unsubbed)
	if err != nil {
		return nil, err
	}
	if unsubbed.Valid {
		sub.UnsubbedAt = &unsubbed.Time
	}
	return sub, nil
}

// NormalizeEmail lower-cases and validates an address.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", database.NewValidationError("email", "must be a plain email address")
	}
	return strings.ToLower(addr.Address), nil
}

// Subscribe upserts so that a previously unsubscribed address is reactivated
// instead of failing on the unique email.
func Subscribe(ctx context.Context, db *sql.DB, email string) (*models.Subscriber, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO newsletter_subscribers (email, active, subscribed_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (email) DO UPDATE
		SET active = TRUE,
		    subscribed_at = CASE WHEN newsletter_subscribers.active
		                         THEN newsletter_subscribers.subscribed_at
		                         ELSE NOW() END,
		    unsubscribed_at = NULL
		RETURNING ` + subscriberColumns

	sub, err := scanSubscriber(db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return sub, nil
}

// Unsubscribe is a soft delete: the row stays with active = false.
func Unsubscribe(ctx context.Context, db *sql.DB, email string) (*models.Subscriber, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE newsletter_subscribers
		SET active = FALSE,
		    unsubscribed_at = COALESCE(unsubscribed_at, NOW())
		WHERE email = $1
		RETURNING ` + subscriberColumns

	sub, err := scanSubscriber(db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}

	return sub, nil
}

func ListSubscribers(ctx context.Context, db *sql.DB) ([]models.Subscriber, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+subscriberColumns+`
		 FROM newsletter_subscribers
		 WHERE active
		 ORDER BY subscribed_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscriber{}
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, *sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return subs, nil
}
