package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/testutil"
)

func TestNewsletterResubscribe(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, db, "Reader@Example.com")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.Email != "reader@example.com" || !sub.Active {
		t.Errorf("Expected active lower-cased subscriber, got %+v", sub)
	}

	unsub, err := store.Unsubscribe(ctx, db, "reader@example.com")
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if unsub.Active || unsub.UnsubbedAt == nil {
		t.Errorf("Expected inactive subscriber with timestamp, got %+v", unsub)
	}

	active, err := store.ListSubscribers(ctx, db)
	if err != nil {
		t.Fatalf("List subscribers: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active subscribers, got %d", len(active))
	}

	again, err := store.Subscribe(ctx, db, "reader@example.com")
	if err != nil {
		t.Fatalf("Resubscribe: %v", err)
	}
	if again.ID != sub.ID || !again.Active || again.UnsubbedAt != nil {
		t.Errorf("Expected the same row reactivated, got %+v", again)
	}

	var rows int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM newsletter_subscribers`).Scan(&rows); err != nil {
		t.Fatalf("Count subscribers: %v", err)
	}
	if rows != 1 {
		t.Errorf("Expected one subscriber row, got %d", rows)
	}
}

func TestNewsletterValidation(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	var verr *database.ValidationError
	for _, email := range []string{"", "not-an-email", "Bob <bob@example.com>"} {
		if _, err := store.Subscribe(ctx, db, email); !errors.As(err, &verr) {
			t.Errorf("Expected validation error for %q, got: %v", email, err)
		}
	}

	if _, err := store.Unsubscribe(ctx, db, "ghost@example.com"); !errors.Is(err, database.ErrSubscriberNotFound) {
		t.Errorf("Expected subscriber not found, got: %v", err)
	}
}
