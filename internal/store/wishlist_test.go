package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/testutil"
)

func TestWishlistToggleConsistency(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "w1")

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Bag", 60))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	added, err := store.AddToWishlist(ctx, db, "w1", product.ID)
	if err != nil {
		t.Fatalf("Add to wishlist: %v", err)
	}
	if !added.Changed || added.Likes != 1 {
		t.Errorf("Expected changed add with 1 like, got %+v", added)
	}

	in, err := store.IsInWishlist(ctx, db, "w1", product.ID)
	if err != nil {
		t.Fatalf("Is in wishlist: %v", err)
	}
	if !in {
		t.Error("Expected product in wishlist after add")
	}

	again, err := store.AddToWishlist(ctx, db, "w1", product.ID)
	if err != nil {
		t.Fatalf("Add twice: %v", err)
	}
	if again.Changed || again.Likes != 1 {
		t.Errorf("Expected repeated add to be a no-op, got %+v", again)
	}

	removed, err := store.RemoveFromWishlist(ctx, db, "w1", product.ID)
	if err != nil {
		t.Fatalf("Remove from wishlist: %v", err)
	}
	if !removed.Changed || removed.Likes != 0 {
		t.Errorf("Expected changed remove with 0 likes, got %+v", removed)
	}

	in, err = store.IsInWishlist(ctx, db, "w1", product.ID)
	if err != nil {
		t.Fatalf("Is in wishlist: %v", err)
	}
	if in {
		t.Error("Expected product absent after remove")
	}

	for i := 0; i < 3; i++ {
		change, err := store.RemoveFromWishlist(ctx, db, "w1", product.ID)
		if err != nil {
			t.Fatalf("Extra remove %d: %v", i, err)
		}
		if change.Changed || change.Likes != 0 {
			t.Errorf("Expected extra remove to leave likes at 0, got %+v", change)
		}
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Likes != 0 {
		t.Errorf("Expected likes 0, got %d", after.Likes)
	}
}

func TestWishlistToggle(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "w2")

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Ring", 90))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	first, err := store.ToggleWishlist(ctx, db, "w2", product.ID)
	if err != nil {
		t.Fatalf("Toggle on: %v", err)
	}
	if !first.InWishlist || first.Likes != 1 {
		t.Errorf("Expected toggle to add, got %+v", first)
	}

	second, err := store.ToggleWishlist(ctx, db, "w2", product.ID)
	if err != nil {
		t.Fatalf("Toggle off: %v", err)
	}
	if second.InWishlist || second.Likes != 0 {
		t.Errorf("Expected toggle to remove, got %+v", second)
	}

	_, err = store.ToggleWishlist(ctx, db, "w2", 987654)
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestConcurrentWishlistLikes(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Popular", 10))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	users := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	for _, u := range users {
		testutil.CreateUser(t, db, u)
	}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				if _, err := store.AddToWishlist(ctx, db, userID, product.ID); err != nil {
					t.Errorf("Add to wishlist: %v", err)
				}
			}(u)
		}
	}
	wg.Wait()

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Likes != len(users) {
		t.Errorf("Expected likes to equal member count %d, got %d", len(users), after.Likes)
	}

	for _, u := range users {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				if _, err := store.RemoveFromWishlist(ctx, db, userID, product.ID); err != nil {
					t.Errorf("Remove from wishlist: %v", err)
				}
			}(u)
		}
	}
	wg.Wait()

	after, err = store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Likes != 0 {
		t.Errorf("Expected likes 0 after removals, got %d", after.Likes)
	}
}

func TestListAndClearWishlist(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "w3")
	testutil.CreateUser(t, db, "w4")

	a, err := store.CreateProduct(ctx, db, testutil.ProductInput("A", 10))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	b, err := store.CreateProduct(ctx, db, testutil.ProductInput("B", 20))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	for _, id := range []int64{a.ID, b.ID} {
		if _, err := store.AddToWishlist(ctx, db, "w3", id); err != nil {
			t.Fatalf("Add to wishlist: %v", err)
		}
	}
	if _, err := store.AddToWishlist(ctx, db, "w4", a.ID); err != nil {
		t.Fatalf("Add to wishlist: %v", err)
	}

	items, err := store.ListWishlist(ctx, db, "w3")
	if err != nil {
		t.Fatalf("List wishlist: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 wishlist items, got %d", len(items))
	}
	for _, item := range items {
		if item.Product.Title == "" || item.ProductID != item.Product.ID {
			t.Errorf("Expected joined product details, got %+v", item)
		}
	}

	removed, err := store.ClearWishlist(ctx, db, "w3")
	if err != nil {
		t.Fatalf("Clear wishlist: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 memberships removed, got %d", removed)
	}

	aAfter, err := store.GetProduct(ctx, db, a.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if aAfter.Likes != 1 {
		t.Errorf("Expected A to keep w4's like, got %d", aAfter.Likes)
	}

	bAfter, err := store.GetProduct(ctx, db, b.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if bAfter.Likes != 0 {
		t.Errorf("Expected B likes 0, got %d", bAfter.Likes)
	}
}

func TestAddToWishlistMissingReference(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "w5")

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Belt", 25))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	if _, err := store.AddToWishlist(ctx, db, "never-registered", product.ID); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected user not found, got: %v", err)
	}
	if _, err := store.AddToWishlist(ctx, db, "w5", 999999); !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}
