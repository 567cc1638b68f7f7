package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/testutil"
	"github.com/shopspring/decimal"
)

var intentSeq int

// placeOrder writes an order the way checkout does, without a payment provider.
func placeOrder(t *testing.T, db *sql.DB, userID string, product *models.Product, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()
	intentSeq++

	var order *models.Order
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		priced, err := store.LockProductsForOrder(ctx, tx, []int64{product.ID})
		if err != nil {
			return err
		}
		p := priced[product.ID]

		if err := store.DecrementStock(ctx, tx, p.ID, qty); err != nil {
			return err
		}

		order, err = store.InsertOrder(ctx, tx, store.NewOrder{
			UserID:          userID,
			TotalAmount:     p.Price.Mul(decimal.NewFromInt(int64(qty))),
			Currency:        "usd",
			PaymentIntentID: fmt.Sprintf("pi_test_%d", intentSeq),
			IdempotencyKey:  fmt.Sprintf("key-%d", intentSeq),
			Lines: []store.NewOrderLine{{
				ProductID: p.ID,
				Title:     p.Title,
				ImageURL:  p.ImageURL,
				Quantity:  qty,
				UnitPrice: p.Price,
			}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	return order
}

func TestOrderItemsAreSnapshots(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o1")

	in := testutil.ProductInput("Lamp", 40)
	product, err := store.CreateProduct(ctx, db, in)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	order := placeOrder(t, db, "o1", product, 2)
	if !order.TotalAmount.Equal(decimal.NewFromInt(80)) {
		t.Errorf("Expected total 80, got %s", order.TotalAmount)
	}

	in.Price = decimal.NewFromInt(55)
	in.Title = "Lamp v2"
	if _, err := store.UpdateProduct(ctx, db, product.ID, in); err != nil {
		t.Fatalf("Update product: %v", err)
	}

	stored, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(stored.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(stored.Items))
	}
	item := stored.Items[0]
	if !item.UnitPrice.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected snapshot unit price 40, got %s", item.UnitPrice)
	}
	if item.Title != "Lamp" {
		t.Errorf("Expected snapshot title Lamp, got %s", item.Title)
	}
	if !item.Subtotal.Equal(decimal.NewFromInt(80)) {
		t.Errorf("Expected subtotal 80, got %s", item.Subtotal)
	}

	if err := store.DeleteProduct(ctx, db, product.ID); err != nil {
		t.Fatalf("Delete product: %v", err)
	}
	stored, err = store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order after product delete: %v", err)
	}
	if stored.Items[0].ProductID != nil {
		t.Errorf("Expected product reference cleared, got %d", *stored.Items[0].ProductID)
	}
	if !stored.Items[0].UnitPrice.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected snapshot to survive product delete, got %s", stored.Items[0].UnitPrice)
	}
}

func TestDecrementStockInsufficient(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	in := testutil.ProductInput("Limited", 10)
	in.Stock = 1
	product, err := store.CreateProduct(ctx, db, in)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.DecrementStock(ctx, tx, product.ID, 2)
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock, got: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Stock != 1 {
		t.Errorf("Expected stock unchanged at 1, got %d", after.Stock)
	}
}

func deleteOrder(ctx context.Context, db *sql.DB, id int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := store.LockOrder(ctx, tx, id, time.Second)
		if err != nil {
			return err
		}
		return store.DeleteOrder(ctx, tx, order)
	})
}

func TestDeleteOrderRestocks(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o4")

	in := testutil.ProductInput("Scarf", 18)
	in.Stock = 10
	scarf, err := store.CreateProduct(ctx, db, in)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	in = testutil.ProductInput("Gloves", 9)
	in.Stock = 10
	gloves, err := store.CreateProduct(ctx, db, in)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	kept := placeOrder(t, db, "o4", scarf, 3)
	orphaned := placeOrder(t, db, "o4", gloves, 4)

	if err := store.DeleteProduct(ctx, db, gloves.ID); err != nil {
		t.Fatalf("Delete product: %v", err)
	}

	if err := deleteOrder(ctx, db, kept.ID); err != nil {
		t.Fatalf("Delete order: %v", err)
	}
	after, err := store.GetProduct(ctx, db, scarf.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Stock != 10 {
		t.Errorf("Expected stock 10 after delete, got %d", after.Stock)
	}

	if err := deleteOrder(ctx, db, orphaned.ID); err != nil {
		t.Errorf("Expected order of a deleted product to be deletable, got: %v", err)
	}
}

func TestLockOrderTimesOut(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o5")

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Clock", 30))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	order := placeOrder(t, db, "o5", product, 1)

	holder, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin holder: %v", err)
	}
	defer holder.Rollback()
	if _, err := store.LockOrder(ctx, holder, order.ID, time.Second); err != nil {
		t.Fatalf("Lock order: %v", err)
	}

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := store.LockOrder(ctx, tx, order.ID, 50*time.Millisecond)
		return err
	})
	if !errors.Is(err, database.ErrLockTimeout) {
		t.Errorf("Expected lock timeout, got: %v", err)
	}
}

func TestOrderDeletionGuard(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o2")

	in := testutil.ProductInput("Mug", 12)
	in.Stock = 100
	product, err := store.CreateProduct(ctx, db, in)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	advance := func(order *models.Order, to models.OrderStatus) {
		t.Helper()
		path := []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered}
		for _, next := range path {
			if order.Status == to {
				return
			}
			updated, err := store.UpdateOrderStatus(ctx, db, order.ID, next)
			if err != nil {
				t.Fatalf("Advance order %d to %s: %v", order.ID, next, err)
			}
			*order = *updated
		}
	}

	tests := []struct {
		status    models.OrderStatus
		deletable bool
	}{
		{models.OrderStatusPending, true},
		{models.OrderStatusPaid, true},
		{models.OrderStatusShipped, false},
		{models.OrderStatusDelivered, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			order := placeOrder(t, db, "o2", product, 1)
			advance(order, tt.status)

			err := deleteOrder(ctx, db, order.ID)
			if tt.deletable {
				if err != nil {
					t.Fatalf("Delete %s order: %v", tt.status, err)
				}
				if _, err := store.GetOrder(ctx, db, order.ID); !errors.Is(err, database.ErrOrderNotFound) {
					t.Errorf("Expected order gone, got: %v", err)
				}
				return
			}

			if !errors.Is(err, database.ErrOrderNotDeletable) {
				t.Errorf("Expected %s order to be protected, got: %v", tt.status, err)
			}
			if _, err := store.GetOrder(ctx, db, order.ID); err != nil {
				t.Errorf("Expected order to remain, got: %v", err)
			}
		})
	}

	if err := deleteOrder(ctx, db, 999999); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order not found, got: %v", err)
	}
}

func TestOrderStatusTransitionsEnforced(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o3")

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Pen", 3))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	order := placeOrder(t, db, "o3", product, 1)

	_, err = store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusShipped)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected skip transition to be rejected, got: %v", err)
	}

	paid, err := store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusPaid)
	if err != nil {
		t.Fatalf("Pending to paid: %v", err)
	}
	if paid.Status != models.OrderStatusPaid {
		t.Errorf("Expected paid, got %s", paid.Status)
	}

	_, err = store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusPending)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected backward transition to be rejected, got: %v", err)
	}

	_, err = store.TransitionOrder(ctx, db, order.ID, models.OrderStatusPending, models.OrderStatusPaid)
	if !errors.Is(err, database.ErrOptimisticLockFailed) {
		t.Errorf("Expected stale transition to fail, got: %v", err)
	}

	_, err = store.UpdateOrderStatus(ctx, db, 424242, models.OrderStatusPaid)
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order not found, got: %v", err)
	}
}

func TestListOrdersCursor(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o4")
	testutil.CreateUser(t, db, "o5")

	in := testutil.ProductInput("Notebook", 4)
	in.Stock = 100
	product, err := store.CreateProduct(ctx, db, in)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	for i := 0; i < 15; i++ {
		placeOrder(t, db, "o4", product, 1)
	}
	placeOrder(t, db, "o5", product, 1)

	page1, err := store.ListOrdersCursor(ctx, db, "o4", "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}

	if !page1.HasMore {
		t.Error("Page 1 should have more results")
	}

	if page1.NextCursor == "" {
		t.Error("Page 1 should have a next cursor")
	}

	page2, err := store.ListOrdersCursor(ctx, db, "o4", page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}

	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}

	orders := page2.Items.([]models.Order)
	if len(orders) != 5 {
		t.Errorf("Expected 5 orders on page 2, got %d", len(orders))
	}
	for _, o := range orders {
		if o.UserID != "o4" {
			t.Errorf("Order %d belongs to %s", o.ID, o.UserID)
		}
		if len(o.Items) != 1 {
			t.Errorf("Expected order %d to carry its item, got %d", o.ID, len(o.Items))
		}
	}

	var verr *database.ValidationError
	if _, err := store.ListOrdersCursor(ctx, db, "o4", "%%%", 10); !errors.As(err, &verr) {
		t.Errorf("Expected validation error for malformed cursor, got: %v", err)
	}
}

func TestListOrdersByStatus(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()
	testutil.CreateUser(t, db, "o6")

	product, err := store.CreateProduct(ctx, db, testutil.ProductInput("Cup", 8))
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	first := placeOrder(t, db, "o6", product, 1)
	placeOrder(t, db, "o6", product, 1)
	if _, err := store.UpdateOrderStatus(ctx, db, first.ID, models.OrderStatusPaid); err != nil {
		t.Fatalf("Mark paid: %v", err)
	}

	all, err := store.ListOrders(ctx, db, "", 1, 10)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if all.Total != 2 {
		t.Errorf("Expected 2 orders, got %d", all.Total)
	}

	paid, err := store.ListOrders(ctx, db, models.OrderStatusPaid, 1, 10)
	if err != nil {
		t.Fatalf("List paid orders: %v", err)
	}
	orders := paid.Items.([]models.Order)
	if paid.Total != 1 || len(orders) != 1 || orders[0].ID != first.ID {
		t.Errorf("Expected only order %d, got %+v", first.ID, orders)
	}

	byIntent, err := store.GetOrderByPaymentIntent(ctx, db, first.PaymentIntentID)
	if err != nil {
		t.Fatalf("Get by intent: %v", err)
	}
	if byIntent.ID != first.ID {
		t.Errorf("Expected order %d by intent, got %d", first.ID, byIntent.ID)
	}

	byKey, err := store.GetOrderByIdempotencyKey(ctx, db, first.IdempotencyKey)
	if err != nil {
		t.Fatalf("Get by idempotency key: %v", err)
	}
	if byKey.ID != first.ID || len(byKey.Items) != 1 {
		t.Errorf("Expected order %d with items by key, got %+v", first.ID, byKey)
	}
}
