package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, status, total_amount, currency, payment_intent_id, idempotency_key, created_at, updated_at`

const (
	DefaultOrderPageSize = 20
	MaxOrderPageSize     = 100
)

func scanOrder(row rowScanner) (models.Order, error) {
	var order models.Order
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.Currency,
		&order.PaymentIntentID,
		&order.IdempotencyKey,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	return order, err
}

// NewOrder is a fully priced order ready to be written. Lines carry the
// snapshot values that will be stored on the order items.
type NewOrder struct {
	UserID          string
	TotalAmount     decimal.Decimal
	Currency        string
	PaymentIntentID string
	IdempotencyKey  string
	Lines           []NewOrderLine
}

type NewOrderLine struct {
	ProductID int64
	Title     string
	ImageURL  string
	Quantity  int
	UnitPrice decimal.Decimal
}

// InsertOrder writes the pending order row and its item snapshots. It must
// run inside the caller's transaction so both land or neither does.
func InsertOrder(ctx context.Context, tx *sql.Tx, in NewOrder) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, status, total_amount, currency, payment_intent_id, idempotency_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 RETURNING `+orderColumns,
		in.UserID, models.OrderStatusPending, in.TotalAmount, in.Currency, in.PaymentIntentID, in.IdempotencyKey))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, line := range in.Lines {
		subtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))

		var item models.OrderItem
		var productID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, title, image_url, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			 RETURNING id, order_id, product_id, title, image_url, quantity, unit_price, subtotal, created_at`,
			order.ID, line.ProductID, line.Title, line.ImageURL, line.Quantity, line.UnitPrice, subtotal).Scan(
			&item.ID,
			&item.OrderID,
			&productID,
			&item.Title,
			&item.ImageURL,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		if productID.Valid {
			item.ProductID = &productID.Int64
		}
		order.Items = append(order.Items, item)
	}

	return &order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = listOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrderByIdempotencyKey returns ErrOrderNotFound when no order was placed
// with this key yet.
func GetOrderByIdempotencyKey(ctx context.Context, db *sql.DB, key string) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}

	order.Items, err = listOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func listOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, title, image_url, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		var productID sql.NullInt64
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&productID,
			&item.Title,
			&item.ImageURL,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if productID.Valid {
			item.ProductID = &productID.Int64
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID string, cursor string, limit int) (*CursorPage, error) {
	_, limit = normalizePage(1, limit, DefaultOrderPageSize, MaxOrderPageSize)

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, database.NewValidationError("cursor", "malformed")
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	for i := range orders {
		orders[i].Items, err = listOrderItems(ctx, db, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListOrders is the back-office listing across all users. An empty status
// lists every order.
func ListOrders(ctx context.Context, db *sql.DB, status models.OrderStatus, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = normalizePage(page, pageSize, DefaultOrderPageSize, MaxOrderPageSize)

	where := ""
	args := []any{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, orderColumns, where, len(args)-1, len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

// UpdateOrderStatus applies one edge of the transition table. The UPDATE is
// conditioned on the status read, so a concurrent change makes it fail with
// ErrOptimisticLockFailed instead of skipping a step.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, id int64, next models.OrderStatus) (*models.Order, error) {
	var current models.OrderStatus
	err := db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order status: %w", err)
	}

	return TransitionOrder(ctx, db, id, current, next)
}

func TransitionOrder(ctx context.Context, db *sql.DB, id int64, from, to models.OrderStatus) (*models.Order, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, from, to)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, database.ErrOptimisticLockFailed
	}

	return GetOrder(ctx, db, id)
}

// GetOrderByPaymentIntent finds the order a payment provider event refers to.
func GetOrderByPaymentIntent(ctx context.Context, db *sql.DB, intentID string) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, intentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by payment intent: %w", err)
	}
	return &order, nil
}

// LockOrder reads an order under a row lock. It gives up with ErrLockTimeout
// when another transaction holds the row for longer than wait.
func LockOrder(ctx context.Context, tx *sql.Tx, id int64, wait time.Duration) (*models.Order, error) {
	if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", wait.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		if database.IsLockNotAvailable(err) {
			return nil, fmt.Errorf("lock order %d: %w", id, database.ErrLockTimeout)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return &order, nil
}

// ListUserOrderRefs returns the id and status of every order a user owns,
// oldest first. Amounts and items are not loaded.
func ListUserOrderRefs(ctx context.Context, db *sql.DB, userID string) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, status FROM orders WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.Status); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.UserID = userID
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// DeleteOrder removes an order locked by LockOrder and puts its quantities
// back on the shelf. Items whose product was deleted since are skipped.
// Shipped and delivered orders are refused with ErrOrderNotDeletable.
func DeleteOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	if !order.Status.Deletable() {
		return fmt.Errorf("%w: order %d is %s", database.ErrOrderNotDeletable, order.ID, order.Status)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, SUM(quantity)
		 FROM order_items
		 WHERE order_id = $1 AND product_id IS NOT NULL
		 GROUP BY product_id
		 ORDER BY product_id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("list order stock: %w", err)
	}

	quantities := make(map[int64]int)
	var ids []int64
	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			rows.Close()
			return fmt.Errorf("scan order stock: %w", err)
		}
		quantities[id] = qty
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	if len(ids) > 0 {
		if _, err := LockProductsForOrder(ctx, tx, ids); err != nil {
			return err
		}
		for _, id := range ids {
			if err := IncrementStock(ctx, tx, id, quantities[id]); err != nil {
				return err
			}
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.ID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}
