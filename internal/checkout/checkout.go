// Package checkout turns a list of requested lines into a pending order backed
// by a payment intent.
package checkout

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxLines             = 100
	maxIdempotencyKeyLen = 255
	cancelTimeout        = 10 * time.Second
	deleteLockWait       = 5 * time.Second
)

var ErrIdempotencyKeyReused = errors.New("idempotency key already used by another user")

type Line struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type Request struct {
	UserID         string
	Lines          []Line
	IdempotencyKey string
}

// Result is a placed order. ClientSecret is empty on replays because the
// provider is not contacted again.
type Result struct {
	Order        *models.Order `json:"order"`
	ClientSecret string        `json:"client_secret,omitempty"`
	Replayed     bool          `json:"replayed"`
}

type Service struct {
	db       *sql.DB
	payments payment.Provider
	currency string
	tracer   trace.Tracer
	placed   metric.Int64Counter
}

func NewService(db *sql.DB, payments payment.Provider, currency string) (*Service, error) {
	placed, err := otel.Meter("storefront/checkout").Int64Counter(
		"storefront.checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders counter: %w", err)
	}

	return &Service{
		db:       db,
		payments: payments,
		currency: currency,
		tracer:   otel.Tracer("storefront/checkout"),
		placed:   placed,
	}, nil
}

func validate(req *Request) error {
	if req.UserID == "" {
		return database.NewValidationError("user_id", "is required")
	}
	if len(req.Lines) == 0 {
		return database.NewValidationError("items", "must not be empty")
	}
	if len(req.Lines) > maxLines {
		return database.NewValidationError("items", "at most %d lines per order", maxLines)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return database.NewValidationError("idempotency_key", "at most %d characters", maxIdempotencyKeyLen)
	}

	seen := make(map[int64]bool, len(req.Lines))
	for i, line := range req.Lines {
		if line.ProductID <= 0 {
			return database.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if line.Quantity < 1 {
			return database.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if seen[line.ProductID] {
			return database.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "duplicate product %d", line.ProductID)
		}
		seen[line.ProductID] = true
	}
	return nil
}

func productIDs(lines []Line) []int64 {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	return ids
}

// PlaceOrder prices every line from the catalog, opens a payment intent for
// the total and then, in one transaction, re-checks prices under row locks,
// takes stock and writes the order. The intent is cancelled if the
// transaction fails. A request whose idempotency key already produced an
// order returns that order.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", req.UserID), attribute.Int("order.lines", len(req.Lines))))
	defer func() {
		outcome := "placed"
		switch {
		case err != nil:
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result.Replayed:
			outcome = "replayed"
		}
		s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.End()
	}()

	if err := validate(&req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	} else if existing, err := s.replay(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	quoted, err := store.GetPricedProducts(ctx, s.db, productIDs(req.Lines))
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, line := range req.Lines {
		p, ok := quoted[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", database.ErrProductNotFound, line.ProductID)
		}
		if p.Stock < line.Quantity {
			return nil, fmt.Errorf("%w: product %d", database.ErrInsufficientStock, line.ProductID)
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	if !total.IsPositive() {
		return nil, database.NewValidationError("items", "order total must be positive")
	}
	span.SetAttributes(attribute.String("order.total", total.StringFixed(2)))

	intent, err := s.openIntent(ctx, req, total)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = s.writeOrder(ctx, tx, req, quoted, total, intent.ID)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			// A concurrent request with the same key won. The winner's intent
			// must stay open; ours only differs when it was opened fresh.
			if existing, replayErr := s.replay(ctx, req); replayErr == nil && existing != nil {
				if existing.Order.PaymentIntentID != intent.ID {
					s.cancelIntent(ctx, intent.ID)
				}
				return existing, nil
			}
		}
		s.cancelIntent(ctx, intent.ID)
		return nil, err
	}

	return &Result{Order: order, ClientSecret: intent.ClientSecret}, nil
}

// providerKey binds the provider's idempotency key to what is charged. A retry
// after a price change quotes a different amount and gets its own intent.
func providerKey(req Request, total decimal.Decimal, currency string) string {
	lines := append([]Line(nil), req.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s\n", req.UserID, req.IdempotencyKey, currency, total.StringFixed(2))
	for _, line := range lines {
		fmt.Fprintf(h, "%d:%d\n", line.ProductID, line.Quantity)
	}
	return "order-" + hex.EncodeToString(h.Sum(nil))
}

// openIntent creates the intent for a quoted order. The provider replays the
// intent of an earlier attempt with the same key; when that attempt failed
// and cancelled it, a fresh intent is opened under a one-off key.
func (s *Service) openIntent(ctx context.Context, req Request, total decimal.Decimal) (*payment.Intent, error) {
	key := providerKey(req, total, s.currency)
	intentReq := payment.IntentRequest{
		Amount:         total,
		Currency:       s.currency,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"user_id":         req.UserID,
			"idempotency_key": req.IdempotencyKey,
		},
	}

	intent, err := s.payments.CreateIntent(ctx, intentReq)
	if err != nil {
		return nil, err
	}
	if intent.Status != payment.IntentStatusCanceled {
		return intent, nil
	}

	intentReq.IdempotencyKey = key + "-" + uuid.NewString()
	intent, err = s.payments.CreateIntent(ctx, intentReq)
	if err != nil {
		return nil, err
	}
	if intent.Status == payment.IntentStatusCanceled {
		return nil, fmt.Errorf("%w: payment intent %s is canceled", payment.ErrProvider, intent.ID)
	}
	return intent, nil
}

func (s *Service) replay(ctx context.Context, req Request) (*Result, error) {
	existing, err := store.GetOrderByIdempotencyKey(ctx, s.db, req.IdempotencyKey)
	if errors.Is(err, database.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.UserID != req.UserID {
		return nil, ErrIdempotencyKeyReused
	}
	return &Result{Order: existing, Replayed: true}, nil
}

func (s *Service) writeOrder(ctx context.Context, tx *sql.Tx, req Request, quoted map[int64]store.PricedProduct, total decimal.Decimal, intentID string) (*models.Order, error) {
	locked, err := store.LockProductsForOrder(ctx, tx, productIDs(req.Lines))
	if err != nil {
		return nil, err
	}

	lines := make([]store.NewOrderLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		p, ok := locked[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", database.ErrProductNotFound, line.ProductID)
		}
		if !p.Price.Equal(quoted[line.ProductID].Price) {
			return nil, fmt.Errorf("%w: product %d", database.ErrPriceChanged, line.ProductID)
		}
		if err := store.DecrementStock(ctx, tx, p.ID, line.Quantity); err != nil {
			return nil, fmt.Errorf("%w: product %d", err, line.ProductID)
		}

		lines = append(lines, store.NewOrderLine{
			ProductID: p.ID,
			Title:     p.Title,
			ImageURL:  p.ImageURL,
			Quantity:  line.Quantity,
			UnitPrice: p.Price,
		})
	}

	return store.InsertOrder(ctx, tx, store.NewOrder{
		UserID:          req.UserID,
		TotalAmount:     total,
		Currency:        s.currency,
		PaymentIntentID: intentID,
		IdempotencyKey:  req.IdempotencyKey,
		Lines:           lines,
	})
}

// cancelIntent runs detached from the request so a client disconnect does not
// leave the intent open.
func (s *Service) cancelIntent(ctx context.Context, intentID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	if err := s.payments.CancelIntent(ctx, intentID); err != nil {
		log.Printf("checkout: cancel orphaned payment intent %s: %v", intentID, err)
	}
}

// DeleteOrder removes a pending or paid order and returns its stock. The
// payment is settled while the order row is still locked: a pending intent is
// cancelled so its client secret can no longer be charged, a paid one is
// refunded. If the provider refuses, nothing is deleted.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := s.tracer.Start(ctx, "checkout.DeleteOrder",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := store.LockOrder(ctx, tx, orderID, deleteLockWait)
		if err != nil {
			return err
		}
		if err := store.DeleteOrder(ctx, tx, order); err != nil {
			return err
		}
		return s.settle(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *Service) settle(ctx context.Context, order *models.Order) error {
	switch order.Status {
	case models.OrderStatusPending:
		return s.payments.CancelIntent(ctx, order.PaymentIntentID)
	case models.OrderStatusPaid:
		return s.payments.RefundIntent(ctx, order.PaymentIntentID)
	}
	return nil
}

// ReleaseUserOrders deletes every order of userID that is still deletable,
// ahead of removing the account. Shipped and delivered orders are left for
// the account cascade.
func (s *Service) ReleaseUserOrders(ctx context.Context, userID string) error {
	orders, err := store.ListUserOrderRefs(ctx, s.db, userID)
	if err != nil {
		return err
	}

	for _, order := range orders {
		if !order.Status.Deletable() {
			continue
		}
		err := s.DeleteOrder(ctx, order.ID)
		if err != nil && !errors.Is(err, database.ErrOrderNotFound) && !errors.Is(err, database.ErrOrderNotDeletable) {
			return fmt.Errorf("release order %d: %w", order.ID, err)
		}
	}
	return nil
}

// HandlePaymentEvent applies provider webhooks. Only a successful payment has
// an effect: the matching pending order becomes paid. Unknown intents and
// orders that already moved on are acknowledged without change.
func (s *Service) HandlePaymentEvent(ctx context.Context, ev *payment.Event) error {
	ctx, span := s.tracer.Start(ctx, "checkout.HandlePaymentEvent",
		trace.WithAttributes(attribute.String("event.type", ev.Type), attribute.String("payment.intent", ev.IntentID)))
	defer span.End()

	if ev.Type != payment.EventPaymentSucceeded || ev.IntentID == "" {
		return nil
	}

	order, err := store.GetOrderByPaymentIntent(ctx, s.db, ev.IntentID)
	if errors.Is(err, database.ErrOrderNotFound) {
		log.Printf("checkout: payment event %s for unknown intent %s", ev.ID, ev.IntentID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if order.Status != models.OrderStatusPending {
		return nil
	}

	_, err = store.TransitionOrder(ctx, s.db, order.ID, models.OrderStatusPending, models.OrderStatusPaid)
	if errors.Is(err, database.ErrOptimisticLockFailed) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
