package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Brand struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Product is a row of the product_details view: the product joined with its
// brand and category names and its aggregated size, color and condition names.
type Product struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Description   string           `json:"description"`
	ImageURL      string           `json:"image_url"`
	CategoryID    *int64           `json:"category_id,omitempty"`
	Category      string           `json:"category,omitempty"`
	BrandID       *int64           `json:"brand_id,omitempty"`
	Brand         string           `json:"brand,omitempty"`
	Sizes         []string         `json:"sizes"`
	Colors        []string         `json:"colors"`
	Conditions    []string         `json:"conditions"`
	Stock         int              `json:"stock"`
	Likes         int              `json:"likes"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ProductInput carries the writable product fields for create and update.
type ProductInput struct {
	Title         string           `json:"title"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Description   string           `json:"description"`
	ImageURL      string           `json:"image_url"`
	CategoryID    *int64           `json:"category_id,omitempty"`
	BrandID       *int64           `json:"brand_id,omitempty"`
	Sizes         []string         `json:"sizes"`
	Colors        []string         `json:"colors"`
	Conditions    []string         `json:"conditions"`
	Stock         int              `json:"stock"`
}

type Cart struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"image_url"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
}

type CartOutcome string

const (
	CartFound   CartOutcome = "found"
	CartCreated CartOutcome = "created"
)

// CartLookup tags a get-or-create result so callers can tell first use from
// steady state.
type CartLookup struct {
	Cart    *Cart       `json:"cart"`
	Outcome CartOutcome `json:"outcome"`
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	PaymentIntentID string          `json:"payment_intent_id"`
	IdempotencyKey  string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem is a snapshot taken at purchase time. ProductID is nil once the
// product has been deleted from the catalog.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID *int64          `json:"product_id"`
	Title     string          `json:"title"`
	ImageURL  string          `json:"image_url"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type WishlistItem struct {
	UserID    string    `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Product   Product   `json:"product"`
	CreatedAt time.Time `json:"created_at"`
}

type Subscriber struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Active       bool       `json:"active"`
	SubscribedAt time.Time  `json:"subscribed_at"`
	UnsubbedAt   *time.Time `json:"unsubscribed_at,omitempty"`
}
