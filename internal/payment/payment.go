// Package payment talks to the card payment provider. Checkout only depends on
// the Provider interface; Stripe is the production implementation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrProvider         = errors.New("payment provider error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidAmount    = errors.New("invalid payment amount")
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	IntentStatusCanceled  = "canceled"
)

type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	RefundIntent(ctx context.Context, intentID string) error
}

// Event is the subset of a provider webhook event the order flow acts on.
type Event struct {
	ID       string
	Type     string
	IntentID string
}

// zeroDecimal lists ISO 4217 codes the provider charges in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// ToMinorUnits converts a decimal amount to the integer the provider expects,
// e.g. 12.34 usd -> 1234 and 500 jpy -> 500. Amounts that do not fit the
// currency's precision are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}

	places := int32(2)
	if zeroDecimal[strings.ToLower(currency)] {
		places = 0
	}

	minor := amount.Shift(places)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places for %s", ErrInvalidAmount, amount, places, currency)
	}

	return minor.IntPart(), nil
}
