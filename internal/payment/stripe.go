package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/safar/storefront/internal/config"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe builds a client whose requests go through httpClient, so callers
// can pass a traced transport. Network retries reuse the idempotency key.
func NewStripe(cfg config.StripeConfig, httpClient *http.Client) *Stripe {
	return newStripe(cfg, httpClient, "")
}

func newStripe(cfg config.StripeConfig, httpClient *http.Client, baseURL string) *Stripe {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(int64(cfg.MaxNetworkRetries)),
	}
	if baseURL != "" {
		backendConfig.URL = stripe.String(baseURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	return &Stripe{api: api, webhookSecret: cfg.WebhookSecret}
}

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	amount, err := ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w: %w", ErrProvider, err)
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (s *Stripe) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := s.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w: %w", intentID, ErrProvider, err)
	}
	return nil
}

// RefundIntent refunds the full captured amount. The idempotency key is
// derived from the intent so a repeated call cannot refund twice.
func (s *Stripe) RefundIntent(ctx context.Context, intentID string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + intentID)

	if _, err := s.api.Refunds.New(params); err != nil {
		return fmt.Errorf("refund payment intent %s: %w: %w", intentID, ErrProvider, err)
	}
	return nil
}

// ParseEvent verifies the Stripe-Signature header and extracts the payment
// intent id for payment_intent.* events.
func (s *Stripe) ParseEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if strings.HasPrefix(out.Type, "payment_intent.") && ev.Data != nil {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.IntentID = pi.ID
	}

	return out, nil
}
