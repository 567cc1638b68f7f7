package api

import (
	"io"
	"net/http"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/payment"
)

// maxWebhookBytes matches the size Stripe documents for event payloads.
const maxWebhookBytes = 65536

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, r, database.NewValidationError("body", "unreadable"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeError(w, r, payment.ErrInvalidSignature)
		return
	}

	event, err := s.events.ParseEvent(payload, signature)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.checkout.HandlePaymentEvent(r.Context(), event); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
