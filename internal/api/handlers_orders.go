package api

import (
	"net/http"
	"strings"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

type placeOrderRequest struct {
	UserID string          `json:"user_id"`
	Items  []checkout.Line `json:"items"`
}

// handlePlaceOrder answers 201 for a new order and 200 when the
// Idempotency-Key matched an earlier one.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.checkout.PlaceOrder(r.Context(), checkout.Request{
		UserID:         userID,
		Lines:          req.Items,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, result)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var status models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseOrderStatus(raw)
		if err != nil {
			writeError(w, r, database.NewValidationError("status", "%v", err))
			return
		}
		status = parsed
	}

	page := intParam(r, "page", 1, 1, 1<<20)
	pageSize := intParam(r, "page_size", store.DefaultOrderPageSize, 1, store.MaxOrderPageSize)

	result, err := store.ListOrders(r.Context(), s.db, status, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// loadOwnedOrder fetches the order and checks the caller may see it.
func (s *Server) loadOwnedOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	id, err := pathID(r, "orderId")
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	order, err := store.GetOrder(r.Context(), s.db, id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}

	if err := authorizeUser(r, order.UserID); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return order, true
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOwnedOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	limit := intParam(r, "limit", store.DefaultOrderPageSize, 1, store.MaxOrderPageSize)
	result, err := store.ListOrdersCursor(r.Context(), s.db, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, r, database.NewValidationError("status", "%v", err))
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), s.db, id, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	if err := s.checkout.DeleteOrder(r.Context(), order.ID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
