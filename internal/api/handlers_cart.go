package api

import (
	"net/http"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

type cartItemRequest struct {
	UserID    string `json:"user_id"`
	ProductID int64  `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (req cartItemRequest) validate() error {
	if req.ProductID < 1 {
		return database.NewValidationError("product_id", "must be a positive integer")
	}
	return nil
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	lookup, err := store.GetOrCreateCart(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lookup)
}

func (s *Server) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lookup, err := store.GetOrCreateCart(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if lookup.Outcome == models.CartCreated {
		code = http.StatusCreated
	}
	writeJSON(w, code, lookup)
}

func (s *Server) decodeCartItem(w http.ResponseWriter, r *http.Request) (cartItemRequest, string, bool) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return req, "", false
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return req, "", false
	}

	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return req, "", false
	}
	return req, userID, true
}

func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := s.decodeCartItem(w, r)
	if !ok {
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := store.AddCartItem(r.Context(), s.db, userID, req.ProductID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := s.decodeCartItem(w, r)
	if !ok {
		return
	}
	if req.Quantity == nil {
		writeError(w, r, database.NewValidationError("quantity", "is required"))
		return
	}

	cart, err := store.UpdateCartItem(r.Context(), s.db, userID, req.ProductID, *req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// handleRemoveCartItem decrements by quantity, one when omitted.
func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := s.decodeCartItem(w, r)
	if !ok {
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := store.RemoveCartItem(r.Context(), s.db, userID, req.ProductID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.ClearCart(r.Context(), s.db, userID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cart cleared"})
}
