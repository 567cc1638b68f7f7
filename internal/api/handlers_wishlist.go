package api

import (
	"net/http"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/store"
)

type wishlistRequest struct {
	UserID    string `json:"user_id"`
	ProductID int64  `json:"product_id"`
}

func (s *Server) decodeWishlist(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	var req wishlistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return "", 0, false
	}
	if req.ProductID < 1 {
		writeError(w, r, database.NewValidationError("product_id", "must be a positive integer"))
		return "", 0, false
	}

	userID, err := resolveUser(r, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return "", 0, false
	}
	return userID, req.ProductID, true
}

func (s *Server) handleListWishlist(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	items, err := store.ListWishlist(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCheckWishlist(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}
	productID, err := pathID(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	present, err := store.IsInWishlist(r.Context(), s.db, userID, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "in_wishlist": present})
}

func (s *Server) handleAddToWishlist(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := s.decodeWishlist(w, r)
	if !ok {
		return
	}

	change, err := store.AddToWishlist(r.Context(), s.db, userID, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !change.Changed {
		writeJSON(w, http.StatusOK, map[string]any{"message": "already in wishlist", "change": change})
		return
	}
	writeJSON(w, http.StatusCreated, change)
}

func (s *Server) handleToggleWishlist(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := s.decodeWishlist(w, r)
	if !ok {
		return
	}

	change, err := store.ToggleWishlist(r.Context(), s.db, userID, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleRemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}
	productID, err := pathID(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	change, err := store.RemoveFromWishlist(r.Context(), s.db, userID, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleClearWishlist(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := store.ClearWishlist(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
