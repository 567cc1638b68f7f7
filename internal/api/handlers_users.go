package api

import (
	"log"
	"net/http"

	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/store"
)

// syncIdentity copies the verified token's profile into the users table.
// Register and login differ only in the status code.
func (s *Server) syncIdentity(w http.ResponseWriter, r *http.Request, code int) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, r, auth.ErrMissingToken)
		return
	}

	user, err := store.SyncUser(r.Context(), s.db, id.UID, id.Email, id.Name, id.Picture)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, code, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.syncIdentity(w, r, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.syncIdentity(w, r, http.StatusOK)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := store.GetUser(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser releases the user's open orders, removes local data and
// then the provider account. A provider failure after the local delete is
// logged; the next login would recreate only an empty profile.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if err := authorizeUser(r, userID); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.checkout.ReleaseUserOrders(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.DeleteUser(r.Context(), s.db, userID); err != nil {
		writeError(w, r, err)
		return
	}

	if deleter, ok := s.verifier.(auth.AccountDeleter); ok {
		if err := deleter.DeleteAccount(r.Context(), userID); err != nil {
			log.Printf("WARN delete identity account %s request_id=%s: %v", userID, requestIDFrom(r.Context()), err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
