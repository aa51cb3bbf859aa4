package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/e2e"
	"github.com/pliu/rentchat/internal/middleware"
	"github.com/pliu/rentchat/internal/store"
)

type PublicKeyRequest struct {
	PublicKey string `json:"public_key"`
}

type ProfileHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUserByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	writeJSON(w, http.StatusOK, user.Profile())
}

// SetPublicKey replaces the caller's published key. Only 32-byte keys are
// accepted.
func (h *ProfileHandler) SetPublicKey(w http.ResponseWriter, r *http.Request) {
	var req PublicKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !e2e.ValidKey(req.PublicKey) {
		http.Error(w, "public_key must be base64 of 32 bytes", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r.Context())
	if err := h.Store.SetPublicKey(r.Context(), userID, req.PublicKey); err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}

	nopIfNil(h.Logger).Info("public key updated", zap.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}
