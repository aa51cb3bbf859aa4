package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/chatlog"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/middleware"
	"github.com/pliu/rentchat/internal/store"
	"github.com/pliu/rentchat/internal/ws"
)

type CreateConversationRequest struct {
	ReceiverID string `json:"receiver_id"`
	ItemID     string `json:"item_id"`
	Envelope   string `json:"envelope"`
}

type AppendEntryRequest struct {
	Envelope string `json:"envelope"`
}

type ChatHandler struct {
	Users  store.UserStore
	Log    *chatlog.ChatLog
	Hub    *ws.Hub
	Logger *zap.Logger
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Log.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// CreateConversation opens a conversation from the caller (the lender) to
// the receiver, seeded with one envelope.
func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.ReceiverID == "" {
		http.Error(w, "receiver_id is required", http.StatusBadRequest)
		return
	}
	if _, err := h.Users.GetUserByID(r.Context(), req.ReceiverID); err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}

	conv, err := h.Log.Create(r.Context(), middleware.UserID(r.Context()), req.ReceiverID, req.ItemID, req.Envelope)
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Log.Read(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	if !conv.HasParticipant(middleware.UserID(r.Context())) {
		writeError(w, nopIfNil(h.Logger), cerrors.ErrNotParticipant)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req AppendEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.Log.Append(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()), req.Envelope)
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Watch upgrades to a websocket that receives an event for every entry
// appended to the conversation named by the "conversation" query parameter.
func (h *ChatHandler) Watch(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		http.Error(w, "conversation is required", http.StatusBadRequest)
		return
	}

	userID := middleware.UserID(r.Context())
	conv, err := h.Log.Read(r.Context(), conversationID)
	if err != nil {
		writeError(w, nopIfNil(h.Logger), err)
		return
	}
	if !conv.HasParticipant(userID) {
		writeError(w, nopIfNil(h.Logger), cerrors.ErrNotParticipant)
		return
	}

	ws.ServeWs(h.Hub, w, r, conversationID, userID)
}
