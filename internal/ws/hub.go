package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/notify"
)

// Hub pushes entry notifications to the websocket clients watching each
// conversation. It owns one all-conversation subscription for its lifetime.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	notifier notify.Notifier
	logger   *zap.Logger

	ready chan struct{}
	done  chan struct{}
}

func NewHub(notifier notify.Notifier, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		notifier:   notifier,
		logger:     logger,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Ready is closed once Run has subscribed to notifications.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run serves clients until ctx ends or the subscription closes.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	sub, err := h.notifier.Subscribe(ctx, "")
	if err != nil {
		return err
	}
	defer sub.Close()
	close(h.ready)

	defer func() {
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case client := <-h.register:
			h.clients[client] = true
			client.send <- subscribedMessage(client.conversationID)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev notify.Event) {
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	for client := range h.clients {
		if client.conversationID != ev.ConversationID {
			continue
		}
		select {
		case client.send <- msgBytes:
		default:
			h.logger.Warn("dropping slow websocket client",
				zap.String("conversation_id", ev.ConversationID),
				zap.String("user_id", client.userID))
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func subscribedMessage(conversationID string) []byte {
	msg, _ := json.Marshal(notify.Event{
		Type:           notify.TypeSubscribed,
		ConversationID: conversationID,
		At:             time.Now().UTC(),
	})
	return msg
}

// add registers a client; it reports false once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
