// Package notify fans out "entry appended" events to subscribers, either
// in-process or across server instances through Redis pub/sub.
package notify

import (
	"context"
	"time"

	"github.com/pliu/rentchat/internal/models"
)

const (
	TypeEntryAppended = "entry_appended"

	// TypeSubscribed is sent once by the websocket hub when a watcher is registered.
	TypeSubscribed = "subscribed"
)

// Event announces that a conversation grew. It carries no envelope.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id,omitempty"`
	At             time.Time `json:"at"`
}

func EntryAppended(conversationID string, entry models.Entry) Event {
	return Event{
		Type:           TypeEntryAppended,
		ConversationID: conversationID,
		Seq:            entry.Seq,
		SenderID:       entry.SenderID,
		At:             entry.CreatedAt,
	}
}

// Subscription delivers events until Close is called or its context ends.
// Events is closed once the subscription has shut down.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe to one conversation, or to all of them when conversationID is "".
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

// Nop discards events. Its subscriptions never deliver.
type Nop struct{}

func (Nop) Publish(ctx context.Context, ev Event) error { return nil }

func (Nop) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	return newLocalSub(nil, conversationID, 0), nil
}
