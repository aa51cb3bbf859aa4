package store

import (
	"context"

	"github.com/pliu/rentchat/internal/models"
)

// ProfileStore maps a user id to the public key on their shared profile.
type ProfileStore interface {
	// GetPublicKey returns "" when the user exists but has no key recorded.
	GetPublicKey(ctx context.Context, userID string) (string, error)
	SetPublicKey(ctx context.Context, userID, publicKey string) error
}

// ConversationStore is the append-only envelope log.
type ConversationStore interface {
	CreateConversation(ctx context.Context, senderID, receiverID, itemID string, first models.Entry) (*models.Conversation, error)
	// AppendEntry adds one envelope and advances updated_at in a single
	// transaction. Concurrent appends never lose entries.
	AppendEntry(ctx context.Context, conversationID string, entry models.Entry) (*models.Entry, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	// ListConversations returns the user's conversations without entries,
	// most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Store interface {
	UserStore
	ProfileStore
	ConversationStore

	Ping(ctx context.Context) error
	Close() error
}
