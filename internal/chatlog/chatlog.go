// Package chatlog is the server-side conversation log: validation on top of
// the atomic store primitives, plus notifications once an append commits.
package chatlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/e2e"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/models"
	"github.com/pliu/rentchat/internal/notify"
	"github.com/pliu/rentchat/internal/store"
)

type ChatLog struct {
	store    store.ConversationStore
	notifier notify.Notifier
	logger   *zap.Logger
}

func New(s store.ConversationStore, n notify.Notifier, logger *zap.Logger) *ChatLog {
	if n == nil {
		n = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatLog{store: s, notifier: n, logger: logger}
}

// Create opens a conversation between a lender (senderID) and a renter
// (receiverID) about itemID, seeded with one envelope from the sender.
func (c *ChatLog) Create(ctx context.Context, senderID, receiverID, itemID, firstEnvelope string) (*models.Conversation, error) {
	if senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("%w: both participants are required", cerrors.ErrInvalidConversation)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: participants must differ", cerrors.ErrInvalidConversation)
	}
	if err := e2e.ValidateEnvelope(firstEnvelope); err != nil {
		return nil, err
	}

	conv, err := c.store.CreateConversation(ctx, senderID, receiverID, itemID,
		models.Entry{SenderID: senderID, Envelope: firstEnvelope})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	c.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("item_id", itemID))
	if len(conv.Entries) > 0 {
		c.publish(ctx, conv.ID, conv.Entries[0])
	}
	return conv, nil
}

// Append adds one envelope from senderID, who must be a participant.
func (c *ChatLog) Append(ctx context.Context, conversationID, senderID, envelope string) (*models.Entry, error) {
	if err := e2e.ValidateEnvelope(envelope); err != nil {
		return nil, err
	}

	entry, err := c.store.AppendEntry(ctx, conversationID, models.Entry{SenderID: senderID, Envelope: envelope})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("entry appended",
		zap.String("conversation_id", conversationID),
		zap.Int64("seq", entry.Seq))
	c.publish(ctx, conversationID, *entry)
	return entry, nil
}

// Read returns the conversation with its entries in append order.
func (c *ChatLog) Read(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return c.store.GetConversation(ctx, conversationID)
}

// List returns userID's conversations, most recently updated first.
func (c *ChatLog) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	return c.store.ListConversations(ctx, userID)
}

// publish runs after commit, so a failure only costs a push.
func (c *ChatLog) publish(ctx context.Context, conversationID string, entry models.Entry) {
	if err := c.notifier.Publish(ctx, notify.EntryAppended(conversationID, entry)); err != nil {
		c.logger.Warn("failed to publish notification",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}
