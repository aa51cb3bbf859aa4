package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/models"
)

// CreateConversation stores a new conversation together with its first entry.
func (s *SQLStore) CreateConversation(ctx context.Context, senderID, receiverID, itemID string, first models.Entry) (*models.Conversation, error) {
	now := s.now()
	conv := &models.Conversation{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		ItemID:     itemID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := s.rebind("INSERT INTO conversations (id, sender_id, receiver_id, item_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, query, conv.ID, senderID, receiverID, itemID, now, now); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	entry, err := s.insertEntry(ctx, tx, conv.ID, first, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	conv.Entries = []models.Entry{*entry}
	return conv, nil
}

// AppendEntry locks the conversation row, checks the sender, advances
// updated_at (never backwards) and inserts the envelope.
func (s *SQLStore) AppendEntry(ctx context.Context, conversationID string, entry models.Entry) (*models.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var senderID, receiverID string
	var updatedAt time.Time
	query := s.rebind(s.forUpdate("SELECT sender_id, receiver_id, updated_at FROM conversations WHERE id = ?"))
	err = tx.QueryRowContext(ctx, query, conversationID).Scan(&senderID, &receiverID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.SenderID != senderID && entry.SenderID != receiverID {
		return nil, cerrors.ErrNotParticipant
	}

	now := s.now()
	if now.Before(updatedAt) {
		now = updatedAt.UTC()
	}

	query = s.rebind("UPDATE conversations SET updated_at = ? WHERE id = ?")
	if _, err := tx.ExecContext(ctx, query, now, conversationID); err != nil {
		return nil, fmt.Errorf("advance updated_at: %w", err)
	}

	stored, err := s.insertEntry(ctx, tx, conversationID, entry, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLStore) insertEntry(ctx context.Context, tx *sql.Tx, conversationID string, entry models.Entry, at time.Time) (*models.Entry, error) {
	query := s.rebind("INSERT INTO envelopes (conversation_id, sender_id, envelope, created_at) VALUES (?, ?, ?, ?) RETURNING id")
	var seq int64
	if err := tx.QueryRowContext(ctx, query, conversationID, entry.SenderID, entry.Envelope, at).Scan(&seq); err != nil {
		return nil, fmt.Errorf("insert envelope: %w", err)
	}
	return &models.Entry{
		Seq:       seq,
		SenderID:  entry.SenderID,
		Envelope:  entry.Envelope,
		CreatedAt: at,
	}, nil
}

// GetConversation returns the conversation with its entries in append order.
func (s *SQLStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	query := s.rebind("SELECT id, sender_id, receiver_id, item_id, created_at, updated_at FROM conversations WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.SenderID, &conv.ReceiverID, &conv.ItemID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()

	query = s.rebind("SELECT id, sender_id, envelope, created_at FROM envelopes WHERE conversation_id = ? ORDER BY id ASC")
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv.Entries = []models.Entry{}
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.Seq, &e.SenderID, &e.Envelope, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		conv.Entries = append(conv.Entries, e)
	}
	return &conv, rows.Err()
}

func (s *SQLStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := s.rebind(`
		SELECT id, sender_id, receiver_id, item_id, created_at, updated_at
		FROM conversations
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY updated_at DESC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.ItemID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
