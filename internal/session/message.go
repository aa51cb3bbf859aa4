package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pliu/rentchat/internal/models"
)

var errInvalidPayload = errors.New("invalid message payload")

// encodeMessage renders the JSON payload that gets sealed into an envelope.
func encodeMessage(msg models.PlaintextMessage) (string, error) {
	msg.CreatedAt = msg.CreatedAt.UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeMessage parses a decrypted payload. content, sender_id and
// created_at are required.
func decodeMessage(plaintext string) (models.PlaintextMessage, error) {
	var raw struct {
		Content   *string    `json:"content"`
		SenderID  string     `json:"sender_id"`
		CreatedAt time.Time  `json:"created_at"`
		ReadAt    *time.Time `json:"read_at"`
	}
	if err := json.Unmarshal([]byte(plaintext), &raw); err != nil {
		return models.PlaintextMessage{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if raw.Content == nil || raw.SenderID == "" || raw.CreatedAt.IsZero() {
		return models.PlaintextMessage{}, errInvalidPayload
	}
	return models.PlaintextMessage{
		Content:   *raw.Content,
		SenderID:  raw.SenderID,
		CreatedAt: raw.CreatedAt.UTC(),
		ReadAt:    raw.ReadAt,
	}, nil
}

// ApprovalText is the message a lender seeds a conversation with when
// approving a rental.
func ApprovalText(start time.Time, nights int) string {
	return fmt.Sprintf("Rental approved\nStart: %s\nNights: %d\n\nNext steps: Arrange a pickup time through chat.",
		start.Format("2006-01-02"), nights)
}
