package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Password  string    `json:"-"`
	PublicKey string    `json:"public_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the shared, public view of a user.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		PublicKey: u.PublicKey,
	}
}

// Conversation is the append-only envelope log between a lender (SenderID)
// and a renter (ReceiverID) about one listing.
type Conversation struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	ItemID     string    `json:"item_id"`
	Entries    []Entry   `json:"entries,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.SenderID == userID || c.ReceiverID == userID)
}

// Peer returns the other participant, or "" if userID is not a participant.
func (c *Conversation) Peer(userID string) string {
	switch userID {
	case c.SenderID:
		return c.ReceiverID
	case c.ReceiverID:
		return c.SenderID
	}
	return ""
}

// Entry is one stored envelope. SenderID is plaintext metadata; the
// authoritative sender is the one inside the encrypted payload.
type Entry struct {
	Seq       int64     `json:"seq"`
	SenderID  string    `json:"sender_id,omitempty"`
	Envelope  string    `json:"envelope"`
	CreatedAt time.Time `json:"created_at"`
}

// PlaintextMessage is the payload sealed inside an envelope.
type PlaintextMessage struct {
	Content   string     `json:"content"`
	SenderID  string     `json:"sender_id"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at"`
}
