package models

import "time"

// Message is a stored group message. Ciphertext, IV and KeyID never change
// after insert; only read markers accumulate.
type Message struct {
	ID         int       `db:"id" json:"id"`
	GroupID    int       `db:"group_id" json:"group_id"`
	SenderID   int       `db:"sender_id" json:"sender_id"`
	Ciphertext []byte    `db:"ciphertext" json:"ciphertext"`
	IV         []byte    `db:"iv" json:"iv"`
	KeyID      *string   `db:"key_id" json:"key_id,omitempty"`
	IsE2EE     bool      `db:"is_e2ee" json:"is_e2ee"`
	Nonce      *string   `db:"nonce" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ReadMarker records that a user has read a message.
type ReadMarker struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// MessagePage is one page of a newest-first message listing.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor int       `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// MessageEvent is emitted over WebSocket connections for groups.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}
