package models

import "time"

// AlgorithmAESGCM tags symmetric group keys used for server-side encryption.
const AlgorithmAESGCM = "AES-256-GCM"

// GroupKey is a symmetric encryption key owned by a group. Revoked keys are
// kept forever so stored messages stay attributable to the key that sealed
// them.
type GroupKey struct {
	ID        string     `db:"id" json:"id"`
	GroupID   int        `db:"group_id" json:"group_id"`
	Material  []byte     `db:"material" json:"-"`
	Algorithm string     `db:"algorithm" json:"algorithm"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Revoked   bool       `db:"revoked" json:"revoked"`
}

// UserPublicKey is a user's registered public key for client-side encryption.
// Public keys live in their own table; they are not group keys and carry no IV.
type UserPublicKey struct {
	UserID    int       `db:"user_id" json:"user_id"`
	PublicKey []byte    `db:"public_key" json:"public_key"`
	Algorithm string    `db:"algorithm" json:"algorithm"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
