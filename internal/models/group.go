package models

import "time"

// Membership roles. Every group has exactly one OWNER (its creator).
const (
	RoleOwner  = "OWNER"
	RoleMember = "MEMBER"
)

// Group represents a messaging group.
type Group struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsPrivate bool      `db:"is_private" json:"is_private"`
	OwnerID   int       `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupMember ties a user to a group with a role.
type GroupMember struct {
	GroupID  int       `db:"group_id" json:"group_id"`
	UserID   int       `db:"user_id" json:"user_id"`
	Role     string    `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
