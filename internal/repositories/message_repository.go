package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrKeyRevoked      = errors.New("key revoked before message insert")
)

// MessageRepository defines the append-only message store with cursor
// pagination and read-receipt bookkeeping.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessagesPage(ctx context.Context, groupID int, limit int, cursor int) ([]models.Message, int, bool, error)
	MarkRead(ctx context.Context, groupID int, userID int, messageIDs []int) error
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage inserts the message in one transaction. For server-encrypted
// messages the referenced key row is locked and re-checked, so a key revoked
// between selection and insert aborts the append with ErrKeyRevoked instead
// of storing a message attributed to a key retired before it existed.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if msg.KeyID != nil {
		var revoked bool
		if err = tx.GetContext(ctx, &revoked, `SELECT revoked FROM group_keys WHERE id=$1 FOR SHARE`, *msg.KeyID); err != nil {
			return models.Message{}, err
		}
		if revoked {
			err = ErrKeyRevoked
			return models.Message{}, err
		}
	}

	var stored models.Message
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (group_id, sender_id, ciphertext, iv, key_id, is_e2ee, nonce) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, group_id, sender_id, ciphertext, iv, key_id, is_e2ee, nonce, created_at`,
		msg.GroupID, msg.SenderID, msg.Ciphertext, msg.IV, msg.KeyID, msg.IsE2EE, msg.Nonce).
		Scan(&stored.ID, &stored.GroupID, &stored.SenderID, &stored.Ciphertext, &stored.IV, &stored.KeyID, &stored.IsE2EE, &stored.Nonce, &stored.CreatedAt); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return stored, nil
}

// ListMessagesPage returns up to limit messages newest first. The cursor is
// the id of the last message of the previous page (0 for the first page).
// One extra row is fetched and trimmed so has_more is exact at page
// boundaries.
func (r *MessageRepo) ListMessagesPage(ctx context.Context, groupID int, limit int, cursor int) ([]models.Message, int, bool, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, group_id, sender_id, ciphertext, iv, key_id, is_e2ee, nonce, created_at FROM messages WHERE group_id=$1 AND ($2 = 0 OR id < $2) ORDER BY id DESC LIMIT $3`, groupID, cursor, limit+1)
	if err != nil {
		return nil, 0, false, err
	}

	msgs, nextCursor, hasMore := trimPage(msgs, limit)
	return msgs, nextCursor, hasMore, nil
}

// trimPage drops the extra row fetched past the page limit and derives the
// next cursor from the last row kept. has_more is true iff the extra row was
// present, so a page that ends exactly on the last message reports false.
func trimPage(msgs []models.Message, limit int) ([]models.Message, int, bool) {
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	nextCursor := 0
	if hasMore && len(msgs) > 0 {
		nextCursor = msgs[len(msgs)-1].ID
	}
	return msgs, nextCursor, hasMore
}

// MarkRead inserts a read marker for every listed message the user has not
// read yet. Runs as one statement scoped to the group, so re-marking is a
// no-op and a partial insert cannot be observed.
func (r *MessageRepo) MarkRead(ctx context.Context, groupID int, userID int, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) SELECT m.id, $1 FROM messages m WHERE m.group_id=$2 AND m.id = ANY($3) ON CONFLICT (message_id, user_id) DO NOTHING`, userID, groupID, pq.Array(messageIDs))
	return err
}
