package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrNoActiveKey = errors.New("no active key for group")
	ErrKeyNotFound = errors.New("key not found")
)

// KeyRepository manages the lifecycle of group symmetric keys and the users'
// registered public keys. Symmetric and public keys live in separate tables.
type KeyRepository interface {
	ActiveKey(ctx context.Context, groupID int) (models.GroupKey, error)
	RotateKey(ctx context.Context, groupID int, material []byte) (models.GroupKey, error)
	RevokeKey(ctx context.Context, groupID int, keyID string) error
	RegisterPublicKey(ctx context.Context, userID int, publicKey []byte, algorithm string) error
	PublicKey(ctx context.Context, userID int) (models.UserPublicKey, error)
}

// KeyRepo is a sqlx implementation of KeyRepository.
type KeyRepo struct {
	db *sqlx.DB
}

// NewKeyRepo constructs a KeyRepo.
func NewKeyRepo(db *sqlx.DB) *KeyRepo {
	return &KeyRepo{db: db}
}

// ActiveKey returns the most recently created non-revoked symmetric key of the
// group.
func (r *KeyRepo) ActiveKey(ctx context.Context, groupID int) (models.GroupKey, error) {
	var key models.GroupKey
	err := r.db.GetContext(ctx, &key, `SELECT id, group_id, material, algorithm, created_at, expires_at, revoked FROM group_keys WHERE group_id=$1 AND revoked=FALSE ORDER BY created_at DESC LIMIT 1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupKey{}, ErrNoActiveKey
	}
	return key, err
}

// RotateKey revokes the group's current keys and inserts a fresh one in a
// single transaction. Revoked rows are kept; stored messages keep pointing at
// the key that sealed them.
func (r *KeyRepo) RotateKey(ctx context.Context, groupID int, material []byte) (models.GroupKey, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GroupKey{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE group_keys SET revoked=TRUE WHERE group_id=$1 AND revoked=FALSE`, groupID); err != nil {
		return models.GroupKey{}, err
	}

	var key models.GroupKey
	if err = tx.QueryRowxContext(ctx, `INSERT INTO group_keys (id, group_id, material, algorithm) VALUES ($1, $2, $3, $4) RETURNING id, group_id, material, algorithm, created_at, revoked`, uuid.NewString(), groupID, material, models.AlgorithmAESGCM).
		Scan(&key.ID, &key.GroupID, &key.Material, &key.Algorithm, &key.CreatedAt, &key.Revoked); err != nil {
		return models.GroupKey{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.GroupKey{}, err
	}
	return key, nil
}

// RevokeKey flags a key revoked. The row is never deleted, so stored
// messages keep their key attribution. Scoped to the group so a key id
// leaked from another group cannot be revoked through it.
func (r *KeyRepo) RevokeKey(ctx context.Context, groupID int, keyID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE group_keys SET revoked=TRUE WHERE id=$1 AND group_id=$2`, keyID, groupID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// RegisterPublicKey stores or replaces the user's public key.
func (r *KeyRepo) RegisterPublicKey(ctx context.Context, userID int, publicKey []byte, algorithm string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_public_keys (user_id, public_key, algorithm) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO UPDATE SET public_key=EXCLUDED.public_key, algorithm=EXCLUDED.algorithm, created_at=NOW()`, userID, publicKey, algorithm)
	return err
}

// PublicKey fetches the user's registered public key.
func (r *KeyRepo) PublicKey(ctx context.Context, userID int) (models.UserPublicKey, error) {
	var key models.UserPublicKey
	err := r.db.GetContext(ctx, &key, `SELECT user_id, public_key, algorithm, created_at FROM user_public_keys WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserPublicKey{}, ErrKeyNotFound
	}
	return key, err
}
