package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskpulse/internal/model"
)

// BindingRepository is the Postgres-backed identity registry.
type BindingRepository struct {
	db DBTX
}

func NewBindingRepository(db *pgxpool.Pool) *BindingRepository {
	return &BindingRepository{db: db}
}

// Bind upserts the chat. A placeholder bind only inserts; a genuine owner
// replaces whatever was there.
func (r *BindingRepository) Bind(ctx context.Context, chatID int64, ownerID string) error {
	var query string
	if ownerID == model.Unlinked {
		query = `
			INSERT INTO channel_bindings (chat_id, owner_id, linked_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (chat_id) DO NOTHING
		`
	} else {
		query = `
			INSERT INTO channel_bindings (chat_id, owner_id, linked_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (chat_id) DO UPDATE
			SET owner_id = EXCLUDED.owner_id, linked_at = EXCLUDED.linked_at
			WHERE channel_bindings.owner_id IS DISTINCT FROM EXCLUDED.owner_id
		`
	}
	if _, err := r.db.Exec(ctx, query, chatID, nullable(ownerID)); err != nil {
		return fmt.Errorf("failed to bind chat %d: %w", chatID, err)
	}
	return nil
}

func (r *BindingRepository) Unbind(ctx context.Context, chatID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM channel_bindings WHERE chat_id = $1`, chatID)
	return err
}

func (r *BindingRepository) Resolve(ctx context.Context, ownerID string) ([]int64, error) {
	if ownerID == model.Unlinked {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT chat_id FROM channel_bindings WHERE owner_id = $1 ORDER BY chat_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}

func (r *BindingRepository) IsBound(ctx context.Context, chatID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM channel_bindings WHERE chat_id = $1)`, chatID).Scan(&exists)
	return exists, err
}

func (r *BindingRepository) Lookup(ctx context.Context, chatID int64) (model.Binding, bool, error) {
	var b model.Binding
	var owner *string
	err := r.db.QueryRow(ctx,
		`SELECT chat_id, owner_id, linked_at FROM channel_bindings WHERE chat_id = $1`, chatID,
	).Scan(&b.ChatID, &owner, &b.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Binding{}, false, nil
	}
	if err != nil {
		return model.Binding{}, false, err
	}
	b.OwnerID = deref(owner)
	return b, true, nil
}

// ListByOwner returns the bindings of an owner, for the channels API.
func (r *BindingRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Binding, error) {
	rows, err := r.db.Query(ctx,
		`SELECT chat_id, owner_id, linked_at FROM channel_bindings WHERE owner_id = $1 ORDER BY chat_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := []model.Binding{}
	for rows.Next() {
		var b model.Binding
		var owner *string
		if err := rows.Scan(&b.ChatID, &owner, &b.LinkedAt); err != nil {
			return nil, err
		}
		b.OwnerID = deref(owner)
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
