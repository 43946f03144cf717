package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

// CredentialRepository stores one calendar OAuth token per owner.
type CredentialRepository struct {
	db DBTX
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get returns ok=false when the owner never connected a calendar.
func (r *CredentialRepository) Get(ctx context.Context, ownerID string) (*oauth2.Token, bool, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT token FROM calendar_credentials WHERE owner_id = $1`, ownerID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, false, fmt.Errorf("decode token for %s: %w", ownerID, err)
	}
	return &tok, true, nil
}

func (r *CredentialRepository) Save(ctx context.Context, ownerID string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO calendar_credentials (owner_id, token, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()
	`
	_, err = r.db.Exec(ctx, query, ownerID, raw)
	return err
}

func (r *CredentialRepository) Delete(ctx context.Context, ownerID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM calendar_credentials WHERE owner_id = $1`, ownerID)
	return err
}
