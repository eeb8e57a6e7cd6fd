// Package credentials is the boundary to the external credential store.
// Adapters consume it privately; the orchestration core never sees tokens.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/shared/postgresql"
)

// Credentials holds one owner's tokens for one platform.
type Credentials struct {
	OwnerID      string `db:"owner_id"`
	Platform     string `db:"platform"`
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	AccountID    string `db:"account_id"`
	PageID       string `db:"page_id"`
}

// Store fetches platform credentials. Fails with domain.ErrNotConnected
// when the owner has not connected the platform account.
type Store interface {
	Get(ctx context.Context, ownerID, platform string) (*Credentials, error)
}

// PostgresStore reads credentials from the platform_credentials table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a Store backed by the given PostgreSQL client
func NewPostgresStore(pg *postgresql.Client) *PostgresStore {
	return &PostgresStore{db: pg.GetDB()}
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, ownerID, platform string) (*Credentials, error) {
	query := `
		SELECT owner_id, platform, access_token, refresh_token, account_id, page_id
		FROM platform_credentials
		WHERE owner_id = $1 AND platform = $2
	`

	var creds Credentials
	err := s.db.GetContext(ctx, &creds, query, ownerID, platform)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotConnected
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return &creds, nil
}
