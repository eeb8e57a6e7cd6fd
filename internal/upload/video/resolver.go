// Package video is the boundary to the external video store. The
// orchestration core only needs to turn an opaque video reference into
// something an adapter can ship: a local file path or a public URL plus
// basic metadata.
package video

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/joetabora/CreatorCast/internal/upload/domain"
	"github.com/joetabora/CreatorCast/shared/postgresql"
)

// Video is the resolved form of a video reference.
type Video struct {
	ID              string  `db:"id"`
	OwnerID         string  `db:"owner_id"`
	FilePath        string  `db:"file_path"`
	PublicURL       string  `db:"public_url"`
	SizeBytes       int64   `db:"size_bytes"`
	DurationSeconds float64 `db:"duration_seconds"`
	AspectRatio     string  `db:"aspect_ratio"`
}

// Resolver resolves a video reference for an owner. Fails with
// domain.ErrVideoNotFound when the video is missing or owned by someone else.
type Resolver interface {
	Resolve(ctx context.Context, ownerID, videoRef string) (*Video, error)
}

// StoreResolver resolves videos from the videos table.
type StoreResolver struct {
	db *sqlx.DB
}

// NewStoreResolver creates a Resolver backed by the given PostgreSQL client
func NewStoreResolver(pg *postgresql.Client) *StoreResolver {
	return &StoreResolver{db: pg.GetDB()}
}

// Resolve implements Resolver
func (r *StoreResolver) Resolve(ctx context.Context, ownerID, videoRef string) (*Video, error) {
	query := `
		SELECT id, owner_id, file_path, public_url, size_bytes, duration_seconds, aspect_ratio
		FROM videos
		WHERE id = $1 AND owner_id = $2
	`

	var video Video
	err := r.db.GetContext(ctx, &video, query, videoRef, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to resolve video: %w", err)
	}

	return &video, nil
}
