package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// PhotoStateRepo implements ports.PhotoStateRepository.
type PhotoStateRepo struct {
	pool Pool
}

// NewPhotoStateRepo creates a new PhotoStateRepo.
func NewPhotoStateRepo(pool Pool) *PhotoStateRepo {
	return &PhotoStateRepo{pool: pool}
}

// Get fetches the processing state for a photo, or nil when no artifact has
// been recorded yet.
func (r *PhotoStateRepo) Get(ctx context.Context, photoID string) (*domain.PhotoState, error) {
	query := `SELECT photo_id, face_indexed, indexed_faces, preview_ready, updated_at
		FROM photo_states WHERE photo_id = $1`

	s := &domain.PhotoState{}
	err := r.pool.QueryRow(ctx, query, photoID).Scan(
		&s.PhotoID, &s.FaceIndexed, &s.IndexedFaces, &s.PreviewReady, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo state: %w", err)
	}
	return s, nil
}

// MarkFaceIndexed upserts the indexed flag. Re-marking is harmless, so job
// handlers can safely repeat it after a partial run.
func (r *PhotoStateRepo) MarkFaceIndexed(ctx context.Context, photoID string, faces int) error {
	query := `INSERT INTO photo_states (photo_id, face_indexed, indexed_faces, preview_ready, updated_at)
		VALUES ($1, TRUE, $2, FALSE, $3)
		ON CONFLICT (photo_id) DO UPDATE
		SET face_indexed = TRUE, indexed_faces = EXCLUDED.indexed_faces, updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query, photoID, faces, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark face indexed: %w", err)
	}
	return nil
}

// MarkPreviewReady upserts the preview flag.
func (r *PhotoStateRepo) MarkPreviewReady(ctx context.Context, photoID string) error {
	query := `INSERT INTO photo_states (photo_id, face_indexed, indexed_faces, preview_ready, updated_at)
		VALUES ($1, FALSE, 0, TRUE, $2)
		ON CONFLICT (photo_id) DO UPDATE
		SET preview_ready = TRUE, updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query, photoID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark preview ready: %w", err)
	}
	return nil
}
