package service

import (
	"context"
	"fmt"

	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"

	"github.com/rs/zerolog"
)

// FaceIndexHandler runs FACE_INDEX jobs against the external recognition
// engine. The photo-state flag makes a retried or re-dispatched job a no-op
// once the index exists.
type FaceIndexHandler struct {
	photos ports.PhotoStateRepository
	faces  ports.FaceRecognitionService
	log    zerolog.Logger
}

// NewFaceIndexHandler creates a new FaceIndexHandler.
func NewFaceIndexHandler(photos ports.PhotoStateRepository, faces ports.FaceRecognitionService, log zerolog.Logger) *FaceIndexHandler {
	return &FaceIndexHandler{photos: photos, faces: faces, log: log}
}

// Type returns the job type this handler serves.
func (h *FaceIndexHandler) Type() domain.JobType {
	return domain.JobTypeFaceIndex
}

// Handle indexes the faces in one photo.
func (h *FaceIndexHandler) Handle(ctx context.Context, job *domain.Job) error {
	state, err := h.photos.Get(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("loading photo state: %w", err)
	}
	if state != nil && state.FaceIndexed {
		h.log.Debug().Str("photo_id", job.SubjectID).Msg("photo already face-indexed, skipping")
		return nil
	}

	photoRef := job.Payload.String("photo_ref")
	if photoRef == "" {
		return fmt.Errorf("job payload missing photo_ref")
	}

	detections, err := h.faces.IndexFaces(ctx, photoRef)
	if err != nil {
		return fmt.Errorf("indexing faces: %w", err)
	}

	if err := h.photos.MarkFaceIndexed(ctx, job.SubjectID, len(detections)); err != nil {
		return fmt.Errorf("marking photo indexed: %w", err)
	}

	h.log.Info().
		Str("photo_id", job.SubjectID).
		Int("faces", len(detections)).
		Msg("photo face-indexed")
	return nil
}
