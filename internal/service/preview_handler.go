package service

import (
	"context"
	"fmt"

	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"

	"github.com/rs/zerolog"
)

// PreviewHandler runs PREVIEW_GENERATE jobs against the external preview
// engine. Regenerating previews for an already-ready photo is skipped.
type PreviewHandler struct {
	photos   ports.PhotoStateRepository
	previews ports.PreviewGenerationService
	log      zerolog.Logger
}

// NewPreviewHandler creates a new PreviewHandler.
func NewPreviewHandler(photos ports.PhotoStateRepository, previews ports.PreviewGenerationService, log zerolog.Logger) *PreviewHandler {
	return &PreviewHandler{photos: photos, previews: previews, log: log}
}

// Type returns the job type this handler serves.
func (h *PreviewHandler) Type() domain.JobType {
	return domain.JobTypePreviewGenerate
}

// Handle generates watermarked previews for one photo.
func (h *PreviewHandler) Handle(ctx context.Context, job *domain.Job) error {
	state, err := h.photos.Get(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("loading photo state: %w", err)
	}
	if state != nil && state.PreviewReady {
		h.log.Debug().Str("photo_id", job.SubjectID).Msg("preview already generated, skipping")
		return nil
	}

	sourceRef := job.Payload.String("source_ref")
	if sourceRef == "" {
		return fmt.Errorf("job payload missing source_ref")
	}

	assets, err := h.previews.Generate(ctx, sourceRef)
	if err != nil {
		return fmt.Errorf("generating previews: %w", err)
	}

	if err := h.photos.MarkPreviewReady(ctx, job.SubjectID); err != nil {
		return fmt.Errorf("marking preview ready: %w", err)
	}

	h.log.Info().
		Str("photo_id", job.SubjectID).
		Int("assets", len(assets)).
		Msg("previews generated")
	return nil
}
