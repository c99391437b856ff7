package handler

import (
	"fotofeed-core/internal/adapter/http/dto"
	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/pkg/apperror"
	"fotofeed-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// PhotoHandler schedules post-ingestion work for uploaded photos. It is
// called by the upload pipeline, not end users.
type PhotoHandler struct {
	queue ports.WorkQueue
}

// NewPhotoHandler creates a new PhotoHandler.
func NewPhotoHandler(queue ports.WorkQueue) *PhotoHandler {
	return &PhotoHandler{queue: queue}
}

// Process handles POST /api/v1/photos/:id/process. It enqueues a face-index
// job (high priority unless overridden) and a preview job (normal priority)
// for the photo. The request returns once both jobs are persisted; the work
// itself runs on the next scheduler poll.
func (h *PhotoHandler) Process(c *gin.Context) {
	photoID := c.Param("id")
	if photoID == "" {
		response.Error(c, apperror.Validation("photo id is required"))
		return
	}

	var req dto.ProcessPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	facePriority := domain.JobPriorityHigh
	if req.Priority != "" {
		facePriority = domain.JobPriority(req.Priority)
	}

	faceJob, err := h.queue.Enqueue(c.Request.Context(), ports.EnqueueRequest{
		SubjectID: photoID,
		JobType:   domain.JobTypeFaceIndex,
		Priority:  facePriority,
		Payload:   domain.Payload{"photo_ref": req.SourceRef},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	previewJob, err := h.queue.Enqueue(c.Request.Context(), ports.EnqueueRequest{
		SubjectID: photoID,
		JobType:   domain.JobTypePreviewGenerate,
		Priority:  domain.JobPriorityNormal,
		Payload:   domain.Payload{"source_ref": req.SourceRef},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ProcessPhotoResponse{
		PhotoID: photoID,
		Jobs:    []domain.Job{*faceJob, *previewJob},
	})
}
