package handler

import (
	"strconv"

	"fotofeed-core/internal/adapter/http/dto"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/pkg/apperror"
	"fotofeed-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OpsHandler exposes the operator surface: login, dead-letter inspection, and
// manual event replay.
type OpsHandler struct {
	authSvc ports.OpsAuthService
	ledger  ports.EventLedger
	applier ports.EventApplier
	queue   ports.WorkQueue
	log     zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(
	authSvc ports.OpsAuthService,
	ledger ports.EventLedger,
	applier ports.EventApplier,
	queue ports.WorkQueue,
	log zerolog.Logger,
) *OpsHandler {
	return &OpsHandler{authSvc: authSvc, ledger: ledger, applier: applier, queue: queue, log: log}
}

// Login handles POST /api/v1/ops/login.
func (h *OpsHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}

// DeadLetterJobs handles GET /api/v1/ops/jobs/dead-letter.
func (h *OpsHandler) DeadLetterJobs(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "50"))
	jobs, err := h.queue.ListDeadLetter(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"jobs": jobs, "count": len(jobs)})
}

// FailedEvents handles GET /api/v1/ops/events/failed.
func (h *OpsHandler) FailedEvents(c *gin.Context) {
	limit := parseLimit(c.DefaultQuery("limit", "50"))
	entries, err := h.ledger.ListFailed(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"events": entries, "count": len(entries)})
}

// ReplayEvent handles POST /api/v1/ops/events/:id/replay. It reclaims the
// failed entry and re-runs the applier from the stored payload.
func (h *OpsHandler) ReplayEvent(c *gin.Context) {
	entryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid event id"))
		return
	}

	entry, err := h.ledger.Replay(c.Request.Context(), entryID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.applier.Apply(c.Request.Context(), entry.EventType, entry.Payload); err != nil {
		if markErr := h.ledger.MarkFailed(c.Request.Context(), entry.ID, err.Error()); markErr != nil {
			h.log.Error().Err(markErr).
				Str("entry_id", entry.ID.String()).
				Msg("failed to mark replayed entry failed")
		}
		response.Error(c, apperror.ErrEventApplyFailed(err))
		return
	}

	if err := h.ledger.MarkProcessed(c.Request.Context(), entry.ID); err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, dto.ReplayEventResponse{Entry: *entry, Applied: true})
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 500 {
		return 50
	}
	return limit
}
