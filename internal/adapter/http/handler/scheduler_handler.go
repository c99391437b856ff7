package handler

import (
	"fotofeed-core/config"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// SchedulerHandler exposes the poll trigger called by the platform scheduler.
type SchedulerHandler struct {
	queue ports.WorkQueue
	cfg   config.QueueConfig
}

// NewSchedulerHandler creates a new SchedulerHandler.
func NewSchedulerHandler(queue ports.WorkQueue, cfg config.QueueConfig) *SchedulerHandler {
	return &SchedulerHandler{queue: queue, cfg: cfg}
}

// Poll handles POST /api/v1/scheduler/poll.
func (h *SchedulerHandler) Poll(c *gin.Context) {
	stats, err := h.queue.RunPoll(c.Request.Context(), h.cfg.BatchSize, h.cfg.PollBudget)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}
