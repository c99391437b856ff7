package handler

import (
	"fotofeed-core/internal/adapter/http/dto"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/pkg/apperror"
	"fotofeed-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// RedemptionHandler commits promo discounts on behalf of the checkout
// pipeline.
type RedemptionHandler struct {
	ledger ports.RedemptionLedger
}

// NewRedemptionHandler creates a new RedemptionHandler.
func NewRedemptionHandler(ledger ports.RedemptionLedger) *RedemptionHandler {
	return &RedemptionHandler{ledger: ledger}
}

// Commit handles POST /api/v1/redemptions. Duplicates and zero-discount
// requests return 200 with the outcome; only missing idempotency fields are
// client errors.
func (h *RedemptionHandler) Commit(c *gin.Context) {
	var req dto.CommitRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.ledger.Commit(c.Request.Context(), ports.CommitRequest{
		PromoCodeID:        req.PromoCodeID,
		UserID:             req.UserID,
		Scope:              req.Scope,
		AppliedAmountCents: req.AppliedAmountCents,
		DiscountCents:      req.DiscountCents,
		FinalAmountCents:   req.FinalAmountCents,
		Currency:           req.Currency,
		SourceRef:          req.SourceRef,
		Metadata:           req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	switch result.Reason {
	case ports.ReasonMissingPromoCodeID, ports.ReasonMissingSourceRef:
		response.Error(c, apperror.ErrMissingRedemptionField(result.Reason))
		return
	}

	resp := dto.CommitRedemptionResponse{
		Created:   result.Created,
		Duplicate: result.Duplicate,
		Reason:    result.Reason,
		Record:    result.Record,
	}
	if result.Created {
		response.Created(c, resp)
		return
	}
	response.OK(c, resp)
}
