package dto

import (
	"fotofeed-core/internal/core/domain"
)

// WebhookEnvelope is the common shape of provider webhook bodies. Providers
// wrap their event in {id, type, data}; anything beyond that is
// provider-specific and travels opaquely in Data.
type WebhookEnvelope struct {
	ID   string         `json:"id" binding:"required,max=128,safe_id"`
	Type string         `json:"type" binding:"required,max=100"`
	Data domain.Payload `json:"data"`
}

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// ProcessPhotoRequest schedules post-ingestion work for an uploaded photo.
type ProcessPhotoRequest struct {
	SourceRef string `json:"source_ref" binding:"required,max=512"`
	Priority  string `json:"priority" binding:"omitempty,oneof=HIGH NORMAL"`
}

// ProcessPhotoResponse lists the jobs scheduled for the photo.
type ProcessPhotoResponse struct {
	PhotoID string       `json:"photo_id"`
	Jobs    []domain.Job `json:"jobs"`
}

// CommitRedemptionRequest applies a promo discount to a checkout. The
// idempotency fields (promo_code_id, source_ref) and the discount amount are
// validated by the redemption ledger, which reports no-ops with a reason
// instead of a binding error.
type CommitRedemptionRequest struct {
	PromoCodeID        string         `json:"promo_code_id"`
	UserID             string         `json:"user_id" binding:"required,max=128"`
	Scope              string         `json:"scope" binding:"required,max=128,safe_id"`
	AppliedAmountCents int64          `json:"applied_amount_cents" binding:"required,gt=0"`
	DiscountCents      int64          `json:"discount_cents" binding:"gte=0"`
	FinalAmountCents   int64          `json:"final_amount_cents" binding:"gte=0"`
	Currency           string         `json:"currency" binding:"required,len=3"`
	SourceRef          string         `json:"source_ref"`
	Metadata           domain.Payload `json:"metadata,omitempty"`
}

// CommitRedemptionResponse reports the outcome of a commit attempt.
type CommitRedemptionResponse struct {
	Created   bool                     `json:"created"`
	Duplicate bool                     `json:"duplicate"`
	Reason    string                   `json:"reason,omitempty"`
	Record    *domain.RedemptionRecord `json:"record,omitempty"`
}

// ReplayEventResponse is returned when an operator replays a failed event.
type ReplayEventResponse struct {
	Entry   domain.LedgerEntry `json:"entry"`
	Applied bool               `json:"applied"`
}
