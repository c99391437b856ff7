package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// RedemptionRecord commits a one-time financial adjustment. Records are
// unique per derived TransactionID and are created only when the discount is
// positive.
type RedemptionRecord struct {
	ID                 uuid.UUID `json:"id"`
	PromoCodeID        string    `json:"promo_code_id"`
	UserID             string    `json:"user_id"`
	Scope              string    `json:"scope"`
	TransactionID      string    `json:"transaction_id"`
	AppliedAmountCents int64     `json:"applied_amount_cents"`
	DiscountCents      int64     `json:"discount_cents"`
	FinalAmountCents   int64     `json:"final_amount_cents"`
	Currency           string    `json:"currency"`
	Metadata           Payload   `json:"metadata,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// DeriveTransactionID builds the deterministic idempotency key for a
// redemption. Identical (scope, userID, sourceRef) triples always hash to the
// same reference, so client retries and duplicate webhook deliveries collapse
// onto one row.
func DeriveTransactionID(scope, userID, sourceRef string) string {
	sum := sha256.Sum256([]byte(scope + "|" + userID + "|" + sourceRef))
	return "rdm_" + hex.EncodeToString(sum[:16])
}
