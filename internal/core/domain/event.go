package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus represents the processing state of a ledger entry.
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusProcessed  EventStatus = "PROCESSED"
	EventStatusFailed     EventStatus = "FAILED"
)

// LedgerEntry records one externally-delivered notification. Entries are
// unique per (provider, event_id) and are never deleted — the ledger is the
// audit trail for every webhook the platform has ever accepted.
type LedgerEntry struct {
	ID                uuid.UUID   `json:"id"`
	Provider          string      `json:"provider"`
	EventID           string      `json:"event_id"`
	EventType         string      `json:"event_type"`
	Status            EventStatus `json:"status"`
	SignatureVerified bool        `json:"signature_verified"`
	Payload           Payload     `json:"payload"`
	FailureReason     *string     `json:"failure_reason,omitempty"`
	ClaimedAt         *time.Time  `json:"claimed_at,omitempty"`
	ProcessedAt       *time.Time  `json:"processed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Claimable reports whether a concurrent handler may take ownership of the
// entry. Processing and processed entries belong to someone else already.
func (e *LedgerEntry) Claimable() bool {
	return e.Status == EventStatusPending || e.Status == EventStatusFailed
}
