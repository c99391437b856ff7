package ports

import (
	"context"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventLedgerRepository defines persistence for the event ledger. Entries are
// append-only; state moves only through the claim/mark operations below.
type EventLedgerRepository interface {
	// Insert attempts the atomic first-writer-wins insert. Returns false when
	// the (provider, eventID) identity already exists.
	Insert(ctx context.Context, entry *domain.LedgerEntry) (bool, error)
	GetByIdentity(ctx context.Context, provider, eventID string) (*domain.LedgerEntry, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	// Reclaim conditionally moves a pending or failed entry back to
	// processing. Returns false when a concurrent claimer won the row first.
	Reclaim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListFailed(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
}

// JobRepository defines persistence for the work queue.
type JobRepository interface {
	Insert(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	// Candidates selects claimable jobs (pending or retryable failed) ordered
	// by priority tier, then insertion order. Selection alone grants nothing;
	// callers must win Claim per row.
	Candidates(ctx context.Context, limit int) ([]domain.Job, error)
	CandidatesByPriority(ctx context.Context, priority domain.JobPriority, limit int) ([]domain.Job, error)
	// Claim is the atomic conditional update closing the race between
	// selection and ownership. Returns true only when exactly one row moved
	// to processing.
	Claim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail increments attempt_count, records the reason, and defers the next
	// claim until retryAt. Returns the post-update attempt count, which is
	// authoritative: a concurrent ReclaimStale may already have counted an
	// attempt the caller has not seen. The row stays claimable until
	// attempt_count reaches max_attempts.
	Fail(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) (int, error)
	// ReclaimStale fails processing rows claimed before the cutoff so a
	// crashed worker's jobs become claimable again. Returns rows reclaimed.
	ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	ListDeadLetter(ctx context.Context, limit int) ([]domain.Job, error)
}

// RedemptionRepository defines persistence for one-time redemptions.
// Methods accepting pgx.Tx run inside the commit transaction so the record
// insert and the counter increment land together.
type RedemptionRepository interface {
	// Insert returns false on a transaction_id unique violation — the
	// redemption was already committed.
	Insert(ctx context.Context, tx pgx.Tx, record *domain.RedemptionRecord) (bool, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.RedemptionRecord, error)
	// IncrementPromoRedemptions atomically bumps the coupon's aggregate
	// counter. Returns rows affected; zero means the promo row is missing.
	IncrementPromoRedemptions(ctx context.Context, tx pgx.Tx, promoCodeID string) (int64, error)
}

// EntitlementRepository persists granted access rights.
type EntitlementRepository interface {
	// Grant inserts the entitlement. Returns false when the order reference
	// is already entitled (the grant itself is idempotent).
	Grant(ctx context.Context, e *domain.Entitlement) (bool, error)
	Revoke(ctx context.Context, orderRef string) error
	GetByOrderRef(ctx context.Context, orderRef string) (*domain.Entitlement, error)
}

// PhotoStateRepository tracks which derived artifacts exist for a photo.
type PhotoStateRepository interface {
	Get(ctx context.Context, photoID string) (*domain.PhotoState, error)
	MarkFaceIndexed(ctx context.Context, photoID string, faces int) error
	MarkPreviewReady(ctx context.Context, photoID string) error
}

// ReplayCache is the Redis fast path in front of the DB claim. Best-effort:
// errors fall through to the database, which stays the source of truth.
type ReplayCache interface {
	// GetStatus returns the cached terminal status for an event identity, or
	// "" on a miss.
	GetStatus(ctx context.Context, provider, eventID string) (domain.EventStatus, error)
	SetStatus(ctx context.Context, provider, eventID string, status domain.EventStatus, ttl time.Duration) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
