package ports

import (
	"context"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/google/uuid"
)

// --- Event Ledger ---

// ClaimRequest carries an externally-delivered notification into the ledger.
// Signature verification happens in the webhook receiver before Claim; the
// ledger trusts the SignatureVerified flag and does not re-verify.
type ClaimRequest struct {
	Provider          string
	EventID           string
	EventType         string
	SignatureVerified bool
	Payload           domain.Payload
}

// ClaimResult is the outcome of a claim attempt. When ShouldProcess is false
// the event is a replay and the caller must treat it as success.
type ClaimResult struct {
	ShouldProcess bool
	Status        domain.EventStatus
	EntryID       uuid.UUID
}

// EventLedger turns at-least-once external delivery into effectively-once
// application effects.
type EventLedger interface {
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	MarkProcessed(ctx context.Context, entryID uuid.UUID) error
	MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) error
	// Replay reclaims a failed entry for manual reprocessing from its stored
	// payload.
	Replay(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error)
	ListFailed(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
}

// EventApplier applies the business effect of a claimed event.
type EventApplier interface {
	Apply(ctx context.Context, eventType string, payload domain.Payload) error
}

// --- Work Queue ---

// EnqueueRequest holds validated input for scheduling a background job.
type EnqueueRequest struct {
	SubjectID string
	JobType   domain.JobType
	Priority  domain.JobPriority
	Payload   domain.Payload
}

// PollStats summarizes one scheduler-triggered poll run.
type PollStats struct {
	Claimed   int   `json:"claimed"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Reclaimed int64 `json:"reclaimed"`
}

// WorkQueue decouples slow post-ingestion work from the request path.
type WorkQueue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error)
	ClaimBatch(ctx context.Context, limit int) ([]domain.Job, error)
	Dispatch(ctx context.Context, job *domain.Job) error
	// RunPoll claims and dispatches batches until no candidates remain or the
	// time budget is exhausted.
	RunPoll(ctx context.Context, limit int, budget time.Duration) (*PollStats, error)
	ReclaimStale(ctx context.Context) (int64, error)
	ListDeadLetter(ctx context.Context, limit int) ([]domain.Job, error)
}

// JobHandler executes one job type. Handlers must be idempotent with respect
// to partial completion: a crash can occur after the external side effect but
// before the job is marked complete.
type JobHandler interface {
	Type() domain.JobType
	Handle(ctx context.Context, job *domain.Job) error
}

// --- Redemption Ledger ---

// Commit reasons for rejected or no-op requests.
const (
	ReasonMissingPromoCodeID = "missing_promo_code_id"
	ReasonMissingSourceRef   = "missing_source_ref"
	ReasonZeroDiscount       = "zero_discount"
)

// CommitRequest holds already-validated discount parameters from the
// pricing/eligibility collaborator.
type CommitRequest struct {
	PromoCodeID        string
	UserID             string
	Scope              string
	AppliedAmountCents int64
	DiscountCents      int64
	FinalAmountCents   int64
	Currency           string
	SourceRef          string
	Metadata           domain.Payload
}

// CommitResult reports the outcome of a commit attempt. Duplicate means the
// discount was already applied; callers must treat it as success.
type CommitResult struct {
	Created   bool
	Duplicate bool
	Reason    string
	Record    *domain.RedemptionRecord
}

// RedemptionLedger applies a one-time financial adjustment exactly once per
// logical checkout.
type RedemptionLedger interface {
	Commit(ctx context.Context, req CommitRequest) (*CommitResult, error)
}

// --- External collaborators ---

// BoundingBox locates a detected face within a photo.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceDetection is one detected face with its match confidence.
type FaceDetection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// FaceRecognitionService is the external face-indexing engine.
type FaceRecognitionService interface {
	IndexFaces(ctx context.Context, photoRef string) ([]FaceDetection, error)
}

// AssetRef points at a derived asset in object storage.
type AssetRef struct {
	Kind       string `json:"kind"`
	StorageKey string `json:"storage_key"`
}

// PreviewGenerationService is the external preview/watermark engine.
type PreviewGenerationService interface {
	Generate(ctx context.Context, sourceRef string) ([]AssetRef, error)
}

// --- Security services ---

// SignatureService handles HMAC-SHA256 signing and verification of webhook
// bodies.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// HashService handles operator credential hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations for the ops surface.
type TokenService interface {
	Generate(operator string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Operator string
}

// OpsAuthService authenticates operators against configured credentials.
type OpsAuthService interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error)
}
