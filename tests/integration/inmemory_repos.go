package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// In-memory repository implementations. Each guards its state with a mutex so
// the concurrency tests exercise the same conditional-claim semantics the SQL
// repositories rely on: ownership changes hands only inside the lock, and only
// when the row is in a claimable state.

// --- Event ledger ---

type inMemoryEventRepo struct {
	mu         sync.Mutex
	byIdentity map[string]*domain.LedgerEntry
	byID       map[uuid.UUID]*domain.LedgerEntry
}

func newInMemoryEventRepo() *inMemoryEventRepo {
	return &inMemoryEventRepo{
		byIdentity: make(map[string]*domain.LedgerEntry),
		byID:       make(map[uuid.UUID]*domain.LedgerEntry),
	}
}

func identityKey(provider, eventID string) string {
	return provider + "|" + eventID
}

func (r *inMemoryEventRepo) Insert(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identityKey(entry.Provider, entry.EventID)
	if _, exists := r.byIdentity[key]; exists {
		return false, nil
	}
	stored := *entry
	r.byIdentity[key] = &stored
	r.byID[entry.ID] = &stored
	return true, nil
}

func (r *inMemoryEventRepo) GetByIdentity(ctx context.Context, provider, eventID string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byIdentity[identityKey(provider, eventID)]
	if !ok {
		return nil, nil
	}
	out := *entry
	return &out, nil
}

func (r *inMemoryEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	out := *entry
	return &out, nil
}

func (r *inMemoryEventRepo) Reclaim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.byID[id]
	if !ok || !entry.Claimable() {
		return false, nil
	}
	entry.Status = domain.EventStatusProcessing
	entry.ClaimedAt = &claimedAt
	entry.FailureReason = nil
	return true, nil
}

func (r *inMemoryEventRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byID[id]; ok {
		now := time.Now().UTC()
		entry.Status = domain.EventStatusProcessed
		entry.ProcessedAt = &now
	}
	return nil
}

func (r *inMemoryEventRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byID[id]; ok {
		entry.Status = domain.EventStatusFailed
		entry.FailureReason = &reason
	}
	return nil
}

func (r *inMemoryEventRepo) ListFailed(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, entry := range r.byID {
		if entry.Status == domain.EventStatusFailed && len(out) < limit {
			out = append(out, *entry)
		}
	}
	return out, nil
}

// --- Work queue ---

type inMemoryJobRepo struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*domain.Job
	order []uuid.UUID
}

func newInMemoryJobRepo() *inMemoryJobRepo {
	return &inMemoryJobRepo{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (r *inMemoryJobRepo) Insert(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *job
	r.jobs[job.ID] = &stored
	r.order = append(r.order, job.ID)
	return nil
}

func (r *inMemoryJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *job
	return &out, nil
}

func (r *inMemoryJobRepo) claimable(job *domain.Job) bool {
	switch job.Status {
	case domain.JobStatusPending:
		return true
	case domain.JobStatusFailed:
		if job.AttemptCount >= job.MaxAttempts {
			return false
		}
		return job.NextAttemptAt == nil || !job.NextAttemptAt.After(time.Now())
	}
	return false
}

func (r *inMemoryJobRepo) Candidates(ctx context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, tier := range []domain.JobPriority{domain.JobPriorityHigh, domain.JobPriorityNormal} {
		for _, id := range r.order {
			job := r.jobs[id]
			if job.Priority == tier && r.claimable(job) && len(out) < limit {
				out = append(out, *job)
			}
		}
	}
	return out, nil
}

func (r *inMemoryJobRepo) CandidatesByPriority(ctx context.Context, priority domain.JobPriority, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Priority == priority && r.claimable(job) && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *inMemoryJobRepo) Claim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || !r.claimable(job) {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.ClaimedAt = &claimedAt
	return true, nil
}

func (r *inMemoryJobRepo) Complete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		now := time.Now().UTC()
		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &now
	}
	return nil
}

func (r *inMemoryJobRepo) Fail(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return 0, errors.New("job not found")
	}
	job.Status = domain.JobStatusFailed
	job.AttemptCount++
	job.LastError = &reason
	job.ClaimedAt = nil
	job.NextAttemptAt = &retryAt
	return job.AttemptCount, nil
}

func (r *inMemoryJobRepo) ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusProcessing && job.ClaimedAt != nil && job.ClaimedAt.Before(claimedBefore) {
			reason := "claim lease expired"
			job.Status = domain.JobStatusFailed
			job.AttemptCount++
			job.LastError = &reason
			job.ClaimedAt = nil
			job.NextAttemptAt = nil
			n++
		}
	}
	return n, nil
}

func (r *inMemoryJobRepo) CountPending(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusPending {
			n++
		}
	}
	return n, nil
}

func (r *inMemoryJobRepo) ListDeadLetter(ctx context.Context, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Terminal() && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

// backdateClaim rewrites a processing job's claim time so lease-expiry tests
// do not have to sleep.
func (r *inMemoryJobRepo) backdateClaim(id uuid.UUID, claimedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.ClaimedAt = &claimedAt
	}
}

// expireBackoffs makes every failed job due immediately so retry tests do
// not have to sleep.
func (r *inMemoryJobRepo) expireBackoffs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		job.NextAttemptAt = nil
	}
}

// --- Redemption ledger ---

type inMemoryRedemptionRepo struct {
	mu            sync.Mutex
	byTransaction map[string]*domain.RedemptionRecord
	promoCounts   map[string]int64
}

func newInMemoryRedemptionRepo() *inMemoryRedemptionRepo {
	return &inMemoryRedemptionRepo{
		byTransaction: make(map[string]*domain.RedemptionRecord),
		promoCounts:   make(map[string]int64),
	}
}

func (r *inMemoryRedemptionRepo) seedPromo(promoCodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promoCounts[promoCodeID] = 0
}

func (r *inMemoryRedemptionRepo) promoCount(promoCodeID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promoCounts[promoCodeID]
}

func (r *inMemoryRedemptionRepo) Insert(ctx context.Context, tx pgx.Tx, record *domain.RedemptionRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTransaction[record.TransactionID]; exists {
		return false, nil
	}
	stored := *record
	r.byTransaction[record.TransactionID] = &stored
	return true, nil
}

func (r *inMemoryRedemptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.RedemptionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byTransaction[transactionID]
	if !ok {
		return nil, nil
	}
	out := *record
	return &out, nil
}

func (r *inMemoryRedemptionRepo) IncrementPromoRedemptions(ctx context.Context, tx pgx.Tx, promoCodeID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.promoCounts[promoCodeID]; !ok {
		return 0, nil
	}
	r.promoCounts[promoCodeID]++
	return 1, nil
}

// --- Replay cache ---

type inMemoryReplayCache struct {
	mu       sync.Mutex
	statuses map[string]domain.EventStatus
}

func newInMemoryReplayCache() *inMemoryReplayCache {
	return &inMemoryReplayCache{statuses: make(map[string]domain.EventStatus)}
}

func (c *inMemoryReplayCache) GetStatus(ctx context.Context, provider, eventID string) (domain.EventStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[identityKey(provider, eventID)], nil
}

func (c *inMemoryReplayCache) SetStatus(ctx context.Context, provider, eventID string, status domain.EventStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[identityKey(provider, eventID)] = status
	return nil
}

// --- Transactor ---

// inMemoryTx satisfies pgx.Tx for services that pass a transaction handle
// through to the repositories above, which ignore it.
type inMemoryTx struct {
	pgx.Tx
}

func (t *inMemoryTx) Commit(ctx context.Context) error   { return nil }
func (t *inMemoryTx) Rollback(ctx context.Context) error { return nil }

type inMemoryTransactor struct{}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &inMemoryTx{}, nil
}

// --- Entitlements ---

type inMemoryEntitlementRepo struct {
	mu         sync.Mutex
	byOrderRef map[string]*domain.Entitlement
}

func newInMemoryEntitlementRepo() *inMemoryEntitlementRepo {
	return &inMemoryEntitlementRepo{byOrderRef: make(map[string]*domain.Entitlement)}
}

func (r *inMemoryEntitlementRepo) Grant(ctx context.Context, e *domain.Entitlement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byOrderRef[e.OrderRef]; ok && existing.Status == domain.EntitlementStatusActive {
		return false, nil
	}
	stored := *e
	r.byOrderRef[e.OrderRef] = &stored
	return true, nil
}

func (r *inMemoryEntitlementRepo) Revoke(ctx context.Context, orderRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byOrderRef[orderRef]; ok {
		e.Status = domain.EntitlementStatusRevoked
	}
	return nil
}

func (r *inMemoryEntitlementRepo) GetByOrderRef(ctx context.Context, orderRef string) (*domain.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byOrderRef[orderRef]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

// --- Photo state ---

type inMemoryPhotoStateRepo struct {
	mu     sync.Mutex
	states map[string]*domain.PhotoState
}

func newInMemoryPhotoStateRepo() *inMemoryPhotoStateRepo {
	return &inMemoryPhotoStateRepo{states: make(map[string]*domain.PhotoState)}
}

func (r *inMemoryPhotoStateRepo) Get(ctx context.Context, photoID string) (*domain.PhotoState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[photoID]
	if !ok {
		return nil, nil
	}
	out := *state
	return &out, nil
}

func (r *inMemoryPhotoStateRepo) ensure(photoID string) *domain.PhotoState {
	state, ok := r.states[photoID]
	if !ok {
		state = &domain.PhotoState{PhotoID: photoID}
		r.states[photoID] = state
	}
	return state
}

func (r *inMemoryPhotoStateRepo) MarkFaceIndexed(ctx context.Context, photoID string, faces int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.ensure(photoID)
	state.FaceIndexed = true
	state.IndexedFaces = faces
	return nil
}

func (r *inMemoryPhotoStateRepo) MarkPreviewReady(ctx context.Context, photoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(photoID).PreviewReady = true
	return nil
}

// --- Stub collaborator engines ---

var errFaceEngineDown = errors.New("face engine down")

type stubFaceEngine struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubFaceEngine) IndexFaces(ctx context.Context, photoRef string) ([]ports.FaceDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, errFaceEngineDown
	}
	return []ports.FaceDetection{
		{Box: ports.BoundingBox{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}, Confidence: 0.95},
	}, nil
}

func (s *stubFaceEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// idleHandler registers a job type without doing any work, for tests that
// exercise queue mechanics rather than dispatch.
type idleHandler struct {
	jobType domain.JobType
}

func (h idleHandler) Type() domain.JobType { return h.jobType }

func (h idleHandler) Handle(ctx context.Context, job *domain.Job) error { return nil }

// flakyHandler fails the first failFirst calls and then succeeds, standing in
// for a collaborator that comes back between retries.
type flakyHandler struct {
	jobType   domain.JobType
	failFirst int

	mu    sync.Mutex
	calls int
}

func (h *flakyHandler) Type() domain.JobType { return h.jobType }

func (h *flakyHandler) Handle(ctx context.Context, job *domain.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failFirst {
		return errFaceEngineDown
	}
	return nil
}

func (h *flakyHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type stubPreviewEngine struct{}

func (s *stubPreviewEngine) Generate(ctx context.Context, sourceRef string) ([]ports.AssetRef, error) {
	return []ports.AssetRef{
		{Kind: "thumb", StorageKey: "previews/thumb.jpg"},
		{Kind: "watermarked", StorageKey: "previews/wm.jpg"},
	}, nil
}
