package service

import (
	"context"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/internal/metrics"
	"fotofeed-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventLedgerService implements ports.EventLedger. It records every external
// delivery exactly once and tells callers whether they own the processing of
// this delivery or are looking at a replay.
type EventLedgerService struct {
	repo      ports.EventLedgerRepository
	cache     ports.ReplayCache
	metrics   *metrics.Metrics
	log       zerolog.Logger
	replayTTL time.Duration
	tracer    trace.Tracer
}

// NewEventLedgerService creates a new EventLedgerService.
func NewEventLedgerService(
	repo ports.EventLedgerRepository,
	cache ports.ReplayCache,
	m *metrics.Metrics,
	log zerolog.Logger,
	replayTTL time.Duration,
) *EventLedgerService {
	return &EventLedgerService{
		repo:      repo,
		cache:     cache,
		metrics:   m,
		log:       log,
		replayTTL: replayTTL,
		tracer:    otel.Tracer("fotofeed-core/event-ledger"),
	}
}

// Claim decides, atomically against concurrent deliveries of the same event,
// whether the caller should process it. Exactly one concurrent claimer for a
// given (provider, event_id) gets ShouldProcess=true; the rest see a replay.
func (s *EventLedgerService) Claim(ctx context.Context, req ports.ClaimRequest) (*ports.ClaimResult, error) {
	ctx, span := s.tracer.Start(ctx, "EventLedger.Claim",
		trace.WithAttributes(
			attribute.String("event.provider", req.Provider),
			attribute.String("event.id", req.EventID),
		))
	defer span.End()

	// Redis fast path for already-processed events. Cache errors are
	// tolerated; the ledger below is the source of truth.
	cached, err := s.cache.GetStatus(ctx, req.Provider, req.EventID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("provider", req.Provider).
			Str("event_id", req.EventID).
			Msg("replay cache lookup failed, falling through to ledger")
	} else if cached == domain.EventStatusProcessed {
		s.metrics.EventsReplayed.WithLabelValues(req.Provider).Inc()
		return &ports.ClaimResult{ShouldProcess: false, Status: domain.EventStatusProcessed}, nil
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:                uuid.New(),
		Provider:          req.Provider,
		EventID:           req.EventID,
		EventType:         req.EventType,
		Status:            domain.EventStatusProcessing,
		SignatureVerified: req.SignatureVerified,
		Payload:           req.Payload,
		ClaimedAt:         &now,
		CreatedAt:         now,
	}

	inserted, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("claiming event: %w", err)
	}
	if inserted {
		s.metrics.EventsClaimed.WithLabelValues(req.Provider).Inc()
		return &ports.ClaimResult{
			ShouldProcess: true,
			Status:        domain.EventStatusProcessing,
			EntryID:       entry.ID,
		}, nil
	}

	// Identity already in the ledger: a replay, an in-flight claim, or a
	// previously failed attempt eligible for reclaim.
	existing, err := s.repo.GetByIdentity(ctx, req.Provider, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("loading existing entry: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("entry for %s/%s vanished after conflicting insert", req.Provider, req.EventID)
	}

	if !existing.Claimable() {
		s.metrics.EventsReplayed.WithLabelValues(req.Provider).Inc()
		return &ports.ClaimResult{
			ShouldProcess: false,
			Status:        existing.Status,
			EntryID:       existing.ID,
		}, nil
	}

	won, err := s.repo.Reclaim(ctx, existing.ID, now)
	if err != nil {
		return nil, fmt.Errorf("reclaiming entry: %w", err)
	}
	if !won {
		// A concurrent claimer took the entry between our read and the
		// conditional update.
		s.metrics.EventsReplayed.WithLabelValues(req.Provider).Inc()
		return &ports.ClaimResult{
			ShouldProcess: false,
			Status:        domain.EventStatusProcessing,
			EntryID:       existing.ID,
		}, nil
	}

	s.metrics.EventsClaimed.WithLabelValues(req.Provider).Inc()
	return &ports.ClaimResult{
		ShouldProcess: true,
		Status:        domain.EventStatusProcessing,
		EntryID:       existing.ID,
	}, nil
}

// MarkProcessed records successful processing and caches the terminal status
// so future duplicates short-circuit in Redis.
func (s *EventLedgerService) MarkProcessed(ctx context.Context, entryID uuid.UUID) error {
	if err := s.repo.MarkProcessed(ctx, entryID); err != nil {
		return err
	}

	entry, err := s.repo.GetByID(ctx, entryID)
	if err != nil || entry == nil {
		// The ledger row is already marked; the cache write is best-effort.
		s.log.Warn().Err(err).Str("entry_id", entryID.String()).
			Msg("could not load entry for replay cache update")
		return nil
	}
	if err := s.cache.SetStatus(ctx, entry.Provider, entry.EventID, domain.EventStatusProcessed, s.replayTTL); err != nil {
		s.log.Warn().Err(err).
			Str("provider", entry.Provider).
			Str("event_id", entry.EventID).
			Msg("replay cache update failed")
	}
	return nil
}

// MarkFailed records a processing failure. The entry stays in the ledger and
// can be reclaimed by a later delivery or an operator replay.
func (s *EventLedgerService) MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) error {
	if err := s.repo.MarkFailed(ctx, entryID, reason); err != nil {
		return err
	}

	if entry, err := s.repo.GetByID(ctx, entryID); err == nil && entry != nil {
		s.metrics.EventsFailed.WithLabelValues(entry.Provider).Inc()
	}
	return nil
}

// Replay reclaims a failed entry for manual reprocessing from its stored
// payload. Only claimable (pending or failed) entries can be replayed.
func (s *EventLedgerService) Replay(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	entry, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if entry == nil {
		return nil, apperror.ErrEventNotFound()
	}
	if !entry.Claimable() {
		return nil, apperror.ErrEventNotReplayable()
	}

	now := time.Now().UTC()
	won, err := s.repo.Reclaim(ctx, entryID, now)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !won {
		return nil, apperror.ErrEventNotReplayable()
	}

	s.log.Info().
		Str("entry_id", entryID.String()).
		Str("provider", entry.Provider).
		Str("event_id", entry.EventID).
		Msg("ledger entry reclaimed for replay")

	entry.Status = domain.EventStatusProcessing
	entry.ClaimedAt = &now
	entry.FailureReason = nil
	entry.ProcessedAt = nil
	return entry, nil
}

// ListFailed returns failed entries for operational inspection.
func (s *EventLedgerService) ListFailed(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	return s.repo.ListFailed(ctx, limit)
}
