package service

import (
	"context"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RedemptionService implements ports.RedemptionLedger. A commit writes the
// redemption record and bumps the coupon counter in one transaction; the
// derived transaction id makes any retry of the same logical checkout
// collapse onto the first committed row.
type RedemptionService struct {
	repo       ports.RedemptionRepository
	transactor ports.DBTransactor
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewRedemptionService creates a new RedemptionService.
func NewRedemptionService(
	repo ports.RedemptionRepository,
	transactor ports.DBTransactor,
	m *metrics.Metrics,
	log zerolog.Logger,
) *RedemptionService {
	return &RedemptionService{
		repo:       repo,
		transactor: transactor,
		metrics:    m,
		log:        log,
	}
}

// Commit applies a one-time discount. Requests with no promo code, no source
// reference, or a non-positive discount are reported as no-ops via Reason,
// not errors: the caller's checkout proceeds without a redemption.
func (s *RedemptionService) Commit(ctx context.Context, req ports.CommitRequest) (*ports.CommitResult, error) {
	if req.PromoCodeID == "" {
		return &ports.CommitResult{Reason: ports.ReasonMissingPromoCodeID}, nil
	}
	if req.SourceRef == "" {
		return &ports.CommitResult{Reason: ports.ReasonMissingSourceRef}, nil
	}
	if req.DiscountCents <= 0 {
		return &ports.CommitResult{Reason: ports.ReasonZeroDiscount}, nil
	}

	transactionID := domain.DeriveTransactionID(req.Scope, req.UserID, req.SourceRef)
	rec := &domain.RedemptionRecord{
		ID:                 uuid.New(),
		PromoCodeID:        req.PromoCodeID,
		UserID:             req.UserID,
		Scope:              req.Scope,
		TransactionID:      transactionID,
		AppliedAmountCents: req.AppliedAmountCents,
		DiscountCents:      req.DiscountCents,
		FinalAmountCents:   req.FinalAmountCents,
		Currency:           req.Currency,
		Metadata:           req.Metadata,
		CreatedAt:          time.Now().UTC(),
	}

	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning redemption transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := s.repo.Insert(ctx, tx, rec)
	if err != nil {
		return nil, fmt.Errorf("inserting redemption: %w", err)
	}
	if !created {
		// The unique violation poisoned the transaction; roll back before
		// reading the surviving record outside it.
		_ = tx.Rollback(ctx)

		existing, err := s.repo.GetByTransactionID(ctx, transactionID)
		if err != nil {
			return nil, fmt.Errorf("loading existing redemption: %w", err)
		}
		s.metrics.RedemptionsDuplicate.Inc()
		s.log.Info().
			Str("transaction_id", transactionID).
			Str("promo_code_id", req.PromoCodeID).
			Msg("duplicate redemption commit collapsed")
		return &ports.CommitResult{Duplicate: true, Record: existing}, nil
	}

	affected, err := s.repo.IncrementPromoRedemptions(ctx, tx, req.PromoCodeID)
	if err != nil {
		return nil, fmt.Errorf("incrementing promo counter: %w", err)
	}
	if affected == 0 {
		s.log.Warn().
			Str("promo_code_id", req.PromoCodeID).
			Msg("promo code row missing, counter not incremented")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing redemption: %w", err)
	}

	s.metrics.RedemptionsCommitted.Inc()
	s.log.Info().
		Str("transaction_id", transactionID).
		Str("promo_code_id", req.PromoCodeID).
		Int64("discount_cents", req.DiscountCents).
		Msg("redemption committed")
	return &ports.CommitResult{Created: true, Record: rec}, nil
}
