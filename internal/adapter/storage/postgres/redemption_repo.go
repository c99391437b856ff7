package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fotofeed-core/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// RedemptionRepo implements ports.RedemptionRepository.
type RedemptionRepo struct {
	pool Pool
}

// NewRedemptionRepo creates a new RedemptionRepo.
func NewRedemptionRepo(pool Pool) *RedemptionRepo {
	return &RedemptionRepo{pool: pool}
}

// Insert stores a redemption record inside the commit transaction. A unique
// violation on transaction_id means the redemption was already committed by
// an earlier attempt; that is reported as created=false, not as an error.
func (r *RedemptionRepo) Insert(ctx context.Context, tx pgx.Tx, rec *domain.RedemptionRecord) (bool, error) {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal redemption metadata: %w", err)
	}

	query := `INSERT INTO redemption_records (id, promo_code_id, user_id, scope, transaction_id,
		applied_amount_cents, discount_cents, final_amount_cents, currency, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, query,
		rec.ID, rec.PromoCodeID, rec.UserID, rec.Scope, rec.TransactionID,
		rec.AppliedAmountCents, rec.DiscountCents, rec.FinalAmountCents, rec.Currency,
		metadataJSON, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("insert redemption record: %w", err)
	}
	return true, nil
}

// GetByTransactionID fetches a redemption by its derived idempotency key.
func (r *RedemptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.RedemptionRecord, error) {
	query := `SELECT id, promo_code_id, user_id, scope, transaction_id,
		applied_amount_cents, discount_cents, final_amount_cents, currency, metadata, created_at
		FROM redemption_records WHERE transaction_id = $1`

	rec := &domain.RedemptionRecord{}
	var metadataJSON []byte
	err := r.pool.QueryRow(ctx, query, transactionID).Scan(
		&rec.ID, &rec.PromoCodeID, &rec.UserID, &rec.Scope, &rec.TransactionID,
		&rec.AppliedAmountCents, &rec.DiscountCents, &rec.FinalAmountCents, &rec.Currency,
		&metadataJSON, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get redemption record: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal redemption metadata: %w", err)
		}
	}
	return rec, nil
}

// IncrementPromoRedemptions bumps the coupon's aggregate counter in place.
// The increment is computed by the database, not read-modify-write, so
// concurrent commits cannot undercount.
func (r *RedemptionRepo) IncrementPromoRedemptions(ctx context.Context, tx pgx.Tx, promoCodeID string) (int64, error) {
	query := `UPDATE promo_codes SET times_redeemed = times_redeemed + 1 WHERE id = $1`

	tag, err := tx.Exec(ctx, query, promoCodeID)
	if err != nil {
		return 0, fmt.Errorf("increment promo redemptions: %w", err)
	}
	return tag.RowsAffected(), nil
}
