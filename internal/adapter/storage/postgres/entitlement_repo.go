package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// EntitlementRepo implements ports.EntitlementRepository.
type EntitlementRepo struct {
	pool Pool
}

// NewEntitlementRepo creates a new EntitlementRepo.
func NewEntitlementRepo(pool Pool) *EntitlementRepo {
	return &EntitlementRepo{pool: pool}
}

// Grant inserts an entitlement keyed by order reference. Granting the same
// order twice is a no-op, which makes the webhook-driven effect safe to
// re-run after a crash between the grant and the ledger's processed mark.
func (r *EntitlementRepo) Grant(ctx context.Context, e *domain.Entitlement) (bool, error) {
	query := `INSERT INTO entitlements (id, user_id, order_ref, gallery_id, status, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_ref) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		e.ID, e.UserID, e.OrderRef, e.GalleryID, e.Status, e.GrantedAt,
	)
	if err != nil {
		return false, fmt.Errorf("grant entitlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Revoke marks the entitlement for an order as revoked. Revoking an unknown
// or already-revoked order is a no-op.
func (r *EntitlementRepo) Revoke(ctx context.Context, orderRef string) error {
	query := `UPDATE entitlements SET status = $1, revoked_at = $2 WHERE order_ref = $3 AND status = $4`

	_, err := r.pool.Exec(ctx, query,
		domain.EntitlementStatusRevoked, time.Now().UTC(), orderRef, domain.EntitlementStatusActive,
	)
	if err != nil {
		return fmt.Errorf("revoke entitlement: %w", err)
	}
	return nil
}

// GetByOrderRef fetches the entitlement for an order, or nil.
func (r *EntitlementRepo) GetByOrderRef(ctx context.Context, orderRef string) (*domain.Entitlement, error) {
	query := `SELECT id, user_id, order_ref, gallery_id, status, granted_at, revoked_at
		FROM entitlements WHERE order_ref = $1`

	e := &domain.Entitlement{}
	err := r.pool.QueryRow(ctx, query, orderRef).Scan(
		&e.ID, &e.UserID, &e.OrderRef, &e.GalleryID, &e.Status, &e.GrantedAt, &e.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return e, nil
}
