package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor hands out pgx transactions from the shared pool. The redemption
// commit runs through one so the record insert and the promo counter bump
// land together or not at all.
type Transactor struct {
	pool Pool
}

// NewTransactor wraps the pool as a ports.DBTransactor.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens a transaction on a pooled connection. The caller owns the
// commit/rollback.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}
