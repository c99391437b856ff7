package postgres

import (
	"context"
	"testing"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedemptionRepo_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)
	now := time.Now().UTC()
	rec := &domain.RedemptionRecord{
		ID:                 uuid.New(),
		PromoCodeID:        "promo-1",
		UserID:             "user-1",
		Scope:              "checkout",
		TransactionID:      domain.DeriveTransactionID("checkout", "user-1", "order-1"),
		AppliedAmountCents: 5000,
		DiscountCents:      500,
		FinalAmountCents:   4500,
		Currency:           "USD",
		CreatedAt:          now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO redemption_records").
		WithArgs(rec.ID, rec.PromoCodeID, rec.UserID, rec.Scope, rec.TransactionID,
			rec.AppliedAmountCents, rec.DiscountCents, rec.FinalAmountCents, rec.Currency,
			[]byte("null"), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	created, err := repo.Insert(context.Background(), tx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionRepo_Insert_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)
	rec := &domain.RedemptionRecord{
		ID:            uuid.New(),
		PromoCodeID:   "promo-1",
		UserID:        "user-1",
		Scope:         "checkout",
		TransactionID: domain.DeriveTransactionID("checkout", "user-1", "order-1"),
		CreatedAt:     time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO redemption_records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	mock.ExpectRollback()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	created, err := repo.Insert(context.Background(), tx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, tx.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionRepo_GetByTransactionID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	txnID := domain.DeriveTransactionID("checkout", "user-1", "order-1")

	mock.ExpectQuery("SELECT .+ FROM redemption_records WHERE transaction_id").
		WithArgs(txnID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "promo_code_id", "user_id", "scope", "transaction_id",
			"applied_amount_cents", "discount_cents", "final_amount_cents", "currency", "metadata", "created_at",
		}).AddRow(uuid.New(), "promo-1", "user-1", "checkout", txnID,
			int64(5000), int64(500), int64(4500), "USD", []byte(`{"channel":"web"}`), now))

	rec, err := repo.GetByTransactionID(context.Background(), txnID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(500), rec.DiscountCents)
	assert.Equal(t, "web", rec.Metadata["channel"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionRepo_GetByTransactionID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM redemption_records WHERE transaction_id").
		WithArgs("rdm_missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "promo_code_id", "user_id", "scope", "transaction_id",
			"applied_amount_cents", "discount_cents", "final_amount_cents", "currency", "metadata", "created_at",
		}))

	rec, err := repo.GetByTransactionID(context.Background(), "rdm_missing")
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionRepo_IncrementPromoRedemptions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE promo_codes").
		WithArgs("promo-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	affected, err := repo.IncrementPromoRedemptions(context.Background(), tx, "promo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
