package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLedgerRepo_Insert_Wins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := &domain.LedgerEntry{
		ID:                uuid.New(),
		Provider:          "stripe",
		EventID:           "evt_123",
		EventType:         "purchase.completed",
		Status:            domain.EventStatusProcessing,
		SignatureVerified: true,
		Payload:           domain.Payload{"order_ref": "order-42"},
		ClaimedAt:         &now,
		CreatedAt:         now,
	}
	payloadJSON, err := json.Marshal(entry.Payload)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs(entry.ID, "stripe", "evt_123", "purchase.completed",
			domain.EventStatusProcessing, true, payloadJSON, &now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := repo.Insert(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLedgerRepo_Insert_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)
	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:        uuid.New(),
		Provider:  "stripe",
		EventID:   "evt_123",
		EventType: "purchase.completed",
		Status:    domain.EventStatusProcessing,
		ClaimedAt: &now,
		CreatedAt: now,
	}

	// ON CONFLICT DO NOTHING reports zero rows affected for a duplicate.
	mock.ExpectExec("INSERT INTO event_ledger").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := repo.Insert(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLedgerRepo_GetByIdentity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM event_ledger WHERE provider").
		WithArgs("stripe", "evt_123").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "provider", "event_id", "event_type", "status", "signature_verified",
			"payload", "failure_reason", "claimed_at", "processed_at", "created_at",
		}).AddRow(id, "stripe", "evt_123", "purchase.completed", domain.EventStatusProcessed, true,
			[]byte(`{"order_ref":"order-42"}`), nil, &now, &now, now))

	entry, err := repo.GetByIdentity(context.Background(), "stripe", "evt_123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, domain.EventStatusProcessed, entry.Status)
	assert.Equal(t, "order-42", entry.Payload.String("order_ref"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLedgerRepo_GetByIdentity_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM event_ledger WHERE provider").
		WithArgs("stripe", "evt_missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "provider", "event_id", "event_type", "status", "signature_verified",
			"payload", "failure_reason", "claimed_at", "processed_at", "created_at",
		}))

	entry, err := repo.GetByIdentity(context.Background(), "stripe", "evt_missing")
	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLedgerRepo_Reclaim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE event_ledger").
		WithArgs(domain.EventStatusProcessing, now, id, domain.EventStatusPending, domain.EventStatusFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	won, err := repo.Reclaim(context.Background(), id, now)
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLedgerRepo_Reclaim_Lost(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)
	id := uuid.New()
	now := time.Now().UTC()

	// A concurrent claimer moved the row out of FAILED first.
	mock.ExpectExec("UPDATE event_ledger").
		WithArgs(domain.EventStatusProcessing, now, id, domain.EventStatusPending, domain.EventStatusFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := repo.Reclaim(context.Background(), id, now)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventLedgerRepo_MarkFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewEventLedgerRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE event_ledger").
		WithArgs(domain.EventStatusFailed, "recognition api 500", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.MarkFailed(context.Background(), id, "recognition api 500")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
