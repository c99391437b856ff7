package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventLedgerRepo implements ports.EventLedgerRepository.
type EventLedgerRepo struct {
	pool Pool
}

// NewEventLedgerRepo creates a new EventLedgerRepo.
func NewEventLedgerRepo(pool Pool) *EventLedgerRepo {
	return &EventLedgerRepo{pool: pool}
}

const eventColumns = `id, provider, event_id, event_type, status, signature_verified,
	payload, failure_reason, claimed_at, processed_at, created_at`

// Insert attempts the first-writer-wins insert. Concurrent deliveries of the
// same (provider, event_id) race on the unique key; exactly one insert wins.
func (r *EventLedgerRepo) Insert(ctx context.Context, e *domain.LedgerEntry) (bool, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal event payload: %w", err)
	}

	query := `INSERT INTO event_ledger (id, provider, event_id, event_type, status, signature_verified,
		payload, claimed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, event_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		e.ID, e.Provider, e.EventID, e.EventType, e.Status, e.SignatureVerified,
		payloadJSON, e.ClaimedAt, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByIdentity fetches an entry by its external identity.
func (r *EventLedgerRepo) GetByIdentity(ctx context.Context, provider, eventID string) (*domain.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM event_ledger WHERE provider = $1 AND event_id = $2`, eventColumns)
	return r.scanEntry(r.pool.QueryRow(ctx, query, provider, eventID))
}

// GetByID fetches an entry by row id.
func (r *EventLedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM event_ledger WHERE id = $1`, eventColumns)
	return r.scanEntry(r.pool.QueryRow(ctx, query, id))
}

// Reclaim conditionally moves a pending or failed entry back to processing.
// The status predicate closes the race window: of N concurrent reclaimers,
// only the one whose update affects a row owns the entry.
func (r *EventLedgerRepo) Reclaim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	query := `UPDATE event_ledger
		SET status = $1, claimed_at = $2, failure_reason = NULL, processed_at = NULL
		WHERE id = $3 AND status IN ($4, $5)`

	tag, err := r.pool.Exec(ctx, query,
		domain.EventStatusProcessing, claimedAt, id,
		domain.EventStatusPending, domain.EventStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("reclaim ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed is idempotent; marking an already-processed entry refreshes
// processed_at but changes nothing else.
func (r *EventLedgerRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE event_ledger SET status = $1, processed_at = $2, failure_reason = NULL WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, domain.EventStatusProcessed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark entry processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", id)
	}
	return nil
}

// MarkFailed records the failure reason and leaves the entry eligible for a
// future replay.
func (r *EventLedgerRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE event_ledger SET status = $1, failure_reason = $2, processed_at = NULL WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, domain.EventStatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("mark entry failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", id)
	}
	return nil
}

// ListFailed returns failed entries for operational inspection, oldest first.
func (r *EventLedgerRepo) ListFailed(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM event_ledger WHERE status = $1 ORDER BY created_at LIMIT $2`, eventColumns)

	rows, err := r.pool.Query(ctx, query, domain.EventStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := r.scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}

func (r *EventLedgerRepo) scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e, err := r.scanEntryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (r *EventLedgerRepo) scanEntryRow(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var payloadJSON []byte
	err := row.Scan(
		&e.ID, &e.Provider, &e.EventID, &e.EventType, &e.Status, &e.SignatureVerified,
		&payloadJSON, &e.FailureReason, &e.ClaimedAt, &e.ProcessedAt, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	return e, nil
}
