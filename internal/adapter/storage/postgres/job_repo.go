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

// JobRepo implements ports.JobRepository.
type JobRepo struct {
	pool Pool
}

// NewJobRepo creates a new JobRepo.
func NewJobRepo(pool Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, subject_id, job_type, priority, status, attempt_count, max_attempts,
	payload, last_error, claimed_at, next_attempt_at, completed_at, created_at`

// Insert stores a new pending job.
func (r *JobRepo) Insert(ctx context.Context, j *domain.Job) error {
	payloadJSON, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	query := `INSERT INTO jobs (id, subject_id, job_type, priority, status, attempt_count, max_attempts,
		payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		j.ID, j.SubjectID, j.JobType, j.Priority, j.Status, j.AttemptCount, j.MaxAttempts,
		payloadJSON, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by id.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)

	j, err := r.scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// Candidates selects claimable jobs ordered by priority tier, then insertion
// order. Failed rows still inside their retry backoff are excluded. Rows
// returned here are candidates only — ownership requires winning Claim on
// each.
func (r *JobRepo) Candidates(ctx context.Context, limit int) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
		WHERE status IN ($1, $2) AND attempt_count < max_attempts
			AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY CASE WHEN priority = $3 THEN 0 ELSE 1 END, created_at
		LIMIT $4`, jobColumns)

	return r.queryJobs(ctx, query, domain.JobStatusPending, domain.JobStatusFailed, domain.JobPriorityHigh, limit)
}

// CandidatesByPriority selects claimable jobs within a single priority tier,
// oldest first.
func (r *JobRepo) CandidatesByPriority(ctx context.Context, priority domain.JobPriority, limit int) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
		WHERE status IN ($1, $2) AND attempt_count < max_attempts AND priority = $3
			AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY created_at
		LIMIT $4`, jobColumns)

	return r.queryJobs(ctx, query, domain.JobStatusPending, domain.JobStatusFailed, priority, limit)
}

// Claim atomically takes ownership of a candidate. The full predicate is
// repeated here because the row may have been claimed, completed, or
// dead-lettered between selection and this update; only a rows-affected of
// one grants ownership.
func (r *JobRepo) Claim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	query := `UPDATE jobs SET status = $1, claimed_at = $2
		WHERE id = $3 AND status IN ($4, $5) AND attempt_count < max_attempts
			AND (next_attempt_at IS NULL OR next_attempt_at <= now())`

	tag, err := r.pool.Exec(ctx, query,
		domain.JobStatusProcessing, claimedAt, id,
		domain.JobStatusPending, domain.JobStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a job done and clears its error state.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE jobs SET status = $1, completed_at = $2, last_error = NULL WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, domain.JobStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// Fail records a failed attempt and defers the next claim until retryAt. The
// job stays claimable until attempt_count reaches max_attempts, at which
// point the candidate predicates exclude it permanently (dead-letter). The
// returned attempt count reflects the row after the update.
func (r *JobRepo) Fail(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) (int, error) {
	query := `UPDATE jobs SET status = $1, attempt_count = attempt_count + 1, last_error = $2,
		claimed_at = NULL, next_attempt_at = $3
		WHERE id = $4
		RETURNING attempt_count`

	var attempts int
	err := r.pool.QueryRow(ctx, query, domain.JobStatusFailed, reason, retryAt, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("job not found: %s", id)
		}
		return 0, fmt.Errorf("fail job: %w", err)
	}
	return attempts, nil
}

// ReclaimStale fails processing rows claimed before the cutoff. The crashed
// attempt counts against the budget, so a job that dies on every attempt
// still dead-letters instead of looping forever. No retry backoff is set:
// the expired lease has already spaced the next attempt.
func (r *JobRepo) ReclaimStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `UPDATE jobs SET status = $1, attempt_count = attempt_count + 1, last_error = $2,
		claimed_at = NULL, next_attempt_at = NULL
		WHERE status = $3 AND claimed_at < $4`

	tag, err := r.pool.Exec(ctx, query,
		domain.JobStatusFailed, "claim lease expired", domain.JobStatusProcessing, claimedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountPending counts jobs still waiting for a claim.
func (r *JobRepo) CountPending(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE status IN ($1, $2) AND attempt_count < max_attempts`

	var count int64
	err := r.pool.QueryRow(ctx, query, domain.JobStatusPending, domain.JobStatusFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return count, nil
}

// ListDeadLetter returns terminal jobs, most recent first.
func (r *JobRepo) ListDeadLetter(ctx context.Context, limit int) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs
		WHERE status = $1 AND attempt_count >= max_attempts
		ORDER BY created_at DESC
		LIMIT $2`, jobColumns)

	return r.queryJobs(ctx, query, domain.JobStatusFailed, limit)
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

func (r *JobRepo) scanJob(row pgx.Row) (*domain.Job, error) {
	j := &domain.Job{}
	var payloadJSON []byte
	err := row.Scan(
		&j.ID, &j.SubjectID, &j.JobType, &j.Priority, &j.Status, &j.AttemptCount, &j.MaxAttempts,
		&payloadJSON, &j.LastError, &j.ClaimedAt, &j.NextAttemptAt, &j.CompletedAt, &j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &j.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", err)
		}
	}
	return j, nil
}
