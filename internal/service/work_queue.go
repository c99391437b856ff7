package service

import (
	"context"
	"fmt"
	"time"

	"fotofeed-core/config"
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

// WorkQueueService implements ports.WorkQueue on the jobs table. Claims are
// conditional updates, so any number of concurrent pollers can share one
// queue without double-running a job.
type WorkQueueService struct {
	repo     ports.JobRepository
	handlers map[domain.JobType]ports.JobHandler
	cfg      config.QueueConfig
	metrics  *metrics.Metrics
	log      zerolog.Logger
	tracer   trace.Tracer
}

// NewWorkQueueService creates a WorkQueueService with the given handlers
// registered by job type.
func NewWorkQueueService(
	repo ports.JobRepository,
	handlers []ports.JobHandler,
	cfg config.QueueConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *WorkQueueService {
	byType := make(map[domain.JobType]ports.JobHandler, len(handlers))
	for _, h := range handlers {
		byType[h.Type()] = h
	}
	return &WorkQueueService{
		repo:     repo,
		handlers: byType,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		tracer:   otel.Tracer("fotofeed-core/work-queue"),
	}
}

// Enqueue schedules a new job. Unknown job types are rejected up front so a
// bad producer cannot fill the queue with undispatchable work.
func (s *WorkQueueService) Enqueue(ctx context.Context, req ports.EnqueueRequest) (*domain.Job, error) {
	if _, ok := s.handlers[req.JobType]; !ok {
		return nil, apperror.ErrUnknownJobType(string(req.JobType))
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.JobPriorityNormal
	}

	job := &domain.Job{
		ID:          uuid.New(),
		SubjectID:   req.SubjectID,
		JobType:     req.JobType,
		Priority:    priority,
		Status:      domain.JobStatusPending,
		MaxAttempts: s.cfg.MaxAttempts,
		Payload:     req.Payload,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	s.metrics.JobsEnqueued.WithLabelValues(string(job.JobType)).Inc()
	s.log.Debug().
		Str("job_id", job.ID.String()).
		Str("type", string(job.JobType)).
		Str("priority", string(job.Priority)).
		Msg("job enqueued")
	return job, nil
}

// ClaimBatch takes ownership of up to limit jobs. High-priority jobs go
// first, but a slice of each batch is reserved for normal-priority work so a
// constant stream of high-priority jobs cannot starve it.
func (s *WorkQueueService) ClaimBatch(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	floor := int(float64(limit) * s.cfg.NormalShare)
	if floor >= limit {
		floor = limit - 1
	}

	now := time.Now().UTC()
	claimed := make([]domain.Job, 0, limit)
	seen := make(map[uuid.UUID]bool)

	claimFrom := func(candidates []domain.Job, want int) error {
		for _, job := range candidates {
			if len(claimed) >= limit || want <= 0 {
				return nil
			}
			if seen[job.ID] {
				continue
			}
			seen[job.ID] = true

			won, err := s.repo.Claim(ctx, job.ID, now)
			if err != nil {
				return err
			}
			if !won {
				// Lost to a concurrent poller; the candidate read is stale.
				continue
			}
			job.Status = domain.JobStatusProcessing
			claimedAt := now
			job.ClaimedAt = &claimedAt
			claimed = append(claimed, job)
			want--
		}
		return nil
	}

	// Phase 1: global priority ordering for the unreserved part of the batch.
	candidates, err := s.repo.Candidates(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting candidates: %w", err)
	}
	if err := claimFrom(candidates, limit-floor); err != nil {
		return nil, fmt.Errorf("claiming candidates: %w", err)
	}

	// Phase 2: the reserved normal-priority slice.
	if floor > 0 && len(claimed) < limit {
		normals, err := s.repo.CandidatesByPriority(ctx, domain.JobPriorityNormal, limit)
		if err != nil {
			return nil, fmt.Errorf("selecting normal candidates: %w", err)
		}
		if err := claimFrom(normals, limit-len(claimed)); err != nil {
			return nil, fmt.Errorf("claiming normal candidates: %w", err)
		}
	}

	// Phase 3: backfill from the global ordering if the reservation went
	// unused (no normal-priority work waiting).
	if len(claimed) < limit {
		backfill, err := s.repo.Candidates(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("selecting backfill candidates: %w", err)
		}
		if err := claimFrom(backfill, limit-len(claimed)); err != nil {
			return nil, fmt.Errorf("claiming backfill candidates: %w", err)
		}
	}

	s.metrics.JobsClaimed.Add(float64(len(claimed)))
	return claimed, nil
}

// Dispatch runs the handler for a claimed job and records the outcome. A
// handler error is written to the job, not returned: the job either becomes
// claimable again once its retry backoff elapses, or dead-letters when its
// attempt budget runs out.
func (s *WorkQueueService) Dispatch(ctx context.Context, job *domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "WorkQueue.Dispatch",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.type", string(job.JobType)),
		))
	defer span.End()

	handler, ok := s.handlers[job.JobType]
	if !ok {
		return s.failJob(ctx, job, fmt.Sprintf("no handler registered for %s", job.JobType))
	}

	if err := handler.Handle(ctx, job); err != nil {
		return s.failJob(ctx, job, err.Error())
	}

	if err := s.repo.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	s.metrics.JobsCompleted.WithLabelValues(string(job.JobType)).Inc()
	return nil
}

func (s *WorkQueueService) failJob(ctx context.Context, job *domain.Job, reason string) error {
	retryAt := time.Now().UTC().Add(s.retryDelay(job.AttemptCount + 1))
	attempts, err := s.repo.Fail(ctx, job.ID, reason, retryAt)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	s.metrics.JobsFailed.WithLabelValues(string(job.JobType)).Inc()

	// The dead-letter decision uses the count returned by Fail, not the
	// in-memory copy: a concurrent lease reclaim may have counted an attempt
	// this worker never saw.
	if attempts >= job.MaxAttempts {
		s.metrics.JobsDeadLetter.WithLabelValues(string(job.JobType)).Inc()
		s.log.Error().
			Str("job_id", job.ID.String()).
			Str("type", string(job.JobType)).
			Int("attempts", attempts).
			Str("reason", reason).
			Msg("job dead-lettered")
	} else {
		s.log.Warn().
			Str("job_id", job.ID.String()).
			Str("type", string(job.JobType)).
			Int("attempt", attempts).
			Time("retry_at", retryAt).
			Str("reason", reason).
			Msg("job attempt failed")
	}
	return nil
}

// retryDelay returns the backoff before the given attempt number may run
// again, doubling the configured base per completed attempt.
func (s *WorkQueueService) retryDelay(attempt int) time.Duration {
	delay := s.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// RunPoll sweeps stale claims, then claims and dispatches batches until no
// due work remains or the time budget is spent. Jobs that fail during the
// run re-enter the pool only after their retry backoff, so a transient
// collaborator outage does not burn a job's whole attempt budget within one
// poll.
func (s *WorkQueueService) RunPoll(ctx context.Context, limit int, budget time.Duration) (*ports.PollStats, error) {
	stats := &ports.PollStats{}
	deadline := time.Now().Add(budget)

	reclaimed, err := s.ReclaimStale(ctx)
	if err != nil {
		return nil, err
	}
	stats.Reclaimed = reclaimed

	for time.Now().Before(deadline) {
		jobs, err := s.ClaimBatch(ctx, limit)
		if err != nil {
			return stats, err
		}
		if len(jobs) == 0 {
			break
		}
		stats.Claimed += len(jobs)

		for i := range jobs {
			before := jobs[i].AttemptCount
			if err := s.Dispatch(ctx, &jobs[i]); err != nil {
				return stats, err
			}
			// Dispatch absorbs handler failures into the job row; tell the
			// two outcomes apart by re-reading the row.
			updated, err := s.repo.GetByID(ctx, jobs[i].ID)
			if err != nil {
				return stats, err
			}
			if updated != nil && updated.Status == domain.JobStatusCompleted {
				stats.Completed++
			} else if updated != nil && updated.AttemptCount > before {
				stats.Failed++
			}
			if time.Now().After(deadline) {
				break
			}
		}
	}

	if pending, err := s.repo.CountPending(ctx); err == nil {
		s.metrics.JobsPending.Set(float64(pending))
	}

	s.log.Info().
		Int("claimed", stats.Claimed).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Int64("reclaimed", stats.Reclaimed).
		Msg("poll run finished")
	return stats, nil
}

// ReclaimStale returns jobs stuck in processing past the claim lease to the
// claimable pool, counting the lost attempt.
func (s *WorkQueueService) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.ClaimLease)
	n, err := s.repo.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale jobs: %w", err)
	}
	if n > 0 {
		s.metrics.JobsReclaimed.Add(float64(n))
		s.log.Warn().Int64("count", n).Msg("stale job claims reclaimed")
	}
	return n, nil
}

// ListDeadLetter returns jobs that exhausted their attempt budget.
func (s *WorkQueueService) ListDeadLetter(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.repo.ListDeadLetter(ctx, limit)
}
