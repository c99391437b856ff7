package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fotofeed-core/config"
	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/internal/core/ports/mocks"
	"fotofeed-core/internal/metrics"
	"fotofeed-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func queueCfg() config.QueueConfig {
	return config.QueueConfig{
		BatchSize:    10,
		MaxAttempts:  3,
		PollBudget:   5 * time.Second,
		ClaimLease:   5 * time.Minute,
		NormalShare:  0.2,
		RetryBackoff: 30 * time.Second,
	}
}

func newWorkQueue(t *testing.T, handlers ...ports.JobHandler) (*WorkQueueService, *mocks.MockJobRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	svc := NewWorkQueueService(repo, handlers, queueCfg(), m, zerolog.Nop())
	return svc, repo
}

func stubHandler(ctrl *gomock.Controller, jobType domain.JobType) *mocks.MockJobHandler {
	h := mocks.NewMockJobHandler(ctrl)
	h.EXPECT().Type().Return(jobType).AnyTimes()
	return h
}

func TestWorkQueue_Enqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := stubHandler(ctrl, domain.JobTypeFaceIndex)
	svc, repo := newWorkQueue(t, handler)
	ctx := context.Background()

	repo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, j *domain.Job) error {
			assert.Equal(t, domain.JobStatusPending, j.Status)
			assert.Equal(t, 3, j.MaxAttempts)
			assert.Equal(t, domain.JobPriorityNormal, j.Priority, "priority defaults to NORMAL")
			return nil
		})

	job, err := svc.Enqueue(ctx, ports.EnqueueRequest{
		SubjectID: "photo-1",
		JobType:   domain.JobTypeFaceIndex,
		Payload:   domain.Payload{"photo_ref": "s3://bucket/photo-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "photo-1", job.SubjectID)
}

func TestWorkQueue_Enqueue_UnknownType(t *testing.T) {
	svc, _ := newWorkQueue(t)

	_, err := svc.Enqueue(context.Background(), ports.EnqueueRequest{
		SubjectID: "photo-1",
		JobType:   domain.JobType("TRANSCODE"),
	})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "JOB_001", appErr.Code)
}

func TestWorkQueue_ClaimBatch_SkipsLostRaces(t *testing.T) {
	svc, repo := newWorkQueue(t)
	ctx := context.Background()

	a := domain.Job{ID: uuid.New(), Priority: domain.JobPriorityHigh, Status: domain.JobStatusPending}
	b := domain.Job{ID: uuid.New(), Priority: domain.JobPriorityHigh, Status: domain.JobStatusPending}

	// limit=2, NormalShare 0.2 -> floor 0, single global phase plus backfill.
	repo.EXPECT().Candidates(ctx, 2).Return([]domain.Job{a, b}, nil).Times(2)
	repo.EXPECT().Claim(ctx, a.ID, gomock.Any()).Return(false, nil)
	repo.EXPECT().Claim(ctx, b.ID, gomock.Any()).Return(true, nil)

	claimed, err := svc.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, b.ID, claimed[0].ID)
	assert.Equal(t, domain.JobStatusProcessing, claimed[0].Status)
}

func TestWorkQueue_ClaimBatch_ReservesNormalSlice(t *testing.T) {
	svc, repo := newWorkQueue(t)
	ctx := context.Background()

	high := make([]domain.Job, 10)
	for i := range high {
		high[i] = domain.Job{ID: uuid.New(), Priority: domain.JobPriorityHigh, Status: domain.JobStatusPending}
	}
	normal := domain.Job{ID: uuid.New(), Priority: domain.JobPriorityNormal, Status: domain.JobStatusPending}

	// limit=10, NormalShare 0.2 -> floor 2: phase 1 claims 8 from the global
	// ordering, phase 2 pulls from the normal-only pool.
	repo.EXPECT().Candidates(ctx, 10).Return(high, nil)
	for i := 0; i < 8; i++ {
		repo.EXPECT().Claim(ctx, high[i].ID, gomock.Any()).Return(true, nil)
	}
	repo.EXPECT().CandidatesByPriority(ctx, domain.JobPriorityNormal, 10).Return([]domain.Job{normal}, nil)
	repo.EXPECT().Claim(ctx, normal.ID, gomock.Any()).Return(true, nil)
	// Backfill fills the one remaining slot from the global pool.
	repo.EXPECT().Candidates(ctx, 10).Return(high, nil)
	repo.EXPECT().Claim(ctx, high[8].ID, gomock.Any()).Return(true, nil)

	claimed, err := svc.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 10)

	var gotNormal bool
	for _, j := range claimed {
		if j.ID == normal.ID {
			gotNormal = true
		}
	}
	assert.True(t, gotNormal, "a high-priority flood must not starve normal jobs")
}

func TestWorkQueue_Dispatch_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := stubHandler(ctrl, domain.JobTypeFaceIndex)
	svc, repo := newWorkQueue(t, handler)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), JobType: domain.JobTypeFaceIndex, MaxAttempts: 3}

	handler.EXPECT().Handle(gomock.Any(), job).Return(nil)
	repo.EXPECT().Complete(gomock.Any(), job.ID).Return(nil)

	assert.NoError(t, svc.Dispatch(ctx, job))
}

func TestWorkQueue_Dispatch_HandlerFailureRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := stubHandler(ctrl, domain.JobTypeFaceIndex)
	svc, repo := newWorkQueue(t, handler)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), JobType: domain.JobTypeFaceIndex, AttemptCount: 0, MaxAttempts: 3}

	handler.EXPECT().Handle(gomock.Any(), job).Return(errors.New("recognition api 500"))
	repo.EXPECT().Fail(gomock.Any(), job.ID, "recognition api 500", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, _ string, retryAt time.Time) (int, error) {
			assert.WithinDuration(t, time.Now().UTC().Add(30*time.Second), retryAt, time.Second,
				"first retry waits out the base backoff")
			return 1, nil
		})

	assert.NoError(t, svc.Dispatch(ctx, job), "handler errors are recorded on the job, not returned")
}

func TestWorkQueue_Dispatch_BackoffDoubles(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := stubHandler(ctrl, domain.JobTypeFaceIndex)
	svc, repo := newWorkQueue(t, handler)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), JobType: domain.JobTypeFaceIndex, AttemptCount: 2, MaxAttempts: 5}

	handler.EXPECT().Handle(gomock.Any(), job).Return(errors.New("still down"))
	repo.EXPECT().Fail(gomock.Any(), job.ID, "still down", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, _ string, retryAt time.Time) (int, error) {
			assert.WithinDuration(t, time.Now().UTC().Add(2*time.Minute), retryAt, time.Second,
				"third attempt backs off 4x the 30s base")
			return 3, nil
		})

	assert.NoError(t, svc.Dispatch(ctx, job))
}

func TestWorkQueue_Dispatch_DeadLetterUsesStoredAttemptCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := stubHandler(ctrl, domain.JobTypeFaceIndex)
	repo := mocks.NewMockJobRepository(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	svc := NewWorkQueueService(repo, []ports.JobHandler{handler}, queueCfg(), m, zerolog.Nop())
	ctx := context.Background()

	// The in-memory copy thinks one attempt remains, but a lease reclaim
	// already counted another one; Fail returns the authoritative count.
	job := &domain.Job{ID: uuid.New(), JobType: domain.JobTypeFaceIndex, AttemptCount: 1, MaxAttempts: 3}

	handler.EXPECT().Handle(gomock.Any(), job).Return(errors.New("recognition api 500"))
	repo.EXPECT().Fail(gomock.Any(), job.ID, "recognition api 500", gomock.Any()).Return(3, nil)

	require.NoError(t, svc.Dispatch(ctx, job))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.JobsDeadLetter.WithLabelValues(string(domain.JobTypeFaceIndex))))
}

func TestWorkQueue_Dispatch_NoHandler(t *testing.T) {
	svc, repo := newWorkQueue(t)
	ctx := context.Background()

	job := &domain.Job{ID: uuid.New(), JobType: domain.JobType("TRANSCODE"), MaxAttempts: 3}

	repo.EXPECT().Fail(gomock.Any(), job.ID, "no handler registered for TRANSCODE", gomock.Any()).Return(1, nil)

	assert.NoError(t, svc.Dispatch(ctx, job))
}

func TestWorkQueue_ReclaimStale(t *testing.T) {
	svc, repo := newWorkQueue(t)
	ctx := context.Background()

	repo.EXPECT().ReclaimStale(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, cutoff time.Time) (int64, error) {
			assert.WithinDuration(t, time.Now().UTC().Add(-5*time.Minute), cutoff, time.Second)
			return 2, nil
		})

	n, err := svc.ReclaimStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWorkQueue_RunPoll_DrainsQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := stubHandler(ctrl, domain.JobTypeFaceIndex)
	svc, repo := newWorkQueue(t, handler)
	ctx := context.Background()

	job := domain.Job{ID: uuid.New(), JobType: domain.JobTypeFaceIndex, Status: domain.JobStatusPending, MaxAttempts: 3}

	repo.EXPECT().ReclaimStale(ctx, gomock.Any()).Return(int64(0), nil)

	// First batch returns one job, second is empty.
	repo.EXPECT().Candidates(ctx, 5).Return([]domain.Job{job}, nil)
	repo.EXPECT().Claim(ctx, job.ID, gomock.Any()).Return(true, nil)
	repo.EXPECT().CandidatesByPriority(ctx, domain.JobPriorityNormal, 5).Return(nil, nil)
	repo.EXPECT().Candidates(ctx, 5).Return(nil, nil)

	handler.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(nil)
	repo.EXPECT().Complete(gomock.Any(), job.ID).Return(nil)
	completed := job
	completed.Status = domain.JobStatusCompleted
	repo.EXPECT().GetByID(gomock.Any(), job.ID).Return(&completed, nil)

	// Drained: next ClaimBatch finds nothing.
	repo.EXPECT().Candidates(ctx, 5).Return(nil, nil)
	repo.EXPECT().CandidatesByPriority(ctx, domain.JobPriorityNormal, 5).Return(nil, nil)
	repo.EXPECT().Candidates(ctx, 5).Return(nil, nil)

	repo.EXPECT().CountPending(ctx).Return(int64(0), nil)

	stats, err := svc.RunPoll(ctx, 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
}
