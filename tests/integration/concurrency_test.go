package integration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fotofeed-core/config"
	"fotofeed-core/internal/core/domain"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/internal/metrics"
	"fotofeed-core/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests drive the services directly against the in-memory repos, which
// share the conditional-claim semantics of the SQL layer. They verify the
// ownership guarantees under real goroutine contention.

func testQueueCfg() config.QueueConfig {
	return config.QueueConfig{
		BatchSize:    10,
		MaxAttempts:  3,
		PollBudget:   5 * time.Second,
		ClaimLease:   5 * time.Minute,
		NormalShare:  0.2,
		RetryBackoff: time.Minute,
		ReplayTTL:    time.Hour,
	}
}

func TestConcurrentEventClaims_ExactlyOneWins(t *testing.T) {
	repo := newInMemoryEventRepo()
	m := metrics.New(prometheus.NewRegistry())
	svc := service.NewEventLedgerService(repo, newInMemoryReplayCache(), m, zerolog.Nop(), time.Hour)
	ctx := context.Background()

	const claimers = 50
	var winners atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := svc.Claim(ctx, ports.ClaimRequest{
				Provider:          "payhub",
				EventID:           "evt_race",
				EventType:         "purchase.completed",
				SignatureVerified: true,
				Payload:           domain.Payload{"order_ref": "ord-1"},
			})
			require.NoError(t, err)
			if result.ShouldProcess {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load(), "one delivery processes, the rest replay")

	entry, err := repo.GetByIdentity(ctx, "payhub", "evt_race")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EventStatusProcessing, entry.Status)
}

func TestConcurrentClaimBatch_NoDoubleClaims(t *testing.T) {
	repo := newInMemoryJobRepo()
	m := metrics.New(prometheus.NewRegistry())
	svc := service.NewWorkQueueService(repo, []ports.JobHandler{idleHandler{domain.JobTypeFaceIndex}}, testQueueCfg(), m, zerolog.Nop())
	ctx := context.Background()

	const jobCount = 40
	for i := 0; i < jobCount; i++ {
		priority := domain.JobPriorityNormal
		if i%2 == 0 {
			priority = domain.JobPriorityHigh
		}
		_, err := svc.Enqueue(ctx, ports.EnqueueRequest{
			SubjectID: fmt.Sprintf("photo-%d", i),
			JobType:   domain.JobTypeFaceIndex,
			Priority:  priority,
			Payload:   domain.Payload{"photo_ref": "ref"},
		})
		require.NoError(t, err)
	}

	const pollers = 8
	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for {
				batch, err := svc.ClaimBatch(ctx, 5)
				require.NoError(t, err)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, job := range batch {
					seen[job.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, seen, jobCount, "every job claimed")
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestConcurrentRedemptionCommits_SingleRecord(t *testing.T) {
	repo := newInMemoryRedemptionRepo()
	repo.seedPromo("promo-race")
	m := metrics.New(prometheus.NewRegistry())
	svc := service.NewRedemptionService(repo, &inMemoryTransactor{}, m, zerolog.Nop())
	ctx := context.Background()

	req := ports.CommitRequest{
		PromoCodeID:        "promo-race",
		UserID:             "user-1",
		Scope:              "ORDER",
		AppliedAmountCents: 10000,
		DiscountCents:      1500,
		FinalAmountCents:   8500,
		Currency:           "USD",
		SourceRef:          "ord-race",
	}

	const committers = 30
	var created, duplicates atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < committers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := svc.Commit(ctx, req)
			require.NoError(t, err)
			switch {
			case result.Created:
				created.Add(1)
			case result.Duplicate:
				duplicates.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(committers-1), duplicates.Load())
	assert.Equal(t, int64(1), repo.promoCount("promo-race"), "counter bumped once")
}

func TestCrashResume_StaleClaimReclaimed(t *testing.T) {
	repo := newInMemoryJobRepo()
	m := metrics.New(prometheus.NewRegistry())
	cfg := testQueueCfg()
	svc := service.NewWorkQueueService(repo, []ports.JobHandler{idleHandler{domain.JobTypeFaceIndex}}, cfg, m, zerolog.Nop())
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, ports.EnqueueRequest{
		SubjectID: "photo-crash",
		JobType:   domain.JobTypeFaceIndex,
		Priority:  domain.JobPriorityHigh,
		Payload:   domain.Payload{"photo_ref": "ref"},
	})
	require.NoError(t, err)

	// A worker claims the job, then dies without completing it.
	batch, err := svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	repo.backdateClaim(job.ID, time.Now().Add(-2*cfg.ClaimLease))

	// While the lease is live nothing is claimable; after expiry the sweeper
	// turns the job back into a retryable failure.
	reclaimed, err := svc.ReclaimStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.False(t, stored.Terminal())

	batch, err = svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, batch, 1, "reclaimed job claimable again")
}

func TestDeadLetter_NeverReclaimed(t *testing.T) {
	repo := newInMemoryJobRepo()
	m := metrics.New(prometheus.NewRegistry())
	svc := service.NewWorkQueueService(repo, []ports.JobHandler{idleHandler{domain.JobTypeFaceIndex}}, testQueueCfg(), m, zerolog.Nop())
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, ports.EnqueueRequest{
		SubjectID: "photo-dead",
		JobType:   domain.JobTypeFaceIndex,
		Priority:  domain.JobPriorityNormal,
		Payload:   domain.Payload{"photo_ref": "ref"},
	})
	require.NoError(t, err)

	// Burn every attempt, with the retry due immediately each time.
	for i := 0; i < job.MaxAttempts; i++ {
		batch, err := svc.ClaimBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		_, err = repo.Fail(ctx, job.ID, "handler exploded", time.Now().UTC())
		require.NoError(t, err)
	}

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Terminal())

	batch, err := svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, batch, "terminal job must not be claimable")

	dead, err := svc.ListDeadLetter(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
}
