package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the processing core.
type Metrics struct {
	EventsClaimed  *prometheus.CounterVec
	EventsReplayed *prometheus.CounterVec
	EventsFailed   *prometheus.CounterVec

	JobsEnqueued   *prometheus.CounterVec
	JobsClaimed    prometheus.Counter
	JobsCompleted  *prometheus.CounterVec
	JobsFailed     *prometheus.CounterVec
	JobsDeadLetter *prometheus.CounterVec
	JobsReclaimed  prometheus.Counter
	JobsPending    prometheus.Gauge

	RedemptionsCommitted prometheus.Counter
	RedemptionsDuplicate prometheus.Counter
}

// New registers all collectors with the given registerer. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_events_claimed_total",
			Help: "Ledger entries claimed for processing, by provider.",
		}, []string{"provider"}),
		EventsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_events_replayed_total",
			Help: "Duplicate deliveries absorbed by the ledger, by provider.",
		}, []string{"provider"}),
		EventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_events_failed_total",
			Help: "Ledger entries marked failed, by provider.",
		}, []string{"provider"}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_jobs_enqueued_total",
			Help: "Jobs scheduled, by type.",
		}, []string{"type"}),
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffc_jobs_claimed_total",
			Help: "Jobs claimed by poll runs.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_jobs_completed_total",
			Help: "Jobs completed, by type.",
		}, []string{"type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_jobs_failed_total",
			Help: "Failed job attempts, by type.",
		}, []string{"type"}),
		JobsDeadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffc_jobs_dead_letter_total",
			Help: "Jobs that exhausted their attempt budget, by type.",
		}, []string{"type"}),
		JobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffc_jobs_reclaimed_total",
			Help: "Stale processing jobs returned to the claimable pool.",
		}),
		JobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ffc_jobs_pending",
			Help: "Jobs currently waiting for a claim.",
		}),
		RedemptionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffc_redemptions_committed_total",
			Help: "Redemption records created.",
		}),
		RedemptionsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffc_redemptions_duplicate_total",
			Help: "Redemption commits collapsed onto an existing record.",
		}),
	}

	reg.MustRegister(
		m.EventsClaimed, m.EventsReplayed, m.EventsFailed,
		m.JobsEnqueued, m.JobsClaimed, m.JobsCompleted, m.JobsFailed,
		m.JobsDeadLetter, m.JobsReclaimed, m.JobsPending,
		m.RedemptionsCommitted, m.RedemptionsDuplicate,
	)
	return m
}
