package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
)

type SnapshotMetrics struct {
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	treeFetches *prometheus.CounterVec
}

var (
	snapshotOnce     sync.Once
	snapshotRegistry *SnapshotMetrics
)

// Snapshot returns the process wide snapshot metrics, registering them with
// the default registry on first use.
func Snapshot() *SnapshotMetrics {
	snapshotOnce.Do(func() {
		snapshotRegistry = &SnapshotMetrics{
			jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "assetsnap_snapshot_jobs_total",
				Help: "Processed snapshot jobs by outcome and failure cause.",
			}, []string{"outcome", "cause"}),
			jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "assetsnap_snapshot_job_duration_seconds",
				Help:    "Wall time from claim to final state per snapshot job.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			}, []string{"outcome"}),
			treeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "assetsnap_tree_fetch_total",
				Help: "Persisted tree reads by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			snapshotRegistry.jobs,
			snapshotRegistry.jobDuration,
			snapshotRegistry.treeFetches,
		)
	})
	return snapshotRegistry
}

func (m *SnapshotMetrics) ObserveSnapshotJob(status entities.SnapshotStatus, cause entities.FailureCause, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := string(status)
	if outcome == "" {
		outcome = "unknown"
	}
	label := string(cause)
	if label == "" {
		label = "none"
	}
	m.jobs.WithLabelValues(outcome, label).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *SnapshotMetrics) ObserveTreeFetch(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.treeFetches.WithLabelValues(result).Inc()
}
