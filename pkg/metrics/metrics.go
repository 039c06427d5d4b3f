package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RaftState is 1 for the role currently held by this server, 0
	// otherwise, labeled by role so a single gauge vec covers all four.
	RaftState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raft_state",
			Help: "Whether this server currently holds a given role (1) or not (0)",
		},
		[]string{"role"},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_term",
			Help: "Current term",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_commit_index",
			Help: "Highest log index known committed",
		},
	)

	RaftLastApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_last_applied",
			Help: "Highest log index applied to the state machine",
		},
	)

	RaftLastIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_last_log_index",
			Help: "Index of the most recent entry in the in-memory log",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_voting_peers",
			Help: "Number of voting servers in the current configuration",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_apply_duration_seconds",
			Help:    "Time from Apply() being called to its completion callback firing",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_elections_total",
			Help: "Total number of elections this server has started as a candidate",
		},
	)

	RaftSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_snapshots_total",
			Help: "Total number of snapshots taken or installed, by outcome",
		},
		[]string{"outcome"},
	)

	RaftSnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_snapshot_duration_seconds",
			Help:    "Time taken to take and persist a snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftSendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_send_errors_total",
			Help: "Total number of failed Send completions, by message kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RaftState,
		RaftTerm,
		RaftCommitIndex,
		RaftLastApplied,
		RaftLastIndex,
		RaftPeers,
		RaftApplyDuration,
		RaftElectionsTotal,
		RaftSnapshotsTotal,
		RaftSnapshotDuration,
		RaftSendErrorsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
