/*
Package metrics provides Prometheus instrumentation of a raft.Raft
instance's state and operation latency, exposed for scraping via
Handler().

# Metrics Catalog

	raft_state{role}              gauge, 1 for the role this server currently holds
	raft_term                     gauge, current term
	raft_commit_index             gauge, highest log index known committed
	raft_last_applied             gauge, highest log index applied to the FSM
	raft_last_log_index           gauge, index of the most recent in-memory log entry
	raft_voting_peers             gauge, voting servers in the current configuration
	raft_apply_duration_seconds   histogram, time from Apply() to its completion callback
	raft_elections_total          counter, elections started as a candidate
	raft_snapshots_total{outcome} counter, snapshots taken or installed, by outcome
	raft_snapshot_duration_seconds histogram, time to take and persist a snapshot
	raft_send_errors_total{kind}  counter, failed Send completions, by message kind

All metrics are registered at package init via prometheus.MustRegister
and are package-level variables. The raft package itself updates none
of them: pkg/observe's Broker, when created with metric export on, sets
raft_state, raft_term and raft_commit_index and counts
raft_elections_total from the observations it receives. No code in this
module updates the other metrics. Timer is a small helper for timing
an operation and observing its duration into a histogram.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.RaftApplyDuration)

# See Also

  - pkg/health - readiness/liveness HTTP surface for the same Raft instance
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
