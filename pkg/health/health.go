// Package health exposes a raft.Raft instance's health as an HTTP
// surface an embedding process can wire to a Kubernetes readiness or
// liveness probe.
package health

import "github.com/brauner/raft"

// Snapshot is a point-in-time read of a single server's health.
type Snapshot struct {
	HasLeader   bool   `json:"has_leader"`
	IsLeader    bool   `json:"is_leader"`
	Term        uint64 `json:"term"`
	CommitIndex uint64 `json:"commit_index"`
	LastApplied uint64 `json:"last_applied"`
	// AppliedLag is CommitIndex - LastApplied: entries committed but not
	// yet reflected in the FSM. Large and growing indicates a stuck
	// Apply or a slow FSM, not a consensus problem.
	AppliedLag uint64 `json:"applied_lag"`
}

// Observe reads r's current health. Every field comes from a plain
// accessor with no locking, so it must run on the goroutine that owns r.
func Observe(r *raft.Raft) Snapshot {
	commitIndex := r.CommitIndex()
	lastApplied := r.LastApplied()
	lag := uint64(0)
	if commitIndex > lastApplied {
		lag = commitIndex - lastApplied
	}
	return Snapshot{
		HasLeader:   r.LeaderID() != 0,
		IsLeader:    r.State() == raft.RoleLeader,
		Term:        r.Term(),
		CommitIndex: commitIndex,
		LastApplied: lastApplied,
		AppliedLag:  lag,
	}
}
