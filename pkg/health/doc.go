/*
Package health exposes a single raft.Raft server's view of cluster
health as an HTTP surface, plus a small dial-based reachability probe
for checking a peer before handing its address to raft.AddServer.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                        health.Server                       │
	│                                                              │
	│   GET /healthz  → 200 always (liveness: process can answer) │
	│   GET /readyz   → 200 if HasLeader, else 503 (readiness)    │
	│                                                              │
	│   both serve a JSON health.Snapshot body                    │
	└────────────────────────────────────────────────────────────┘

Snapshot is built by Observe, which reads Term, CommitIndex,
LastApplied, State, and LeaderID off a *raft.Raft. These accessors are
plain field reads with no locking, so Observe is subject to the same
single-goroutine rule as every other *raft.Raft method.

# Liveness vs readiness

/healthz answers "is this process alive" and is always 200 once the
mux is serving; it does not depend on cluster state. /readyz answers
"can this server usefully take part in the cluster right now" and
returns 503 until its view of the cluster has a leader, so a load
balancer or a join script can poll it instead of guessing at a sleep.

# Peer reachability

DialPeer opens and immediately closes a TCP connection to a candidate
address within a timeout. cmd/raftd's join subcommand uses it to fail
fast on a typo'd or unreachable peer address before calling
raft.AddServer, rather than waiting for the replication loop to time
out on it.
*/
package health
