/*
Package raft implements the deterministic consensus core of a Raft
consensus library: leader election, log replication, snapshot
installation, single-server membership changes, and an in-memory log
store, decoupled from disk I/O, wire transport, and timekeeping behind
the IO and FSM interfaces.

# Architecture

The engine is a single-threaded cooperative state machine. Callers
serialize access to a *Raft the same way they would to any non-thread-safe
type: one goroutine, or one goroutine funneled through a channel. The
IO implementation may run storage and network work on background
goroutines, but must deliver every completion callback and every
inbound message through the RegisterTick/RegisterReceive hooks on that
same serialized path.

	┌──────────────────────────── Raft ─────────────────────────────┐
	│                                                                 │
	│  onTick(elapsed)──▶  state driver (follower/candidate/leader)  │
	│  onReceive(msg) ──▶  dispatcher ──▶ election / replication /   │
	│                                      membership / snapshot      │
	│  Apply(cmd)     ──▶  leader append pipeline                    │
	│                                                                 │
	│  Log (ring buffer, refcounted entries)                         │
	│  Configuration (ordered server set)                            │
	│  role state: Follower | Candidate | Leader (tagged variant)    │
	│                                                                 │
	│  IO:  persist term/vote, append/truncate, snapshot put/get,    │
	│       send, time, random                                       │
	│  FSM: apply, snapshot, restore                                  │
	└─────────────────────────────────────────────────────────────────┘

See SPEC_FULL.md for the full requirements this package implements, and
DESIGN.md for the grounding ledger mapping each file to the repository
it was modeled on.

# Safety invariants

Every public method preserves, across any legal call sequence: Election
Safety, Log Matching, Leader Completeness, and State Machine Safety. A
detected violation of Log Matching or commit safety halts the instance
(ErrShutdown) rather than silently corrupting the replicated log.
*/
package raft
