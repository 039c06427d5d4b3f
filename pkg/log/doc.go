/*
Package log provides structured logging for the raft engine using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component- and server-scoped child loggers, configurable levels, and
helper functions for the common one-line logging calls scattered across
election, replication, snapshot, and tick code.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  Global Logger (zerolog.Logger)                           │
	│    initialized once via log.Init()                        │
	│                                                            │
	│  Config                                                   │
	│    Level: debug/info/warn/error                           │
	│    JSONOutput: JSON or console (human) format              │
	│    Output: stdout, file, or custom io.Writer               │
	│                                                            │
	│  Child loggers                                            │
	│    WithComponent("replication")                           │
	│    WithServerID(id)                                        │
	│    WithTerm(term)                                          │
	│                                                            │
	│  Output                                                   │
	│    JSON:    {"level":"info","server_id":3,"term":7,...}   │
	│    Console: <RFC3339 time> INF became leader server_id=3 term=7 │
	└────────────────────────────────────────────────────────────┘

# Usage

Initialize once at process startup, typically in cmd/raftd:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

Elsewhere, prefer a server-scoped child logger over the bare package
functions so every line from one raft instance carries its id:

	log.WithServerID(r.ID()).Info().Uint64("term", r.Term()).Msg("became leader")

The package-level Info/Debug/Warn/Error/Fatal helpers write to the
un-scoped global Logger and exist for call sites (mostly in cmd/raftd)
that have no single server in context.

# Level guidance

  - Error: a safety invariant was violated, or an IO completion
    reported a failure that causes a role change (append failed,
    stepping down).
  - Warn: best-effort operations that failed without consequence (a
    Send that could not reach a peer, a vote request that timed out).
  - Info: role transitions, snapshot installs, membership changes.
  - Debug: individual AppendEntries/RequestVote exchanges; off by
    default, since at steady heartbeat rate it is the highest-volume
    level by a wide margin.
*/
package log
