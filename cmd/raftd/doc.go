// Command raftd runs a single server of this module's consensus core
// against a local bbolt-backed data directory, wiring pkg/storage,
// pkg/log, pkg/metrics, pkg/observe, and pkg/health into a runnable
// process for manual testing.
//
// raftd bootstrap creates a new single-voter cluster. raftd status
// starts the server briefly and reports its role/term/commit state as
// JSON. raftd set/get apply commands through (or read directly from)
// the demo key-value FSM. raftd join adds a server to the
// configuration. raftd metrics keeps the server running and serves
// /metrics, /healthz, and /readyz.
//
// raftd does not ship a network transport (out of scope for this
// module; see pkg/storage's doc comment), so it is only meaningful as
// a single-voter demonstration, not a multi-process cluster.
package main
