/*
Package storage provides a disk-backed implementation of the storage
half of raft.IO, on top of BoltDB (go.etcd.io/bbolt).

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  BoltStore                                                │
	│    File: <dataDir>/raft.db                                │
	│    Format: B+tree with MVCC, fsync on commit              │
	│                                                            │
	│  Buckets                                                  │
	│    meta            term, voted-for (uint64, big-endian)   │
	│    entries          log index -> encoded Entry            │
	│    snapshot-meta    latest snapshot's metadata             │
	│    snapshot         latest snapshot's data chunks          │
	└────────────────────────────────────────────────────────────┘

BoltStore implements Load, Bootstrap, SetTerm, SetVote, Append,
Truncate, SnapshotPut, and SnapshotGet — the persistence half of
raft.IO. It does not implement Send, Time, Random, RegisterTick, or
RegisterReceive; those depend on a transport and a clock, neither of
which this package provides. cmd/raftd pairs a *BoltStore with an
in-process transport for its demo commands.

# Durability

Append/Truncate/SetTerm/SetVote each run inside a single bolt.Tx and
invoke their completion callback synchronously once Tx.Commit returns.
bbolt's own fsync-on-commit boundary stands in for the suspension
point raft.IO's contract describes — by the time the callback fires,
the write has survived a crash.

# Entry and snapshot encoding

Entries and snapshot metadata are encoded with encoding/json, the same
choice raft.EncodeConfiguration makes for Configuration payloads, so a
raft.db file can be inspected with any JSON-aware Bolt browser. A
snapshot's (potentially large) Data chunks are stored in their own
bucket, keyed by chunk index, apart from the metadata record. Load and
SnapshotGet read both; there is no metadata-only read.
*/
package storage
