// Package fixture provides a deterministic, in-memory test harness for
// package raft: a virtual clock, an in-memory transport with per-link
// latency and partitioning, and a multi-server Cluster driven entirely
// by repeated calls to Step. No goroutines, no wall-clock sleeps.
package fixture

import (
	"context"
	"math/rand"

	"github.com/brauner/raft"
)

// pendingWrite is a queued disk completion: SetTerm/SetVote/Append/
// Truncate/SnapshotPut all enqueue one of these instead of completing
// synchronously, so Cluster.Step controls exactly when "disk I/O"
// finishes, the way raft_fixture_step's flush phase does.
type pendingWrite struct {
	run func()
}

// memIO is the in-memory raft.IO implementation backing one fixture
// server. All of its durable state lives in plain Go values; nothing
// persists across process restarts, which is the point in tests.
type memIO struct {
	cluster *Cluster
	index   int // this server's position in cluster.servers

	term     uint64
	votedFor uint64
	snapshot *raft.Snapshot
	entries  []raft.Entry
	offset   uint64

	pending []pendingWrite

	tickFn    func(elapsedMS int64)
	receiveFn func(msg raft.Message)

	randomFn func(low, high int64) int64
	latMin   int64
	latMax   int64
}

func newMemIO(cluster *Cluster, index int) *memIO {
	return &memIO{
		cluster: cluster,
		index:   index,
		latMin:  1,
		latMax:  50,
	}
}

func (m *memIO) Load(ctx context.Context) (uint64, uint64, *raft.Snapshot, []raft.Entry, error) {
	entries := make([]raft.Entry, len(m.entries))
	copy(entries, m.entries)
	return m.term, m.votedFor, m.snapshot, entries, nil
}

func (m *memIO) Bootstrap(cfg raft.Configuration) error {
	if m.term != 0 || len(m.entries) != 0 || m.snapshot != nil {
		return raft.ErrOutOfMemory
	}
	m.term = 1
	m.entries = append(m.entries, raft.Entry{Term: 1, Type: raft.EntryConfiguration, Payload: raft.EncodeConfiguration(cfg)})
	return nil
}

func (m *memIO) SetTerm(term uint64, cb raft.TermCallback) {
	m.pending = append(m.pending, pendingWrite{run: func() {
		m.term = term
		m.votedFor = 0
		cb(nil)
	}})
}

func (m *memIO) SetVote(serverID uint64, cb raft.VoteCallback) {
	m.pending = append(m.pending, pendingWrite{run: func() {
		m.votedFor = serverID
		cb(nil)
	}})
}

func (m *memIO) Append(entries []raft.Entry, cb raft.AppendCallback) {
	copies := make([]raft.Entry, len(entries))
	copy(copies, entries)
	m.pending = append(m.pending, pendingWrite{run: func() {
		m.entries = append(m.entries, copies...)
		cb(nil)
	}})
}

func (m *memIO) Truncate(index uint64, cb raft.TruncateCallback) {
	m.pending = append(m.pending, pendingWrite{run: func() {
		if index > m.offset {
			keep := int(index - m.offset - 1)
			if keep < len(m.entries) {
				m.entries = m.entries[:keep]
			}
		}
		cb(nil)
	}})
}

func (m *memIO) SnapshotPut(req raft.SnapshotRequest, snapshot *raft.Snapshot, cb raft.SnapshotPutCallback) {
	m.pending = append(m.pending, pendingWrite{run: func() {
		m.snapshot = snapshot
		if snapshot.Index > m.offset {
			drop := int(snapshot.Index - m.offset)
			if drop > len(m.entries) {
				drop = len(m.entries)
			}
			m.entries = append([]raft.Entry{}, m.entries[drop:]...)
			m.offset = snapshot.Index
		}
		cb(nil)
	}})
}

func (m *memIO) SnapshotGet(req raft.SnapshotRequest, cb raft.SnapshotGetCallback) {
	m.pending = append(m.pending, pendingWrite{run: func() {
		cb(m.snapshot, nil)
	}})
}

// Send hands the message to the cluster's transport, which applies
// partitioning and a randomized delivery latency; ownership transfer
// (the callback) always fires immediately, matching IO.Send's contract.
func (m *memIO) Send(req raft.SendRequest, msg raft.Message, cb raft.SendCallback) {
	m.cluster.enqueueMessage(m.index, msg, m.randomLatency())
	cb(nil)
}

func (m *memIO) randomLatency() int64 {
	return m.Random(m.latMin, m.latMax+1)
}

func (m *memIO) Time() int64 {
	return m.cluster.time
}

func (m *memIO) Random(low, high int64) int64 {
	if m.randomFn != nil {
		return m.randomFn(low, high)
	}
	if high <= low {
		return low
	}
	return low + m.cluster.rnd.Int63n(high-low)
}

func (m *memIO) RegisterTick(fn func(elapsedMS int64)) {
	m.tickFn = fn
}

func (m *memIO) RegisterReceive(fn func(msg raft.Message)) {
	m.receiveFn = fn
}

func (m *memIO) flush() {
	pending := m.pending
	m.pending = nil
	for _, w := range pending {
		w.run()
	}
}

// newRand is split out so Cluster can seed it deterministically from a
// fixed value by default, keeping fixture-driven tests reproducible.
func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
