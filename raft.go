package raft

import (
	"context"
	"fmt"
	"math"

	"github.com/brauner/raft/pkg/log"
)

// Observer receives Observation values published from the tick,
// dispatch, and commit paths. A nil Observer is a valid, silent no-op;
// package observe provides a concrete pub/sub Broker.
type Observer interface {
	Observe(Observation)
}

// Observation is one event worth telling an embedder about.
type Observation struct {
	Kind         ObservationKind
	Term         uint64
	Role         Role
	LeaderID     uint64
	CommitIndex  uint64
}

// ObservationKind discriminates Observation.
type ObservationKind uint8

const (
	ObservationRoleChange ObservationKind = iota
	ObservationLeaderChange
	ObservationCommitAdvance
)

// Config configures a new Raft instance. Zero values for the timeouts
// and thresholds are replaced with the package defaults.
type Config struct {
	ID       uint64
	Address  string

	ElectionTimeoutMS    int64
	HeartbeatTimeoutMS   int64
	LostContactMS        int64
	SnapshotThreshold    uint64
	SnapshotTrailing     uint64
	MaxCatchUpRounds     int
	MaxCatchUpDurationMS int64
	SendQueueSize        int

	Observer Observer
}

const (
	defaultElectionTimeoutMS    = 1000
	defaultHeartbeatTimeoutMS   = 100
	defaultLostContactMS        = 5000
	defaultSnapshotThreshold    = 1024
	defaultSnapshotTrailing     = 100
	defaultMaxCatchUpRounds     = 10
	defaultMaxCatchUpDurationMS = 30000
	defaultSendQueueSize        = 3
)

func (c *Config) setDefaults() {
	if c.ElectionTimeoutMS == 0 {
		c.ElectionTimeoutMS = defaultElectionTimeoutMS
	}
	if c.HeartbeatTimeoutMS == 0 {
		c.HeartbeatTimeoutMS = defaultHeartbeatTimeoutMS
	}
	if c.LostContactMS == 0 {
		c.LostContactMS = defaultLostContactMS
	}
	if c.SnapshotThreshold == 0 {
		c.SnapshotThreshold = defaultSnapshotThreshold
	}
	if c.SnapshotTrailing == 0 {
		c.SnapshotTrailing = defaultSnapshotTrailing
	}
	if c.MaxCatchUpRounds == 0 {
		c.MaxCatchUpRounds = defaultMaxCatchUpRounds
	}
	if c.MaxCatchUpDurationMS == 0 {
		c.MaxCatchUpDurationMS = defaultMaxCatchUpDurationMS
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
}

// Raft is a single consensus instance. All exported methods must be
// called from a single logical thread of execution; see the package
// doc for the concurrency model.
type Raft struct {
	id      uint64
	address string
	io      IO
	fsm     FSM
	obs     Observer

	log           *Log
	configuration Configuration
	// configurationUncommittedIndex is the index of an appended but not
	// yet committed CONFIGURATION entry, or 0 if none is outstanding.
	configurationUncommittedIndex uint64

	currentTerm uint64
	votedFor    uint64
	snapshot    *Snapshot

	commitIndex uint64
	lastApplied uint64
	lastStored  uint64

	role      Role
	follower  followerState
	candidate candidateState
	leader    leaderState

	timer               int64
	electionTimeout     int64
	electionTimeoutRand int64
	heartbeatTimeout    int64
	lostContactMS       int64

	snapshotThreshold    uint64
	snapshotTrailing     uint64
	maxCatchUpRounds     int
	maxCatchUpDurationMS int64
	sendQueueSize        int

	snapshotInFlight bool
	closed           bool
}

// New constructs a Raft instance in the UNAVAILABLE state. Call Start to
// load persisted state and begin participating.
func New(cfg Config, io IO, fsm FSM) *Raft {
	cfg.setDefaults()
	r := &Raft{
		id:                   cfg.ID,
		address:              cfg.Address,
		io:                   io,
		fsm:                  fsm,
		obs:                  cfg.Observer,
		role:                 RoleUnavailable,
		electionTimeout:      cfg.ElectionTimeoutMS,
		heartbeatTimeout:     cfg.HeartbeatTimeoutMS,
		lostContactMS:        cfg.LostContactMS,
		snapshotThreshold:    cfg.SnapshotThreshold,
		snapshotTrailing:     cfg.SnapshotTrailing,
		maxCatchUpRounds:     cfg.MaxCatchUpRounds,
		maxCatchUpDurationMS: cfg.MaxCatchUpDurationMS,
		sendQueueSize:        cfg.SendQueueSize,
	}
	return r
}

// Bootstrap persists the initial configuration entry through IO. It may
// only be called once, before Start, on a server with no persisted
// state.
func (r *Raft) Bootstrap(cfg Configuration) error {
	return r.io.Bootstrap(cfg)
}

// Start loads persisted state and transitions the instance to FOLLOWER.
func (r *Raft) Start(ctx context.Context) error {
	term, votedFor, snapshot, entries, err := r.io.Load(ctx)
	if err != nil {
		return fmt.Errorf("raft: load: %w", err)
	}

	r.currentTerm = term
	r.votedFor = votedFor
	r.snapshot = snapshot

	offset := uint64(0)
	if snapshot != nil {
		offset = snapshot.Index
		r.configuration = snapshot.Configuration.Clone()
		r.configurationUncommittedIndex = 0
		r.commitIndex = snapshot.Index
		r.lastApplied = snapshot.Index
		r.lastStored = snapshot.Index
	}
	r.log = NewLog(offset)
	for _, e := range entries {
		idx := r.log.Append(e.Term, e.Type, e.Payload, e.batch)
		if e.Type == EntryConfiguration {
			if cfg, ok := decodeConfiguration(e.Payload); ok {
				r.configuration = cfg
				r.configurationUncommittedIndex = idx
			}
		}
		r.lastStored = idx
	}
	// The bootstrap configuration entry at index 1 is committed from the
	// start on every server that holds it.
	if snapshot == nil && len(entries) > 0 && entries[0].Type == EntryConfiguration {
		r.commitIndex = 1
		r.lastApplied = 1
		if r.configurationUncommittedIndex == 1 {
			r.configurationUncommittedIndex = 0
		}
	}

	r.io.RegisterTick(r.onTick)
	r.io.RegisterReceive(r.onReceive)

	r.becomeFollower(r.currentTerm, 0, "")
	log.WithServerID(r.id).Info().Uint64("term", r.currentTerm).Msg("raft instance started")
	return nil
}

// Close moves the instance to UNAVAILABLE. Outstanding IO completions
// still fire but their handlers short-circuit once closed is true; any
// pending apply requests are rejected with ErrIOCanceled.
func (r *Raft) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.role = RoleUnavailable
	if r.leader.applyReqs != nil {
		for _, req := range r.leader.applyReqs {
			req.cb(nil, ErrIOCanceled)
		}
		r.leader.applyReqs = nil
	}
}

// State returns the current role.
func (r *Raft) State() Role { return r.role }

// Term returns the current term.
func (r *Raft) Term() uint64 { return r.currentTerm }

// CommitIndex returns the highest index known committed.
func (r *Raft) CommitIndex() uint64 { return r.commitIndex }

// LastApplied returns the highest index applied to the FSM.
func (r *Raft) LastApplied() uint64 { return r.lastApplied }

// LastIndex returns the highest index in the in-memory log (or the
// snapshot index if the log is empty).
func (r *Raft) LastIndex() uint64 {
	idx, _ := r.lastLogIndexAndTerm()
	return idx
}

// LeaderID returns the id this server currently believes is leader, 0
// if unknown. When this server is itself leader, it returns its own id.
func (r *Raft) LeaderID() uint64 {
	switch r.role {
	case RoleLeader:
		return r.id
	case RoleFollower:
		return r.follower.currentLeaderID
	default:
		return 0
	}
}

// ID returns this server's id.
func (r *Raft) ID() uint64 { return r.id }

// Configuration returns a copy of the current configuration.
func (r *Raft) Configuration() Configuration { return r.configuration.Clone() }

// EntryAt returns the in-memory log entry at index, for test harnesses
// that need to verify safety properties (e.g. Leader Append-Only)
// against the live log rather than re-deriving it from IO.
func (r *Raft) EntryAt(index uint64) (Entry, bool) { return r.log.Get(index) }

// NextTimeoutMS reports how many milliseconds remain until this
// server's own next timer-driven deadline: the election timeout while
// follower or candidate, the heartbeat timeout while leader. A stopped
// instance, or a non-voting follower that never starts an election on
// its own, has no such deadline and reports a value large enough to
// never govern an event-driven scheduler picking the minimum across a
// whole cluster (see fixture.Cluster.Step).
func (r *Raft) NextTimeoutMS() int64 {
	if r.closed {
		return math.MaxInt64
	}
	switch r.role {
	case RoleFollower:
		local := r.configuration.Get(r.id)
		if local == nil || !local.Voting {
			return math.MaxInt64
		}
		return remainingMS(r.electionTimeoutRand, r.timer)
	case RoleCandidate:
		return remainingMS(r.electionTimeoutRand, r.timer)
	case RoleLeader:
		return remainingMS(r.heartbeatTimeout, r.timer)
	default:
		return math.MaxInt64
	}
}

func remainingMS(deadline, elapsed int64) int64 {
	if d := deadline - elapsed; d > 0 {
		return d
	}
	return 0
}

// lastLogIndexAndTerm returns the last index/term taking the snapshot
// boundary into account (see election.c's local_last_index_and_term,
// SPEC_FULL §3).
func (r *Raft) lastLogIndexAndTerm() (uint64, uint64) {
	index := r.log.LastIndex()
	term := r.log.LastTerm()
	if r.snapshot != nil && r.snapshot.Term != 0 {
		if index == 0 {
			return r.snapshot.Index, r.snapshot.Term
		}
	}
	return index, term
}

func (r *Raft) publish(o Observation) {
	if r.obs != nil {
		o.Term = r.currentTerm
		o.Role = r.role
		o.CommitIndex = r.commitIndex
		r.obs.Observe(o)
	}
}

// Apply submits a command to be replicated and, once committed, applied
// to the FSM. cb is invoked exactly once, either when the command
// commits or when it is dropped (e.g. leadership lost, instance
// closed).
func (r *Raft) Apply(payload []byte, cb func(result interface{}, err error)) error {
	if r.closed {
		return ErrUnavailable
	}
	if r.role != RoleLeader {
		return ErrNotLeader
	}
	index := r.log.Append(r.currentTerm, EntryCommand, payload, nil)
	if cb != nil {
		r.leader.applyReqs = append(r.leader.applyReqs, &applyRequest{index: index, cb: cb})
	}
	r.persistAndReplicate(index)
	return nil
}

// persistAndReplicate submits the newly appended local entries (from
// index onward) to storage and triggers replication to every peer. It
// is shared by Apply and by membership's configuration-change paths.
func (r *Raft) persistAndReplicate(index uint64) {
	entries, n := r.log.Acquire(index)
	if n > 0 {
		r.io.Append(entries, func(err error) {
			r.log.Release(index, n)
			if err != nil {
				log.WithServerID(r.id).Error().Err(err).Msg("leader append failed, stepping down")
				if r.role == RoleLeader {
					r.becomeFollower(r.currentTerm, 0, "")
				}
				return
			}
			if index > r.lastStored {
				r.lastStored = index + uint64(n) - 1
			}
			r.maybeAdvanceCommit()
		})
	}
	r.triggerReplication(index)
}
