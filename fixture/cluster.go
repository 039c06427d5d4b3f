package fixture

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"github.com/brauner/raft"
)

const defaultTickQuantumMS = 15
const defaultSnapshotThreshold = 1024
const defaultSnapshotTrailing = 100

// fixtureRaftConfig gives every fixture server tight timeouts so
// scenarios converge in a handful of virtual-time steps instead of the
// library's production defaults, which are tuned for real networks.
// snapshotThreshold and snapshotTrailing are parameters (rather than
// fixed constants) so scenario tests can force log compaction, and
// control how much of the log survives it, without needing thousands
// of Apply calls to cross the production defaults.
func fixtureRaftConfig(id uint64, address string, snapshotThreshold, snapshotTrailing uint64) raft.Config {
	return raft.Config{
		ID:                   id,
		Address:              address,
		ElectionTimeoutMS:    100,
		HeartbeatTimeoutMS:   10,
		LostContactMS:        500,
		SnapshotThreshold:    snapshotThreshold,
		SnapshotTrailing:     snapshotTrailing,
		MaxCatchUpRounds:     10,
		MaxCatchUpDurationMS: 3000,
		SendQueueSize:        3,
	}
}

type fixtureServer struct {
	id      uint64
	address string
	alive   bool
	io      *memIO
	raft    *raft.Raft
	fsm     raft.FSM
}

type queuedMessage struct {
	from, to  int
	msg       raft.Message
	deliverAt int64
}

// Cluster drives N raft.Raft instances against a shared in-memory
// transport and virtual clock. Every call to Step (or the StepUntil*
// helpers built on it) is the only way time passes; nothing here spawns
// a goroutine or touches the wall clock.
type Cluster struct {
	time        int64
	tickQuantum int64
	rnd         *rand.Rand

	servers   []*fixtureServer
	connected [][]bool
	queue     []queuedMessage

	deposeTarget      int // index of a leader whose AppendEntriesResult messages are being dropped, or -1
	snapshotThreshold uint64
	snapshotTrailing  uint64

	checker *checker
}

// NewCluster creates a cluster of len(fsms) servers, all connected to
// one another, none bootstrapped or started yet.
func NewCluster(fsms []raft.FSM) *Cluster {
	n := len(fsms)
	c := &Cluster{
		tickQuantum:       defaultTickQuantumMS,
		rnd:               newRand(1),
		connected:         make([][]bool, n),
		deposeTarget:      -1,
		snapshotThreshold: defaultSnapshotThreshold,
		snapshotTrailing:  defaultSnapshotTrailing,
		checker:           newChecker(),
	}
	for i := 0; i < n; i++ {
		c.connected[i] = make([]bool, n)
		for j := range c.connected[i] {
			c.connected[i][j] = true
		}
	}
	for i, fsm := range fsms {
		id := uint64(i + 1)
		address := strconv.Itoa(i + 1)
		io := newMemIO(c, i)
		s := &fixtureServer{id: id, address: address, alive: true, io: io, fsm: fsm}
		s.raft = raft.New(fixtureRaftConfig(id, address, c.snapshotThreshold, c.snapshotTrailing), io, fsm)
		c.servers = append(c.servers, s)
	}
	return c
}

// SetSnapshotCompaction overrides the log-compaction threshold and
// trailing-entry count used for every server, rebuilding each one's
// Raft instance in place. Call this immediately after NewCluster,
// before Bootstrap, so scenario tests can force snapshot compaction
// (and make it actually evict a lagging peer's overlap) without
// needing thousands of Applies to cross the production defaults.
func (c *Cluster) SetSnapshotCompaction(threshold, trailing uint64) {
	c.snapshotThreshold = threshold
	c.snapshotTrailing = trailing
	for _, s := range c.servers {
		s.raft = raft.New(fixtureRaftConfig(s.id, s.address, threshold, trailing), s.io, s.fsm)
	}
}

// Configuration returns a Configuration listing every server in the
// cluster, with the first nVoting of them marked voting.
func (c *Cluster) Configuration(nVoting int) raft.Configuration {
	cfg := raft.Configuration{}
	for i, s := range c.servers {
		cfg.Servers = append(cfg.Servers, raft.Server{ID: s.id, Address: s.address, Voting: i < nVoting})
	}
	return cfg
}

// Bootstrap persists cfg as the initial configuration on every server.
func (c *Cluster) Bootstrap(cfg raft.Configuration) error {
	for _, s := range c.servers {
		if err := s.raft.Bootstrap(cfg); err != nil {
			return fmt.Errorf("fixture: bootstrap server %d: %w", s.id, err)
		}
	}
	return nil
}

// Start starts every server.
func (c *Cluster) Start() error {
	for _, s := range c.servers {
		if err := s.raft.Start(context.Background()); err != nil {
			return fmt.Errorf("fixture: start server %d: %w", s.id, err)
		}
	}
	return nil
}

// N returns the number of servers in the cluster.
func (c *Cluster) N() int { return len(c.servers) }

// Get returns the i'th server's Raft instance.
func (c *Cluster) Get(i int) *raft.Raft { return c.servers[i].raft }

// Alive reports whether the i'th server has not been killed.
func (c *Cluster) Alive(i int) bool { return c.servers[i].alive }

// Violations returns every safety-property violation recorded so far.
func (c *Cluster) Violations() []string { return c.checker.Violations }

// LeaderIndex returns the index of the current leader, or N() if there
// is none.
func (c *Cluster) LeaderIndex() int {
	for i, s := range c.servers {
		if s.alive && s.raft.State() == raft.RoleLeader {
			return i
		}
	}
	return len(c.servers)
}

func (c *Cluster) indexForID(id uint64) int {
	for i, s := range c.servers {
		if s.id == id {
			return i
		}
	}
	return -1
}

// Step advances the cluster state by the minimum amount of virtual time
// needed for it to make progress: queued writes are flushed first
// (simulating disk/send completion), then time advances to the earlier
// of the next message's delivery time or the next server's own timer
// deadline (election or heartbeat timeout), then at most the single
// earliest-due message is delivered, then every live server is ticked
// by the elapsed delta, and finally the safety checker runs.
func (c *Cluster) Step() {
	for _, s := range c.servers {
		s.io.flush()
	}

	delta := c.nextEventDelta()
	c.time += delta

	if i := c.earliestDueMessage(); i >= 0 {
		m := c.queue[i]
		c.queue = append(c.queue[:i:i], c.queue[i+1:]...)
		to := c.servers[m.to]
		if to.alive && c.connected[m.from][m.to] && !c.dropsForDepose(m) {
			to.io.receiveFn(m.msg)
		}
	}

	for _, s := range c.servers {
		if s.alive && s.io.tickFn != nil {
			s.io.tickFn(delta)
		}
	}
	c.checker.observe(c)
}

// nextEventDelta returns the minimum of every queued message's
// remaining delivery time and every live server's NextTimeoutMS, i.e.
// exactly how far Step must advance the virtual clock for some event
// (a delivery or a timeout) to become due. When nothing is pending at
// all (e.g. before any server has started), it falls back to
// tickQuantum so the clock still advances.
func (c *Cluster) nextEventDelta() int64 {
	delta := int64(-1)
	consider := func(d int64) {
		if d == math.MaxInt64 {
			// No deadline of its own (stopped, or never started) -
			// never the event that governs the schedule.
			return
		}
		if d < 0 {
			d = 0
		}
		if delta == -1 || d < delta {
			delta = d
		}
	}
	for _, m := range c.queue {
		consider(m.deliverAt - c.time)
	}
	for _, s := range c.servers {
		if s.alive {
			consider(s.raft.NextTimeoutMS())
		}
	}
	if delta == -1 {
		delta = c.tickQuantum
	}
	return delta
}

// earliestDueMessage returns the queue index of the message with the
// lowest deliverAt that is now due, or -1 if none is due.
func (c *Cluster) earliestDueMessage() int {
	best := -1
	for i, m := range c.queue {
		if m.deliverAt > c.time {
			continue
		}
		if best == -1 || m.deliverAt < c.queue[best].deliverAt {
			best = i
		}
	}
	return best
}

func (c *Cluster) dropsForDepose(m queuedMessage) bool {
	return c.deposeTarget == m.to && m.msg.AppendEntriesResult != nil
}

// StepUntil steps the cluster until stop returns true or maxMsecs have
// elapsed, returning whether stop was satisfied in time.
func (c *Cluster) StepUntil(stop func(*Cluster) bool, maxMsecs int64) bool {
	deadline := c.time + maxMsecs
	for !stop(c) {
		if c.time >= deadline {
			return stop(c)
		}
		c.Step()
	}
	return true
}

// StepUntilElapsed steps the cluster until msecs of virtual time have
// passed.
func (c *Cluster) StepUntilElapsed(msecs int64) {
	deadline := c.time + msecs
	for c.time < deadline {
		c.Step()
	}
}

// StepUntilHasLeader steps until some server becomes leader.
func (c *Cluster) StepUntilHasLeader(maxMsecs int64) bool {
	return c.StepUntil(func(c *Cluster) bool { return c.LeaderIndex() < c.N() }, maxMsecs)
}

// StepUntilHasNoLeader steps until no server is leader.
func (c *Cluster) StepUntilHasNoLeader(maxMsecs int64) bool {
	return c.StepUntil(func(c *Cluster) bool { return c.LeaderIndex() == c.N() }, maxMsecs)
}

// StepUntilApplied steps until the i'th server (or, if i == N(), every
// server) has applied the entry at index.
func (c *Cluster) StepUntilApplied(i int, index uint64, maxMsecs int64) bool {
	check := func(c *Cluster) bool {
		if i < c.N() {
			return c.servers[i].raft.LastApplied() >= index
		}
		for _, s := range c.servers {
			if s.raft.LastApplied() < index {
				return false
			}
		}
		return true
	}
	return c.StepUntil(check, maxMsecs)
}

// Elect drives the cluster so the i'th server is elected leader: every
// other server is held from ticking (so none of them can also start an
// election) while i alone is ticked hard enough to time out and run.
func (c *Cluster) Elect(i int) bool {
	const maxIters = 20000
	if c.LeaderIndex() == i {
		return true
	}
	for iter := 0; iter < maxIters; iter++ {
		for _, s := range c.servers {
			s.io.flush()
		}
		c.time += c.tickQuantum

		remaining := c.queue[:0]
		for _, m := range c.queue {
			if m.deliverAt > c.time {
				remaining = append(remaining, m)
				continue
			}
			to := c.servers[m.to]
			if to.alive && c.connected[m.from][m.to] {
				to.io.receiveFn(m.msg)
			}
		}
		c.queue = remaining

		for idx, s := range c.servers {
			if !s.alive || s.io.tickFn == nil {
				continue
			}
			if idx == i {
				s.io.tickFn(2 * defaultElectionTimeoutHintMS)
			} else {
				s.io.tickFn(0)
			}
		}
		c.checker.observe(c)

		if c.LeaderIndex() == i {
			return true
		}
	}
	return false
}

// defaultElectionTimeoutHintMS only needs to exceed
// fixtureRaftConfig's election timeout (including jitter, up to 2x)
// so Elect's forced tick always crosses it.
const defaultElectionTimeoutHintMS = 300

// Depose drives the cluster so the current leader steps down, by
// dropping every AppendEntriesResult addressed to it until it notices
// it has lost contact with a majority.
func (c *Cluster) Depose() bool {
	leader := c.LeaderIndex()
	if leader == c.N() {
		return false
	}
	c.deposeTarget = leader
	defer func() { c.deposeTarget = -1 }()

	const maxIters = 20000
	for iter := 0; iter < maxIters; iter++ {
		c.Step()
		if c.LeaderIndex() != leader {
			return true
		}
	}
	return false
}

// Connected reports whether servers i and j can currently exchange
// messages.
func (c *Cluster) Connected(i, j int) bool { return c.connected[i][j] }

// Disconnect partitions i and j from one another; messages already in
// flight between them are unaffected, but no new ones will be
// delivered.
func (c *Cluster) Disconnect(i, j int) {
	c.connected[i][j] = false
	c.connected[j][i] = false
}

// Reconnect undoes Disconnect.
func (c *Cluster) Reconnect(i, j int) {
	c.connected[i][j] = true
	c.connected[j][i] = true
}

// Kill stops the i'th server from receiving messages or being ticked.
func (c *Cluster) Kill(i int) {
	c.servers[i].alive = false
}

// Grow adds a new, not-yet-started server to the cluster, connected to
// every existing one.
func (c *Cluster) Grow(fsm raft.FSM) int {
	i := len(c.servers)
	id := uint64(i + 1)
	address := strconv.Itoa(i + 1)
	io := newMemIO(c, i)
	s := &fixtureServer{id: id, address: address, alive: true, io: io, fsm: fsm}
	s.raft = raft.New(fixtureRaftConfig(id, address, c.snapshotThreshold, c.snapshotTrailing), io, fsm)
	c.servers = append(c.servers, s)

	for idx := range c.connected {
		c.connected[idx] = append(c.connected[idx], true)
	}
	row := make([]bool, len(c.servers))
	for idx := range row {
		row[idx] = true
	}
	c.connected = append(c.connected, row)
	return i
}

// SetRandom overrides the i'th server's source of randomness (election
// timeout jitter, send latency), for tests that need specific timing.
func (c *Cluster) SetRandom(i int, fn func(low, high int64) int64) {
	c.servers[i].io.randomFn = fn
}

// SetLatency sets the i'th server's outbound message latency range, in
// milliseconds.
func (c *Cluster) SetLatency(i int, min, max int64) {
	c.servers[i].io.latMin = min
	c.servers[i].io.latMax = max
}

// SetTerm overwrites the i'th server's persisted term before Start.
func (c *Cluster) SetTerm(i int, term uint64) {
	c.servers[i].io.term = term
}

// SetSnapshot overwrites the i'th server's persisted snapshot before
// Start.
func (c *Cluster) SetSnapshot(i int, snapshot *raft.Snapshot) {
	c.servers[i].io.snapshot = snapshot
}

// SetEntries overwrites the i'th server's persisted log entries before
// Start.
func (c *Cluster) SetEntries(i int, entries []raft.Entry) {
	c.servers[i].io.entries = entries
}

func (c *Cluster) enqueueMessage(from int, msg raft.Message, latency int64) {
	to := c.indexForID(messageDestination(msg))
	if to < 0 {
		return
	}
	c.queue = append(c.queue, queuedMessage{from: from, to: to, msg: msg, deliverAt: c.time + latency})
}

func messageDestination(msg raft.Message) uint64 {
	switch {
	case msg.RequestVote != nil:
		return msg.RequestVote.ServerID
	case msg.RequestVoteResult != nil:
		return msg.RequestVoteResult.ServerID
	case msg.AppendEntries != nil:
		return msg.AppendEntries.ServerID
	case msg.AppendEntriesResult != nil:
		return msg.AppendEntriesResult.ServerID
	case msg.InstallSnapshot != nil:
		return msg.InstallSnapshot.ServerID
	case msg.InstallSnapshotResult != nil:
		return msg.InstallSnapshotResult.ServerID
	}
	return 0
}
