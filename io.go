package raft

import "context"

// Snapshot is the payload and metadata of a point-in-time FSM capture.
type Snapshot struct {
	Index             uint64
	Term              uint64
	Configuration     Configuration
	ConfigurationIndex uint64
	Data              [][]byte
}

// SnapshotRequest correlates a SnapshotPut/SnapshotGet call with its
// completion callback; Go's IO implementations use it the way the C
// library keys pending requests off a struct pointer.
type SnapshotRequest struct {
	ID string
}

// SendRequest correlates an IO.Send call with its completion callback.
type SendRequest struct {
	ID string
}

// RequestVote is sent by a candidate soliciting a vote.
type RequestVote struct {
	Term            uint64
	CandidateID     uint64
	LastLogIndex    uint64
	LastLogTerm     uint64
	ServerID        uint64
	ServerAddress   string
}

// RequestVoteResult answers a RequestVote. ResponderID identifies the
// voter that sent it; ServerID/ServerAddress are the destination
// routing fields IO.Send needs to reach the original candidate.
type RequestVoteResult struct {
	Term          uint64
	VoteGranted   bool
	ResponderID   uint64
	ServerID      uint64
	ServerAddress string
}

// AppendEntries is sent by the leader to replicate (or, with no
// Entries, to heartbeat) the log.
type AppendEntries struct {
	Term          uint64
	LeaderID      uint64
	LeaderAddress string
	PrevLogIndex  uint64
	PrevLogTerm   uint64
	Entries       []Entry
	LeaderCommit  uint64
	ServerID      uint64
	ServerAddress string
}

// AppendEntriesResult answers an AppendEntries or an InstallSnapshot.
// ResponderID identifies the follower that sent it; ServerID/
// ServerAddress are the destination routing fields IO.Send needs to
// reach the leader.
type AppendEntriesResult struct {
	Term          uint64
	Success       bool
	LastLogIndex  uint64
	ResponderID   uint64
	ServerID      uint64
	ServerAddress string
}

// InstallSnapshot is sent by the leader when a follower has fallen
// behind the leader's compaction window.
type InstallSnapshot struct {
	Term              uint64
	LeaderID          uint64
	LeaderAddress     string
	LastIndex         uint64
	LastTerm          uint64
	ConfIndex         uint64
	Configuration     Configuration
	Data              [][]byte
	ServerID          uint64
	ServerAddress     string
}

// Message is the envelope the dispatcher routes; exactly one of the
// typed fields is non-nil.
type Message struct {
	RequestVote          *RequestVote
	RequestVoteResult    *RequestVoteResult
	AppendEntries        *AppendEntries
	AppendEntriesResult  *AppendEntriesResult
	InstallSnapshot      *InstallSnapshot
	InstallSnapshotResult *AppendEntriesResult
}

// Completion callback signatures. An IO implementation may invoke these
// synchronously (before the call that registered them returns) or
// later, from any goroutine, as long as it then funnels delivery
// through the tick/receive path the engine registered via
// RegisterTick/RegisterReceive so the engine only ever observes
// completions on its single logical thread.
type (
	TermCallback        func(err error)
	VoteCallback        func(err error)
	AppendCallback      func(err error)
	TruncateCallback    func(err error)
	SnapshotPutCallback func(err error)
	SnapshotGetCallback func(snapshot *Snapshot, err error)
	SendCallback        func(err error)
)

// IO is the capability set the consensus core consumes: durable term
// and vote, append/truncate of the log, snapshot read/write, message
// send, and a clock. Two implementations are expected: a production,
// disk-backed one, and the deterministic in-memory one in package
// fixture.
type IO interface {
	// Load returns the persisted state at startup: current term, the
	// server id last voted for in that term (0 if none), the latest
	// snapshot if any, and every log entry following it.
	Load(ctx context.Context) (term uint64, votedFor uint64, snapshot *Snapshot, entries []Entry, err error)

	// Bootstrap durably writes the initial configuration entry. It
	// fails if any state has already been persisted.
	Bootstrap(cfg Configuration) error

	// SetTerm durably persists the current term.
	SetTerm(term uint64, cb TermCallback)
	// SetVote durably persists the id voted for in the current term (0
	// clears it).
	SetVote(serverID uint64, cb VoteCallback)

	// Append durably persists entries starting at the log's previous
	// LastIndex()+1. Two Append callbacks for the same instance
	// complete in submission order.
	Append(entries []Entry, cb AppendCallback)
	// Truncate discards persisted entries with index >= index.
	Truncate(index uint64, cb TruncateCallback)

	// SnapshotPut writes snapshot as the latest snapshot.
	SnapshotPut(req SnapshotRequest, snapshot *Snapshot, cb SnapshotPutCallback)
	// SnapshotGet reads the latest snapshot.
	SnapshotGet(req SnapshotRequest, cb SnapshotGetCallback)

	// Send takes ownership of msg for delivery to the server described
	// by req/msg's routing fields; cb fires once the transport has
	// taken ownership, not once the peer has received it.
	Send(req SendRequest, msg Message, cb SendCallback)

	// Time returns a monotonic clock reading in milliseconds.
	Time() int64
	// Random returns a value in [low, high).
	Random(low, high int64) int64

	// RegisterTick installs the callback the engine wants invoked on
	// every timer tick, receiving the elapsed milliseconds.
	RegisterTick(fn func(elapsedMS int64))
	// RegisterReceive installs the callback the engine wants invoked
	// whenever a message addressed to this server arrives.
	RegisterReceive(fn func(msg Message))
}
