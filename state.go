package raft

// Role is the closed set of states a Raft instance can be in. Unlike an
// inheritance hierarchy, the set never grows; each role's data lives in
// its own struct and only one is live at a time.
type Role uint8

const (
	RoleUnavailable Role = iota
	RoleFollower
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unavailable"
	}
}

// followerState is live only while Role == RoleFollower.
type followerState struct {
	currentLeaderID      uint64
	currentLeaderAddress string
}

// candidateState is live only while Role == RoleCandidate. votes is
// indexed by VotingIndex, sized to the number of voting servers at the
// moment the election started.
type candidateState struct {
	votes []bool
}

// replicationProgress is PROBE (searching for the divergence point),
// PIPELINE (steady bulk send), or SNAPSHOT (peer is behind the
// compaction window, catching up via InstallSnapshot).
type replicationProgress uint8

const (
	progressProbe replicationProgress = iota
	progressPipeline
	progressSnapshot
)

// peerProgress is the leader's view of one peer's replication state.
type peerProgress struct {
	nextIndex   uint64
	matchIndex  uint64
	lastContact int64
	state       replicationProgress
	// pending holds outstanding Send calls not yet completed, oldest
	// first, for the bounded per-peer outbound queue (spec.md §5
	// Backpressure).
	pending []*sendToken
}

// promotionContext tracks a non-voting server being caught up before it
// is promoted to voting.
type promotionContext struct {
	promoteeID    uint64
	roundNumber   int
	roundIndex    uint64 // leader's last index when this round started
	roundDuration int64  // ms elapsed in the current round
	totalElapsed  int64  // ms elapsed since the promotion began
	// promoteCB is invoked once, either when the promotion's
	// configuration change is submitted for replication or when the
	// catch-up gives up (too slow or unresponsive).
	promoteCB func(error)
}

// applyRequest is a pending client Apply call awaiting commit.
type applyRequest struct {
	index uint64
	cb    func(result interface{}, err error)
}

// leaderState is live only while Role == RoleLeader.
type leaderState struct {
	progress  map[uint64]*peerProgress
	applyReqs []*applyRequest
	promotion *promotionContext
}
