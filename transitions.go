package raft

import "github.com/brauner/raft/pkg/log"

// becomeFollower converts to FOLLOWER at the given term. leaderID/addr
// may be zero/empty if the leader is not (yet) known. Any leader or
// candidate state is discarded; pending leader apply requests are
// failed.
func (r *Raft) becomeFollower(term uint64, leaderID uint64, leaderAddress string) {
	from := r.role
	if r.role == RoleLeader {
		for _, req := range r.leader.applyReqs {
			req.cb(nil, ErrNotLeader)
		}
		r.leader = leaderState{}
	}
	r.candidate = candidateState{}
	r.role = RoleFollower
	r.follower = followerState{currentLeaderID: leaderID, currentLeaderAddress: leaderAddress}
	r.currentTerm = term
	r.timer = 0
	r.resetElectionTimer()
	if from != r.role {
		r.publish(Observation{Kind: ObservationRoleChange})
	}
	if leaderID != 0 {
		r.publish(Observation{Kind: ObservationLeaderChange, LeaderID: leaderID})
	}
}

// becomeCandidate converts to CANDIDATE and starts the election by
// calling startElection, returning its error.
func (r *Raft) becomeCandidate() error {
	r.role = RoleCandidate
	r.follower = followerState{}
	n := r.configuration.NVoting()
	r.candidate = candidateState{votes: make([]bool, n)}
	r.publish(Observation{Kind: ObservationRoleChange})
	return r.startElection()
}

// becomeLeader converts to LEADER. Every peer's replication progress
// is (re)initialized to PROBE with next_index = last_log_index+1, and
// an immediate empty heartbeat is sent to assert leadership.
func (r *Raft) becomeLeader() {
	r.role = RoleLeader
	r.candidate = candidateState{}
	lastIndex, _ := r.lastLogIndexAndTerm()
	progress := make(map[uint64]*peerProgress, len(r.configuration.Servers))
	now := r.io.Time()
	for _, s := range r.configuration.Servers {
		if s.ID == r.id {
			continue
		}
		progress[s.ID] = &peerProgress{
			nextIndex:   lastIndex + 1,
			matchIndex:  0,
			lastContact: now,
			state:       progressProbe,
		}
	}
	r.leader = leaderState{progress: progress}
	r.timer = 0
	log.WithServerID(r.id).Info().Uint64("term", r.currentTerm).Msg("became leader")
	r.publish(Observation{Kind: ObservationRoleChange})
	r.publish(Observation{Kind: ObservationLeaderChange, LeaderID: r.id})
	r.triggerReplication(0)
}

func (r *Raft) resetElectionTimer() {
	r.electionTimeoutRand = r.electionTimeout + r.io.Random(0, r.electionTimeout)
	r.timer = 0
}
