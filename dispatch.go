package raft

import "github.com/brauner/raft/pkg/log"

// onReceive is registered with IO.RegisterReceive and routes every
// inbound message to its handler. Exactly one field of msg is set.
func (r *Raft) onReceive(msg Message) {
	if r.closed {
		return
	}
	switch {
	case msg.RequestVote != nil:
		r.dispatchRequestVote(msg.RequestVote)
	case msg.RequestVoteResult != nil:
		r.dispatchRequestVoteResult(msg.RequestVoteResult)
	case msg.AppendEntries != nil:
		r.handleAppendEntries(msg.AppendEntries)
	case msg.AppendEntriesResult != nil:
		if r.role == RoleLeader {
			r.handleAppendEntriesResult(msg.AppendEntriesResult.ResponderID, msg.AppendEntriesResult)
		}
	case msg.InstallSnapshot != nil:
		r.handleInstallSnapshot(msg.InstallSnapshot)
	case msg.InstallSnapshotResult != nil:
		if r.role == RoleLeader {
			r.handleInstallSnapshotResult(msg.InstallSnapshotResult.ResponderID, msg.InstallSnapshotResult)
		}
	}
}

func (r *Raft) dispatchRequestVote(args *RequestVote) {
	if args.Term < r.currentTerm {
		r.sendRequestVoteResult(args.CandidateID, false)
		return
	}
	if args.Term > r.currentTerm {
		r.becomeFollower(args.Term, 0, "")
	}
	granted, err := r.handleRequestVote(args)
	if err != nil {
		log.WithServerID(r.id).Warn().Err(err).Msg("failed to persist vote")
		granted = false
	}
	r.sendRequestVoteResult(args.CandidateID, granted)
}

func (r *Raft) sendRequestVoteResult(candidateID uint64, granted bool) {
	server := r.configuration.Get(candidateID)
	address := ""
	if server != nil {
		address = server.Address
	}
	msg := Message{RequestVoteResult: &RequestVoteResult{
		Term:          r.currentTerm,
		VoteGranted:   granted,
		ResponderID:   r.id,
		ServerID:      candidateID,
		ServerAddress: address,
	}}
	r.io.Send(SendRequest{ID: newRequestID()}, msg, func(err error) {
		if err != nil {
			log.WithServerID(r.id).Warn().Err(err).Msg("failed to send vote result")
		}
	})
}

func (r *Raft) dispatchRequestVoteResult(result *RequestVoteResult) {
	if r.role != RoleCandidate {
		return
	}
	if result.Term > r.currentTerm {
		r.becomeFollower(result.Term, 0, "")
		return
	}
	if result.Term < r.currentTerm || !result.VoteGranted {
		return
	}
	votingIndex := r.configuration.VotingIndex(result.ResponderID)
	if votingIndex < 0 {
		return
	}
	if r.tally(votingIndex) {
		r.becomeLeader()
	}
}
