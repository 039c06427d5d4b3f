package raft

import "github.com/brauner/raft/pkg/log"

// startElection increments the term, votes for self, resets the
// election timer, and solicits votes from every other voting member.
// Requires Role == RoleCandidate.
func (r *Raft) startElection() error {
	if r.role != RoleCandidate {
		return nil
	}
	votingIndex := r.configuration.VotingIndex(r.id)
	if votingIndex < 0 {
		// Not a voting member; should not have been asked to run.
		return nil
	}

	term := r.currentTerm + 1
	var setTermErr error
	r.io.SetTerm(term, func(err error) { setTermErr = err })
	if setTermErr != nil {
		return setTermErr
	}
	var setVoteErr error
	r.io.SetVote(r.id, func(err error) { setVoteErr = err })
	if setVoteErr != nil {
		return setVoteErr
	}

	r.currentTerm = term
	r.votedFor = r.id
	r.resetElectionTimer()

	n := r.configuration.NVoting()
	if len(r.candidate.votes) != n {
		r.candidate.votes = make([]bool, n)
	}
	for i := range r.candidate.votes {
		r.candidate.votes[i] = false
	}
	r.candidate.votes[votingIndex] = true

	lastIndex, lastTerm := r.lastLogIndexAndTerm()
	for _, s := range r.configuration.Servers {
		if s.ID == r.id || !s.Voting {
			continue
		}
		msg := Message{RequestVote: &RequestVote{
			Term:          term,
			CandidateID:   r.id,
			LastLogIndex:  lastIndex,
			LastLogTerm:   lastTerm,
			ServerID:      s.ID,
			ServerAddress: s.Address,
		}}
		r.io.Send(SendRequest{}, msg, func(err error) {
			if err != nil {
				log.WithServerID(r.id).Warn().Err(err).Uint64("peer", s.ID).Msg("failed to send vote request")
			}
		})
	}
	return nil
}

// handleRequestVote decides whether to grant a vote, persisting it
// first if granted.
func (r *Raft) handleRequestVote(args *RequestVote) (granted bool, err error) {
	local := r.configuration.Get(r.id)
	if local == nil || !local.Voting {
		return false, nil
	}
	if r.votedFor != 0 && r.votedFor != args.CandidateID {
		return false, nil
	}

	localIndex, localTerm := r.lastLogIndexAndTerm()

	grant := false
	switch {
	case localIndex == 0:
		grant = true
	case args.LastLogTerm > localTerm:
		grant = true
	case args.LastLogTerm == localTerm && args.LastLogIndex >= localIndex:
		grant = true
	}
	if !grant {
		return false, nil
	}

	var setVoteErr error
	r.io.SetVote(args.CandidateID, func(err error) { setVoteErr = err })
	if setVoteErr != nil {
		return false, setVoteErr
	}
	r.votedFor = args.CandidateID
	r.timer = 0
	return true, nil
}

// tally records a granted vote from the voter at votingIndex and
// returns true iff a majority of voting members, including self, have
// now granted.
func (r *Raft) tally(votingIndex int) bool {
	if votingIndex < 0 || votingIndex >= len(r.candidate.votes) {
		return false
	}
	r.candidate.votes[votingIndex] = true
	n := r.configuration.NVoting()
	votes := 0
	for _, v := range r.candidate.votes {
		if v {
			votes++
		}
	}
	return votes >= n/2+1
}
