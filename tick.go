package raft

import "github.com/brauner/raft/pkg/log"

// onTick is registered with IO.RegisterTick and drives every
// time-based transition: election timeouts, heartbeats, leader
// contactability, and promotion catch-up limits. elapsedMS is the time
// since the previous tick.
func (r *Raft) onTick(elapsedMS int64) {
	if r.closed {
		return
	}
	r.timer += elapsedMS

	switch r.role {
	case RoleFollower:
		r.followerTick()
	case RoleCandidate:
		r.candidateTick()
	case RoleLeader:
		r.leaderTick(elapsedMS)
	}
}

func (r *Raft) followerTick() {
	local := r.configuration.Get(r.id)
	if local == nil || !local.Voting {
		return
	}
	if r.timer > r.electionTimeoutRand {
		if err := r.becomeCandidate(); err != nil {
			log.WithServerID(r.id).Warn().Err(err).Msg("failed to start election")
		}
	}
}

func (r *Raft) candidateTick() {
	if r.timer > r.electionTimeoutRand {
		if err := r.startElection(); err != nil {
			log.WithServerID(r.id).Warn().Err(err).Msg("failed to restart election")
		}
	}
}

// leaderTick steps down if a majority of voting peers have gone quiet
// for longer than an election timeout (so a partitioned leader does
// not keep serving stale reads indefinitely), otherwise heartbeats on
// schedule, and advances any outstanding promotion catch-up.
func (r *Raft) leaderTick(elapsedMS int64) {
	if !r.contactedByMajority() {
		log.WithServerID(r.id).Warn().Msg("lost contact with majority of voters, stepping down")
		r.becomeFollower(r.currentTerm, 0, "")
		return
	}
	if r.timer > r.heartbeatTimeout {
		r.triggerReplication(0)
	}
	r.tickPromotion(elapsedMS)
}

func (r *Raft) contactedByMajority() bool {
	nVoting := r.configuration.NVoting()
	if nVoting == 0 {
		return true
	}
	self := r.configuration.Get(r.id)
	contacts := 0
	if self != nil && self.Voting {
		contacts++
	}
	now := r.io.Time()
	for _, s := range r.configuration.Servers {
		if !s.Voting || s.ID == r.id {
			continue
		}
		p, ok := r.leader.progress[s.ID]
		if !ok {
			continue
		}
		if now-p.lastContact <= r.electionTimeout {
			contacts++
		}
	}
	return contacts > nVoting/2
}

func (r *Raft) tickPromotion(elapsedMS int64) {
	promotion := r.leader.promotion
	if promotion == nil {
		return
	}
	promotion.roundDuration += elapsedMS
	promotion.totalElapsed += elapsedMS

	tooSlow := promotion.roundNumber == r.maxCatchUpRounds && promotion.roundDuration > r.electionTimeout
	unresponsive := promotion.totalElapsed > r.maxCatchUpDurationMS
	if tooSlow || unresponsive {
		r.finalizePromotion(promotion.promoteeID, ErrUnavailable)
	}
}
