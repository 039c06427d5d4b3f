package raft

import "github.com/brauner/raft/pkg/log"

// AddServer adds a new, initially non-voting, member and starts
// replicating to it. Only one configuration change may be outstanding
// at a time.
func (r *Raft) AddServer(id uint64, address string) error {
	if r.closed {
		return ErrUnavailable
	}
	if r.role != RoleLeader {
		return ErrNotLeader
	}
	if r.configurationUncommittedIndex != 0 {
		return ErrConfigurationBusy
	}
	cfg := r.configuration.Clone()
	if err := cfg.Add(id, address, false); err != nil {
		return err
	}
	return r.changeConfiguration(cfg)
}

// RemoveServer removes a member, voting or not. If it is mid-promotion
// the pending catch-up is abandoned.
func (r *Raft) RemoveServer(id uint64) error {
	if r.closed {
		return ErrUnavailable
	}
	if r.role != RoleLeader {
		return ErrNotLeader
	}
	if r.configurationUncommittedIndex != 0 {
		return ErrConfigurationBusy
	}
	cfg := r.configuration.Clone()
	if err := cfg.Remove(id); err != nil {
		return err
	}
	if r.leader.promotion != nil && r.leader.promotion.promoteeID == id {
		if cb := r.leader.promotion.promoteCB; cb != nil {
			cb(ErrServerNotFound)
		}
		r.leader.promotion = nil
	}
	if err := r.changeConfiguration(cfg); err != nil {
		return err
	}
	delete(r.leader.progress, id)
	return nil
}

// PromoteServer begins (or continues) catching a non-voting member up
// to the leader's log, submitting the configuration change that makes
// it a voter once the catch-up criteria in spec.md §4.7 are met. cb, if
// non-nil, is invoked once: when the configuration change is submitted,
// or when catch-up is abandoned as too slow or unresponsive.
func (r *Raft) PromoteServer(id uint64, cb func(error)) error {
	if r.closed {
		return ErrUnavailable
	}
	if r.role != RoleLeader {
		return ErrNotLeader
	}
	server := r.configuration.Get(id)
	if server == nil {
		return ErrServerNotFound
	}
	if server.Voting {
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	progress, ok := r.leader.progress[id]
	if !ok {
		return ErrServerNotFound
	}

	lastIndex, _ := r.lastLogIndexAndTerm()
	r.leader.promotion = &promotionContext{
		promoteeID: id,
		roundIndex: lastIndex,
		promoteCB:  cb,
	}
	if progress.matchIndex >= lastIndex {
		// Already caught up as of this call; no round to wait for.
		r.finalizePromotion(id, nil)
	}
	return nil
}

// changeConfiguration appends the new configuration as a log entry,
// marks it as the one outstanding uncommitted change, and starts
// replicating it like any other entry.
func (r *Raft) changeConfiguration(cfg Configuration) error {
	index := r.log.Append(r.currentTerm, EntryConfiguration, encodeConfiguration(cfg), nil)
	r.configurationUncommittedIndex = index
	r.configuration = cfg
	now := r.io.Time()
	for _, s := range cfg.Servers {
		if s.ID == r.id {
			continue
		}
		if _, ok := r.leader.progress[s.ID]; !ok {
			lastIndex, _ := r.lastLogIndexAndTerm()
			r.leader.progress[s.ID] = &peerProgress{nextIndex: lastIndex + 1, lastContact: now}
		}
	}
	r.persistAndReplicate(index)
	return nil
}

// finalizePromotion ends a pending PromoteServer catch-up: failErr nil
// submits the voting-configuration change; non-nil abandons it.
func (r *Raft) finalizePromotion(id uint64, failErr error) {
	promotion := r.leader.promotion
	if promotion == nil || promotion.promoteeID != id {
		return
	}
	cb := promotion.promoteCB
	r.leader.promotion = nil

	if failErr != nil {
		log.WithServerID(r.id).Warn().Uint64("peer", id).Err(failErr).Msg("abandoning promotion catch-up")
		if cb != nil {
			cb(failErr)
		}
		return
	}

	cfg := r.configuration.Clone()
	if err := cfg.SetVoting(id, true); err != nil {
		if cb != nil {
			cb(err)
		}
		return
	}
	if err := r.changeConfiguration(cfg); err != nil {
		if cb != nil {
			cb(err)
		}
		return
	}
	if cb != nil {
		cb(nil)
	}
}
