package raft

import "github.com/brauner/raft/pkg/log"

// triggerReplication asks every peer to catch up. index is the first
// newly-appended local index this round is replicating, or 0 for a
// heartbeat-only round (no new entries, just asserting leadership).
// Peers contacted within the last half heartbeat period are skipped on
// a heartbeat-only round, since they are already known current.
func (r *Raft) triggerReplication(index uint64) {
	r.timer = 0
	now := r.io.Time()
	for peerID, progress := range r.leader.progress {
		if index == 0 && now-progress.lastContact < r.heartbeatTimeout/2 {
			continue
		}
		r.sendAppendEntries(peerID)
	}
}

// sendAppendEntries sends (or queues) one AppendEntries/InstallSnapshot
// RPC to peerID, based on its current replication progress.
func (r *Raft) sendAppendEntries(peerID uint64) {
	progress, ok := r.leader.progress[peerID]
	if !ok {
		return
	}
	server := r.configuration.Get(peerID)
	if server == nil {
		return
	}

	now := r.io.Time()
	if now-progress.lastContact > r.lostContactMS {
		// Long silence: forget any pipelining progress and probe again
		// from the tip, the way a freshly (re)joined peer would.
		lastIndex, _ := r.lastLogIndexAndTerm()
		progress.nextIndex = lastIndex + 1
		progress.state = progressProbe
	}

	nextIndex := progress.nextIndex
	if nextIndex == 0 {
		nextIndex = 1
	}

	if nextIndex <= r.log.Offset() {
		r.sendInstallSnapshot(peerID)
		return
	}

	var prevIndex, prevTerm uint64
	if nextIndex > 1 {
		prevIndex = nextIndex - 1
		prevTerm = r.log.TermOf(prevIndex)
		if prevTerm == 0 {
			if r.snapshot != nil && prevIndex == r.snapshot.Index {
				prevTerm = r.snapshot.Term
			} else {
				r.sendInstallSnapshot(peerID)
				return
			}
		}
	}

	entries, n := r.log.Acquire(nextIndex)
	r.enqueueSend(peerID, progress, func(cancel func(error)) {
		msg := Message{AppendEntries: &AppendEntries{
			Term:          r.currentTerm,
			LeaderID:      r.id,
			LeaderAddress: r.address,
			PrevLogIndex:  prevIndex,
			PrevLogTerm:   prevTerm,
			Entries:       entries,
			LeaderCommit:  r.commitIndex,
			ServerID:      peerID,
			ServerAddress: server.Address,
		}}
		r.io.Send(SendRequest{ID: newRequestID()}, msg, func(err error) {
			if n > 0 {
				r.log.Release(nextIndex, n)
			}
			cancel(err)
		})
	})
}

// sendToken lets enqueueSend invoke a pending send's completion at most
// once, whether it finishes normally or is evicted for queue pressure.
type sendToken struct {
	done   bool
	cancel func(error)
}

// enqueueSend bounds the number of outstanding sends per peer (spec.md
// §5 Backpressure): when the queue is full the oldest pending send is
// evicted and told it was cancelled before the new one is issued.
func (r *Raft) enqueueSend(peerID uint64, progress *peerProgress, issue func(complete func(error))) {
	tok := &sendToken{}
	complete := func(err error) {
		if tok.done {
			return
		}
		tok.done = true
		for i, p := range progress.pending {
			if p == tok {
				progress.pending = append(progress.pending[:i], progress.pending[i+1:]...)
				break
			}
		}
		if err != nil {
			log.WithServerID(r.id).Warn().Err(err).Uint64("peer", peerID).Msg("append entries send failed")
		}
	}
	tok.cancel = complete

	if len(progress.pending) >= r.sendQueueSize {
		oldest := progress.pending[0]
		oldest.cancel(ErrIOConnect)
	}
	progress.pending = append(progress.pending, tok)
	issue(complete)
}

// handleAppendEntriesResult processes a peer's answer to an
// AppendEntries, adjusting its replication progress and, on success,
// re-running commit advancement.
func (r *Raft) handleAppendEntriesResult(peerID uint64, result *AppendEntriesResult) {
	progress, ok := r.leader.progress[peerID]
	if !ok || r.role != RoleLeader {
		return
	}
	progress.lastContact = r.io.Time()

	if result.Term > r.currentTerm {
		r.becomeFollower(result.Term, 0, "")
		return
	}

	// If the match index is already past nextIndex-1, this must be an
	// out-of-order response for an old AppendEntries: ignore it.
	if progress.matchIndex > progress.nextIndex-1 {
		return
	}

	if !result.Success {
		// If the match index is already up to date, the rejection must
		// be stale, from an out-of-order message: ignore it.
		if progress.matchIndex == progress.nextIndex-1 {
			return
		}
		if progress.nextIndex > 1 {
			progress.nextIndex--
		}
		progress.state = progressProbe
		r.sendAppendEntries(peerID)
		return
	}

	if result.LastLogIndex <= progress.matchIndex {
		// Stale response: we already know about a later match index.
		return
	}

	progress.matchIndex = result.LastLogIndex
	progress.nextIndex = result.LastLogIndex + 1
	progress.state = progressPipeline
	r.recordCatchUpProgress(peerID, progress)
	r.maybeAdvanceCommit()

	lastIndex, _ := r.lastLogIndexAndTerm()
	if progress.matchIndex < lastIndex {
		r.sendAppendEntries(peerID)
	}
}

// handleAppendEntries is the follower-side handler: it reconciles the
// local log with the leader's view and, once the (possibly empty)
// batch of new entries is durably appended, replies.
func (r *Raft) handleAppendEntries(args *AppendEntries) {
	reject := func() {
		r.sendAppendEntriesResult(args.LeaderID, false)
	}

	if args.Term < r.currentTerm {
		reject()
		return
	}
	if args.Term >= r.currentTerm || r.role != RoleFollower {
		r.becomeFollower(args.Term, args.LeaderID, args.LeaderAddress)
	} else {
		r.follower.currentLeaderID = args.LeaderID
		r.follower.currentLeaderAddress = args.LeaderAddress
		r.timer = 0
	}

	if args.PrevLogIndex > 0 {
		if args.PrevLogIndex < r.log.Offset() {
			// Prefix already compacted away; the leader is assumed
			// correct about everything at or before our snapshot.
		} else {
			localTerm := r.log.TermOf(args.PrevLogIndex)
			if r.snapshot != nil && args.PrevLogIndex == r.snapshot.Index {
				localTerm = r.snapshot.Term
			}
			if args.PrevLogIndex > r.lastLogIndexOnly() || localTerm != args.PrevLogTerm {
				if localTerm != 0 && args.PrevLogIndex <= r.commitIndex {
					log.WithServerID(r.id).Error().Err(ErrShutdown).Uint64("index", args.PrevLogIndex).Msg("log mismatch at a committed index")
					r.Close()
					return
				}
				reject()
				return
			}
		}
	}

	i := 0
	index := args.PrevLogIndex + 1
	for ; i < len(args.Entries); i++ {
		existing, ok := r.log.Get(index)
		if !ok {
			break
		}
		if existing.Term != args.Entries[i].Term {
			if index <= r.commitIndex {
				log.WithServerID(r.id).Error().Err(ErrShutdown).Uint64("index", index).Msg("refusing to discard a committed entry")
				r.Close()
				return
			}
			r.log.TruncateSuffix(index)
			var truncateErr error
			r.io.Truncate(index, func(err error) { truncateErr = err })
			if truncateErr != nil {
				log.WithServerID(r.id).Error().Err(truncateErr).Uint64("index", index).Msg("failed to persist log truncation")
			}
			if r.configurationUncommittedIndex >= index {
				r.configurationUncommittedIndex = 0
			}
			break
		}
		index++
	}

	appendedFrom := uint64(0)
	for ; i < len(args.Entries); i++ {
		e := args.Entries[i]
		idx := r.log.Append(e.Term, e.Type, e.Payload, e.batch)
		if appendedFrom == 0 {
			appendedFrom = idx
		}
		if e.Type == EntryConfiguration {
			if cfg, ok := decodeConfiguration(e.Payload); ok {
				r.configuration = cfg
				r.configurationUncommittedIndex = idx
			}
		}
	}

	if appendedFrom == 0 {
		r.advanceFollowerCommit(args.LeaderCommit)
		r.sendAppendEntriesResult(args.LeaderID, true)
		return
	}

	entries, n := r.log.Acquire(appendedFrom)
	r.io.Append(entries, func(err error) {
		r.log.Release(appendedFrom, n)
		if err != nil {
			log.WithServerID(r.id).Error().Err(err).Msg("follower append failed")
			return
		}
		last := appendedFrom + uint64(n) - 1
		if last > r.lastStored {
			r.lastStored = last
		}
		r.advanceFollowerCommit(args.LeaderCommit)
		r.sendAppendEntriesResult(args.LeaderID, true)
	})
}

// lastLogIndexOnly returns the in-memory log's LastIndex without the
// snapshot-boundary substitution lastLogIndexAndTerm applies; used when
// comparing against a prevLogIndex that may legitimately be the
// snapshot index itself.
func (r *Raft) lastLogIndexOnly() uint64 {
	if r.log.NEntries() == 0 {
		return r.log.Offset()
	}
	return r.log.LastIndex()
}

func (r *Raft) sendAppendEntriesResult(leaderID uint64, success bool) {
	server := r.configuration.Get(leaderID)
	address := ""
	if server != nil {
		address = server.Address
	}
	lastIndex, _ := r.lastLogIndexAndTerm()
	msg := Message{AppendEntriesResult: &AppendEntriesResult{
		Term:          r.currentTerm,
		Success:       success,
		LastLogIndex:  lastIndex,
		ResponderID:   r.id,
		ServerID:      leaderID,
		ServerAddress: address,
	}}
	r.io.Send(SendRequest{ID: newRequestID()}, msg, func(err error) {
		if err != nil {
			log.WithServerID(r.id).Warn().Err(err).Msg("failed to send append entries result")
		}
	})
}

// advanceFollowerCommit raises commitIndex to min(leaderCommit,
// lastLogIndexOnly) and runs newly-committed entries through the FSM.
func (r *Raft) advanceFollowerCommit(leaderCommit uint64) {
	if leaderCommit <= r.commitIndex {
		return
	}
	last := r.lastLogIndexOnly()
	newCommit := leaderCommit
	if last < newCommit {
		newCommit = last
	}
	if newCommit <= r.commitIndex {
		return
	}
	r.commitIndex = newCommit
	r.publish(Observation{Kind: ObservationCommitAdvance})
	r.applyCommitted()
}

// maybeAdvanceCommit raises the leader's commitIndex to the highest N
// for which a majority of voting members (self included) have
// replicated through N and term_of(N) == currentTerm (the classic Raft
// restriction against committing entries from a prior term by count
// alone).
func (r *Raft) maybeAdvanceCommit() {
	if r.role != RoleLeader {
		return
	}
	self := r.configuration.Get(r.id)
	selfVoting := self != nil && self.Voting

	lastIndex, _ := r.lastLogIndexAndTerm()
	for n := lastIndex; n > r.commitIndex; n-- {
		if r.log.TermOf(n) != r.currentTerm {
			if r.log.TermOf(n) == 0 && n < r.log.FirstIndex() {
				break
			}
			continue
		}
		votes := 0
		total := 0
		for _, s := range r.configuration.Servers {
			if !s.Voting {
				continue
			}
			total++
			if s.ID == r.id {
				if selfVoting {
					votes++
				}
				continue
			}
			if p, ok := r.leader.progress[s.ID]; ok && p.matchIndex >= n {
				votes++
			}
		}
		if votes >= total/2+1 {
			r.commitIndex = n
			r.publish(Observation{Kind: ObservationCommitAdvance})
			r.applyCommitted()
			break
		}
	}
}

// applyCommitted runs every entry in (lastApplied, commitIndex] through
// the FSM (COMMAND) or installs it as the live configuration
// (CONFIGURATION), then checks whether a new snapshot is due.
func (r *Raft) applyCommitted() {
	for r.lastApplied < r.commitIndex {
		index := r.lastApplied + 1
		entry, ok := r.log.Get(index)
		if !ok {
			break
		}
		switch entry.Type {
		case EntryCommand:
			result, err := r.fsm.Apply(entry.Payload)
			r.completeApply(index, result, err)
		case EntryConfiguration:
			if cfg, ok := decodeConfiguration(entry.Payload); ok {
				r.configuration = cfg
			}
			if r.configurationUncommittedIndex == index {
				r.configurationUncommittedIndex = 0
			}
			r.completeApply(index, nil, nil)
			if r.role != RoleUnavailable && r.configuration.Get(r.id) == nil {
				log.WithServerID(r.id).Info().Msg("removed from configuration, stepping down")
				r.becomeFollower(r.currentTerm, 0, "")
				r.lastApplied = index
				return
			}
		}
		r.lastApplied = index
	}
	r.maybeTakeSnapshot()
}

// completeApply resolves the pending leader apply request (if any) at
// index with the FSM's result.
func (r *Raft) completeApply(index uint64, result interface{}, err error) {
	if r.role != RoleLeader {
		return
	}
	for i, req := range r.leader.applyReqs {
		if req.index == index {
			req.cb(result, err)
			r.leader.applyReqs = append(r.leader.applyReqs[:i], r.leader.applyReqs[i+1:]...)
			return
		}
	}
}

// recordCatchUpProgress updates the promotion round bookkeeping for a
// non-voting server being caught up (spec.md §4.7), advancing to a new
// round once the peer has reached the index that was current when the
// round began.
func (r *Raft) recordCatchUpProgress(peerID uint64, progress *peerProgress) {
	promotion := r.leader.promotion
	if promotion == nil || promotion.promoteeID != peerID {
		return
	}
	if progress.matchIndex < promotion.roundIndex {
		return
	}
	lastIndex, _ := r.lastLogIndexAndTerm()
	promotion.roundNumber++
	promotion.roundIndex = lastIndex
	promotion.roundDuration = 0
	if promotion.roundNumber > r.maxCatchUpRounds {
		r.finalizePromotion(peerID, nil)
	}
}
