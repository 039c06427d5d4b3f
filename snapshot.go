package raft

import "github.com/brauner/raft/pkg/log"

// sendInstallSnapshot sends the current snapshot to a peer that has
// fallen behind the compaction window. The peer's progress moves to
// SNAPSHOT state until the transfer completes or fails.
func (r *Raft) sendInstallSnapshot(peerID uint64) {
	progress, ok := r.leader.progress[peerID]
	if !ok || r.snapshot == nil {
		return
	}
	server := r.configuration.Get(peerID)
	if server == nil {
		return
	}
	progress.state = progressSnapshot
	snapshot := r.snapshot

	r.enqueueSend(peerID, progress, func(complete func(error)) {
		msg := Message{InstallSnapshot: &InstallSnapshot{
			Term:          r.currentTerm,
			LeaderID:      r.id,
			LeaderAddress: r.address,
			LastIndex:     snapshot.Index,
			LastTerm:      snapshot.Term,
			ConfIndex:     snapshot.ConfigurationIndex,
			Configuration: snapshot.Configuration.Clone(),
			Data:          snapshot.Data,
			ServerID:      peerID,
			ServerAddress: server.Address,
		}}
		r.io.Send(SendRequest{ID: newRequestID()}, msg, complete)
	})
}

// handleInstallSnapshotResult applies a peer's answer to an
// InstallSnapshot: success moves it straight to PIPELINE at the
// snapshot boundary; failure leaves it in SNAPSHOT state to be retried
// on the next replication trigger.
func (r *Raft) handleInstallSnapshotResult(peerID uint64, result *AppendEntriesResult) {
	progress, ok := r.leader.progress[peerID]
	if !ok || r.role != RoleLeader {
		return
	}
	progress.lastContact = r.io.Time()

	if result.Term > r.currentTerm {
		r.becomeFollower(result.Term, 0, "")
		return
	}
	if !result.Success {
		return
	}
	progress.matchIndex = result.LastLogIndex
	progress.nextIndex = result.LastLogIndex + 1
	progress.state = progressPipeline
	r.recordCatchUpProgress(peerID, progress)
	r.maybeAdvanceCommit()
}

// handleInstallSnapshot is the follower-side handler: the whole log is
// replaced by the snapshot boundary and the FSM is rebuilt from its
// data.
func (r *Raft) handleInstallSnapshot(args *InstallSnapshot) {
	if args.Term < r.currentTerm {
		r.sendInstallSnapshotResult(args.LeaderID, false)
		return
	}
	r.becomeFollower(args.Term, args.LeaderID, args.LeaderAddress)

	if args.LastIndex <= r.commitIndex && r.snapshot != nil && r.snapshot.Index >= args.LastIndex {
		// Already caught up to (or past) this snapshot.
		r.sendInstallSnapshotResult(args.LeaderID, true)
		return
	}

	snapshot := &Snapshot{
		Index:              args.LastIndex,
		Term:               args.LastTerm,
		Configuration:      args.Configuration.Clone(),
		ConfigurationIndex: args.ConfIndex,
		Data:               args.Data,
	}

	r.io.SnapshotPut(SnapshotRequest{ID: newRequestID()}, snapshot, func(err error) {
		if err != nil {
			log.WithServerID(r.id).Error().Err(err).Msg("install snapshot persist failed")
			r.sendInstallSnapshotResult(args.LeaderID, false)
			return
		}
		if err := r.fsm.Restore(snapshot.Data); err != nil {
			log.WithServerID(r.id).Error().Err(err).Msg("fsm restore from snapshot failed")
			r.sendInstallSnapshotResult(args.LeaderID, false)
			return
		}
		r.snapshot = snapshot
		r.configuration = snapshot.Configuration.Clone()
		r.configurationUncommittedIndex = 0
		r.log = NewLog(snapshot.Index)
		r.commitIndex = snapshot.Index
		r.lastApplied = snapshot.Index
		r.lastStored = snapshot.Index
		r.publish(Observation{Kind: ObservationCommitAdvance})
		r.sendInstallSnapshotResult(args.LeaderID, true)
	})
}

func (r *Raft) sendInstallSnapshotResult(leaderID uint64, success bool) {
	server := r.configuration.Get(leaderID)
	address := ""
	if server != nil {
		address = server.Address
	}
	lastIndex, _ := r.lastLogIndexAndTerm()
	msg := Message{InstallSnapshotResult: &AppendEntriesResult{
		Term:          r.currentTerm,
		Success:       success,
		LastLogIndex:  lastIndex,
		ResponderID:   r.id,
		ServerID:      leaderID,
		ServerAddress: address,
	}}
	r.io.Send(SendRequest{ID: newRequestID()}, msg, func(err error) {
		if err != nil {
			log.WithServerID(r.id).Warn().Err(err).Msg("failed to send install snapshot result")
		}
	})
}

// maybeTakeSnapshot takes a new snapshot once the number of applied
// entries since the last compaction reaches SnapshotThreshold, then
// shifts the log forward leaving SnapshotTrailing entries in place so
// a lagging peer can still be caught up by AppendEntries rather than a
// full transfer.
func (r *Raft) maybeTakeSnapshot() {
	if r.snapshotInFlight || r.closed {
		return
	}
	if r.lastApplied-r.log.Offset() < r.snapshotThreshold {
		return
	}

	data, err := r.fsm.Snapshot()
	if err != nil {
		log.WithServerID(r.id).Error().Err(err).Msg("fsm snapshot failed")
		return
	}
	term := r.log.TermOf(r.lastApplied)
	if term == 0 && r.snapshot != nil && r.lastApplied == r.snapshot.Index {
		term = r.snapshot.Term
	}
	snapshot := &Snapshot{
		Index:              r.lastApplied,
		Term:               term,
		Configuration:      r.configuration.Clone(),
		ConfigurationIndex: r.configurationUncommittedIndex,
		Data:               data,
	}

	r.snapshotInFlight = true
	r.io.SnapshotPut(SnapshotRequest{ID: newRequestID()}, snapshot, func(err error) {
		r.snapshotInFlight = false
		if err != nil {
			log.WithServerID(r.id).Error().Err(err).Msg("snapshot persist failed")
			return
		}
		r.snapshot = snapshot
		trailing := r.snapshotTrailing
		if snapshot.Index < trailing {
			trailing = snapshot.Index
		}
		r.log.ShiftPrefix(snapshot.Index - trailing)
	})
}
