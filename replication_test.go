package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubLeader(id uint64, cfg Configuration) (*Raft, *stubIO) {
	r, io := newStubRaft(id, cfg)
	r.role = RoleLeader
	r.leader = leaderState{progress: make(map[uint64]*peerProgress)}
	for _, s := range cfg.Servers {
		if s.ID == id {
			continue
		}
		r.leader.progress[s.ID] = &peerProgress{nextIndex: r.log.LastIndex() + 1}
	}
	return r, io
}

func TestHandleAppendEntriesRejectsStaleTerm(t *testing.T) {
	r, io := newStubRaft(1, threeServerConfig())
	r.currentTerm = 5

	r.handleAppendEntries(&AppendEntries{Term: 3, LeaderID: 2})

	require.Len(t, io.sent, 1)
	assert.False(t, io.sent[0].AppendEntriesResult.Success)
	assert.Equal(t, RoleFollower, r.role)
}

func TestHandleAppendEntriesAppendsNewEntries(t *testing.T) {
	r, io := newStubRaft(1, threeServerConfig())

	r.handleAppendEntries(&AppendEntries{
		Term:     1,
		LeaderID: 2,
		Entries:  []Entry{{Term: 1, Type: EntryCommand, Payload: []byte("a")}},
	})

	assert.Equal(t, uint64(1), r.log.LastIndex())
	e, ok := r.log.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), e.Payload)
	require.Len(t, io.sent, 1)
	assert.True(t, io.sent[0].AppendEntriesResult.Success)
}

func TestHandleAppendEntriesRejectsOnPrevLogMismatch(t *testing.T) {
	r, io := newStubRaft(1, threeServerConfig())
	r.log.Append(1, EntryCommand, []byte("a"), nil)

	r.handleAppendEntries(&AppendEntries{
		Term:         1,
		LeaderID:     2,
		PrevLogIndex: 1,
		PrevLogTerm:  9, // local entry at index 1 has term 1, not 9
		Entries:      []Entry{{Term: 1, Type: EntryCommand, Payload: []byte("b")}},
	})

	require.Len(t, io.sent, 1)
	assert.False(t, io.sent[0].AppendEntriesResult.Success)
	assert.Equal(t, uint64(1), r.log.LastIndex(), "a rejected AppendEntries must not mutate the log")
}

func TestHandleAppendEntriesTruncatesConflictingSuffix(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.log.Append(1, EntryCommand, []byte("a"), nil)
	r.log.Append(1, EntryCommand, []byte("stale"), nil)

	r.handleAppendEntries(&AppendEntries{
		Term:         2,
		LeaderID:     2,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []Entry{{Term: 2, Type: EntryCommand, Payload: []byte("real")}},
	})

	assert.Equal(t, uint64(2), r.log.LastIndex())
	e, ok := r.log.Get(2)
	require.True(t, ok)
	assert.Equal(t, []byte("real"), e.Payload)
}

func TestHandleAppendEntriesRefusesToDiscardCommittedEntry(t *testing.T) {
	r, io := newStubRaft(1, threeServerConfig())
	r.log.Append(1, EntryCommand, []byte("a"), nil)
	r.commitIndex = 1

	// A leader claiming a different term at an already-committed index
	// is either a lagging/buggy peer or a forged message; the follower
	// must refuse to discard the committed entry rather than reply.
	r.handleAppendEntries(&AppendEntries{
		Term:         2,
		LeaderID:     2,
		PrevLogIndex: 0,
		Entries:      []Entry{{Term: 2, Type: EntryCommand, Payload: []byte("forged")}},
	})

	assert.Empty(t, io.sent)
	e, ok := r.log.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), e.Payload)
}

func TestHandleAppendEntriesResultStepsDownOnHigherTerm(t *testing.T) {
	r, _ := newStubLeader(1, threeServerConfig())
	r.currentTerm = 1

	r.handleAppendEntriesResult(2, &AppendEntriesResult{Term: 5, Success: false})

	assert.Equal(t, RoleFollower, r.role)
	assert.Equal(t, uint64(5), r.currentTerm)
}

func TestHandleAppendEntriesResultBacksOffNextIndexOnFailure(t *testing.T) {
	r, _ := newStubLeader(1, threeServerConfig())
	r.currentTerm = 1
	r.log.Append(1, EntryCommand, []byte("a"), nil)
	r.log.Append(1, EntryCommand, []byte("b"), nil)
	progress := r.leader.progress[2]
	progress.nextIndex = 3

	r.handleAppendEntriesResult(2, &AppendEntriesResult{Term: 1, Success: false})

	assert.Equal(t, uint64(2), progress.nextIndex)
	assert.Equal(t, progressProbe, progress.state)
}

func TestHandleAppendEntriesResultAdvancesMatchIndexOnSuccess(t *testing.T) {
	r, _ := newStubLeader(1, threeServerConfig())
	r.currentTerm = 1
	r.log.Append(1, EntryCommand, []byte("a"), nil)
	progress := r.leader.progress[2]

	r.handleAppendEntriesResult(2, &AppendEntriesResult{Term: 1, Success: true, LastLogIndex: 1})

	assert.Equal(t, uint64(1), progress.matchIndex)
	assert.Equal(t, uint64(2), progress.nextIndex)
	assert.Equal(t, progressPipeline, progress.state)
}

func TestMaybeAdvanceCommitRequiresMajorityInCurrentTerm(t *testing.T) {
	r, _ := newStubLeader(1, threeServerConfig())
	r.currentTerm = 2
	r.log.Append(1, EntryCommand, []byte("old-term"), nil) // index 1, term 1
	r.log.Append(2, EntryCommand, []byte("new-term"), nil) // index 2, term 2

	// Server 2 has replicated entry 1 only, and entry 1 is from a prior
	// term: a majority by count alone must not commit it.
	r.leader.progress[2].matchIndex = 1
	r.maybeAdvanceCommit()
	assert.Equal(t, uint64(0), r.commitIndex, "must not commit a prior-term entry on replication count alone")

	r.leader.progress[2].matchIndex = 2
	r.maybeAdvanceCommit()
	assert.Equal(t, uint64(2), r.commitIndex, "once the current-term entry has a majority, it commits (and index 1 along with it)")
}

func TestMaybeAdvanceCommitNoOpForNonLeader(t *testing.T) {
	r, _ := newStubLeader(1, threeServerConfig())
	r.log.Append(1, EntryCommand, []byte("a"), nil)
	r.leader.progress[2].matchIndex = 1
	r.role = RoleFollower

	r.maybeAdvanceCommit()
	assert.Equal(t, uint64(0), r.commitIndex)
}
