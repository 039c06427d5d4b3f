package raft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubIO is a minimal IO good enough for exercising election.go's
// decision functions directly, without going through Start/Load. Only
// SetTerm, SetVote, Send, and Random are meaningfully exercised by the
// tests in this file; the rest are harmless no-ops.
type stubIO struct {
	term     uint64
	votedFor uint64
	sent     []Message
}

func (s *stubIO) Load(ctx context.Context) (uint64, uint64, *Snapshot, []Entry, error) {
	return 0, 0, nil, nil, nil
}
func (s *stubIO) Bootstrap(cfg Configuration) error { return nil }
func (s *stubIO) SetTerm(term uint64, cb TermCallback) {
	s.term = term
	cb(nil)
}
func (s *stubIO) SetVote(serverID uint64, cb VoteCallback) {
	s.votedFor = serverID
	cb(nil)
}
func (s *stubIO) Append(entries []Entry, cb AppendCallback)    { cb(nil) }
func (s *stubIO) Truncate(index uint64, cb TruncateCallback)   { cb(nil) }
func (s *stubIO) SnapshotPut(req SnapshotRequest, snapshot *Snapshot, cb SnapshotPutCallback) {
	cb(nil)
}
func (s *stubIO) SnapshotGet(req SnapshotRequest, cb SnapshotGetCallback) { cb(nil, nil) }
func (s *stubIO) Send(req SendRequest, msg Message, cb SendCallback) {
	s.sent = append(s.sent, msg)
	cb(nil)
}
func (s *stubIO) Time() int64                          { return 0 }
func (s *stubIO) Random(low, high int64) int64         { return low }
func (s *stubIO) RegisterTick(fn func(elapsedMS int64)) {}
func (s *stubIO) RegisterReceive(fn func(msg Message))  {}

// noopFSM satisfies FSM for tests that never inspect applied results.
type noopFSM struct{ applied [][]byte }

func (f *noopFSM) Apply(payload []byte) (interface{}, error) {
	f.applied = append(f.applied, payload)
	return nil, nil
}
func (f *noopFSM) Snapshot() ([][]byte, error) { return f.applied, nil }
func (f *noopFSM) Restore(data [][]byte) error { f.applied = data; return nil }

func newStubRaft(id uint64, cfg Configuration) (*Raft, *stubIO) {
	io := &stubIO{}
	r := New(Config{ID: id, Address: "addr"}, io, &noopFSM{})
	r.log = NewLog(0)
	r.configuration = cfg
	r.role = RoleFollower
	return r, io
}

func threeServerConfig() Configuration {
	return Configuration{Servers: []Server{
		{ID: 1, Address: "1", Voting: true},
		{ID: 2, Address: "2", Voting: true},
		{ID: 3, Address: "3", Voting: true},
	}}
}

func TestHandleRequestVoteGrantsWhenLogEmpty(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	granted, err := r.handleRequestVote(&RequestVote{Term: 1, CandidateID: 2, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, uint64(2), r.votedFor)
}

func TestHandleRequestVoteGrantsOnHigherCandidateTerm(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.log.Append(3, EntryCommand, []byte("x"), nil)

	granted, err := r.handleRequestVote(&RequestVote{Term: 5, CandidateID: 2, LastLogIndex: 1, LastLogTerm: 4})
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestHandleRequestVoteGrantsOnEqualTermLongerLog(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.log.Append(3, EntryCommand, []byte("x"), nil)

	granted, err := r.handleRequestVote(&RequestVote{Term: 1, CandidateID: 2, LastLogIndex: 2, LastLogTerm: 3})
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestHandleRequestVoteRejectsStaleLog(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.log.Append(5, EntryCommand, []byte("x"), nil)
	r.log.Append(5, EntryCommand, []byte("y"), nil)

	granted, err := r.handleRequestVote(&RequestVote{Term: 1, CandidateID: 2, LastLogIndex: 1, LastLogTerm: 4})
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestHandleRequestVoteRejectsAlreadyVotedForOther(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.votedFor = 3

	granted, err := r.handleRequestVote(&RequestVote{Term: 1, CandidateID: 2, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, uint64(3), r.votedFor)
}

func TestHandleRequestVoteRepeatVoteForSameCandidateGrants(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.votedFor = 2

	granted, err := r.handleRequestVote(&RequestVote{Term: 1, CandidateID: 2, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestHandleRequestVoteRejectsNonVotingLocalServer(t *testing.T) {
	cfg := Configuration{Servers: []Server{
		{ID: 1, Address: "1", Voting: false},
		{ID: 2, Address: "2", Voting: true},
		{ID: 3, Address: "3", Voting: true},
	}}
	r, _ := newStubRaft(1, cfg)

	granted, err := r.handleRequestVote(&RequestVote{Term: 1, CandidateID: 2, LastLogIndex: 0, LastLogTerm: 0})
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestTallyReachesMajorityAtHalfPlusOne(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.candidate.votes = make([]bool, 3)

	assert.False(t, r.tally(1))
	assert.True(t, r.tally(2))
}

func TestTallyIgnoresOutOfRangeIndex(t *testing.T) {
	r, _ := newStubRaft(1, threeServerConfig())
	r.candidate.votes = make([]bool, 3)

	assert.False(t, r.tally(-1))
	assert.False(t, r.tally(10))
}

func TestBecomeCandidateStartsElectionAndVotesSelf(t *testing.T) {
	r, io := newStubRaft(1, threeServerConfig())

	require.NoError(t, r.becomeCandidate())

	assert.Equal(t, RoleCandidate, r.role)
	assert.Equal(t, uint64(1), r.currentTerm)
	assert.Equal(t, uint64(1), r.votedFor)
	assert.Equal(t, uint64(1), io.term)
	assert.Equal(t, uint64(1), io.votedFor)
	assert.Len(t, io.sent, 2, "a RequestVote must go to each of the other two voting servers")
	for _, msg := range io.sent {
		require.NotNil(t, msg.RequestVote)
		assert.Equal(t, uint64(1), msg.RequestVote.Term)
		assert.Equal(t, uint64(1), msg.RequestVote.CandidateID)
	}
}

func TestBecomeCandidateSkipsNonVotingServer(t *testing.T) {
	cfg := Configuration{Servers: []Server{
		{ID: 1, Address: "1", Voting: true},
		{ID: 2, Address: "2", Voting: true},
		{ID: 3, Address: "3", Voting: false},
	}}
	r, io := newStubRaft(1, cfg)

	require.NoError(t, r.becomeCandidate())

	assert.Len(t, io.sent, 1, "a non-voting server must not be solicited for a vote")
}
