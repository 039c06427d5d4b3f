package storage

import (
	"context"
	"testing"

	"github.com/brauner/raft"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrapThenLoad(t *testing.T) {
	s := openStore(t)
	cfg := raft.Configuration{Servers: []raft.Server{
		{ID: 1, Address: "1", Voting: true},
	}}

	require.NoError(t, s.Bootstrap(cfg))

	term, votedFor, snapshot, entries, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), term)
	require.Zero(t, votedFor)
	require.Nil(t, snapshot)
	require.Len(t, entries, 1)
	require.Equal(t, raft.EntryConfiguration, entries[0].Type)

	decoded, ok := raft.DecodeConfiguration(entries[0].Payload)
	require.True(t, ok)
	require.Equal(t, cfg, decoded)
}

func TestBootstrapTwiceFails(t *testing.T) {
	s := openStore(t)
	cfg := raft.Configuration{Servers: []raft.Server{{ID: 1, Address: "1", Voting: true}}}
	require.NoError(t, s.Bootstrap(cfg))
	require.ErrorIs(t, s.Bootstrap(cfg), raft.ErrOutOfMemory)
}

func TestSetTermClearsVote(t *testing.T) {
	s := openStore(t)

	var err error
	s.SetVote(7, func(e error) { err = e })
	require.NoError(t, err)

	s.SetTerm(2, func(e error) { err = e })
	require.NoError(t, err)

	_, votedFor, _, _, loadErr := s.Load(context.Background())
	require.NoError(t, loadErr)
	require.Zero(t, votedFor)
}

func TestAppendAndTruncate(t *testing.T) {
	s := openStore(t)

	var err error
	s.Append([]raft.Entry{
		{Term: 1, Type: raft.EntryCommand, Payload: []byte("a")},
		{Term: 1, Type: raft.EntryCommand, Payload: []byte("b")},
		{Term: 1, Type: raft.EntryCommand, Payload: []byte("c")},
	}, func(e error) { err = e })
	require.NoError(t, err)

	_, _, _, entries, loadErr := s.Load(context.Background())
	require.NoError(t, loadErr)
	require.Len(t, entries, 3)

	s.Truncate(2, func(e error) { err = e })
	require.NoError(t, err)

	_, _, _, entries, loadErr = s.Load(context.Background())
	require.NoError(t, loadErr)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("a"), entries[0].Payload)
}

func TestSnapshotPutGetDropsCoveredEntries(t *testing.T) {
	s := openStore(t)

	var err error
	s.Append([]raft.Entry{
		{Term: 1, Type: raft.EntryCommand, Payload: []byte("a")},
		{Term: 1, Type: raft.EntryCommand, Payload: []byte("b")},
		{Term: 1, Type: raft.EntryCommand, Payload: []byte("c")},
	}, func(e error) { err = e })
	require.NoError(t, err)

	snap := &raft.Snapshot{
		Index: 2,
		Term:  1,
		Data:  [][]byte{[]byte("chunk0"), []byte("chunk1")},
	}
	s.SnapshotPut(raft.SnapshotRequest{ID: "r1"}, snap, func(e error) { err = e })
	require.NoError(t, err)

	var got *raft.Snapshot
	s.SnapshotGet(raft.SnapshotRequest{ID: "r2"}, func(snapshot *raft.Snapshot, e error) {
		got, err = snapshot, e
	})
	require.NoError(t, err)
	require.Equal(t, snap.Index, got.Index)
	require.Equal(t, snap.Data, got.Data)

	_, _, loadedSnap, entries, loadErr := s.Load(context.Background())
	require.NoError(t, loadErr)
	require.Equal(t, snap.Index, loadedSnap.Index)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("c"), entries[0].Payload)
}
