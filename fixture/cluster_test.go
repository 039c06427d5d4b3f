package fixture

import (
	"testing"

	"github.com/brauner/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFSM records every payload applied to it, in order, and supports
// the minimal Snapshot/Restore round-trip scenario tests need.
type testFSM struct {
	applied [][]byte
}

func (f *testFSM) Apply(payload []byte) (interface{}, error) {
	f.applied = append(f.applied, append([]byte(nil), payload...))
	return len(f.applied), nil
}

func (f *testFSM) Snapshot() ([][]byte, error) {
	out := make([][]byte, len(f.applied))
	copy(out, f.applied)
	return out, nil
}

func (f *testFSM) Restore(data [][]byte) error {
	f.applied = f.applied[:0]
	for _, d := range data {
		f.applied = append(f.applied, append([]byte(nil), d...))
	}
	return nil
}

func newTestFSMs(n int) ([]raft.FSM, []*testFSM) {
	fsms := make([]raft.FSM, n)
	concrete := make([]*testFSM, n)
	for i := range fsms {
		tf := &testFSM{}
		fsms[i] = tf
		concrete[i] = tf
	}
	return fsms, concrete
}

// S1: a 3-server cluster bootstraps and elects a leader.
func TestThreeServerBootstrapAndElect(t *testing.T) {
	fsms, _ := newTestFSMs(3)
	c := NewCluster(fsms)
	require.NoError(t, c.Bootstrap(c.Configuration(3)))
	require.NoError(t, c.Start())

	ok := c.StepUntilHasLeader(5000)
	require.True(t, ok, "cluster failed to elect a leader")
	assert.Empty(t, c.Violations())

	leader := c.Get(c.LeaderIndex())
	assert.Equal(t, raft.RoleLeader, leader.State())
}

// S2: a single Apply on the leader propagates to every follower's FSM.
func TestSingleApplyPropagates(t *testing.T) {
	fsms, concrete := newTestFSMs(3)
	c := NewCluster(fsms)
	require.NoError(t, c.Bootstrap(c.Configuration(3)))
	require.NoError(t, c.Start())
	require.True(t, c.StepUntilHasLeader(5000))

	li := c.LeaderIndex()
	leader := c.Get(li)

	var applyErr error
	var index uint64
	applyErr = leader.Apply([]byte("hello"), func(result interface{}, err error) {
		applyErr = err
	})
	require.NoError(t, applyErr)
	index = leader.LastIndex()

	for i := 0; i < c.N(); i++ {
		require.True(t, c.StepUntilApplied(i, index, 5000), "server %d never applied index %d", i, index)
	}
	for _, tf := range concrete {
		require.Len(t, tf.applied, 1)
		assert.Equal(t, []byte("hello"), tf.applied[0])
	}
	assert.Empty(t, c.Violations())
}

// S3: the leader is deposed (simulating a partition from the
// majority), and a new leader is subsequently elected.
func TestLeadershipChangeUnderPartition(t *testing.T) {
	fsms, _ := newTestFSMs(3)
	c := NewCluster(fsms)
	require.NoError(t, c.Bootstrap(c.Configuration(3)))
	require.NoError(t, c.Start())
	require.True(t, c.StepUntilHasLeader(5000))

	firstLeader := c.LeaderIndex()
	require.True(t, c.Depose(), "leader never stepped down")

	ok := c.StepUntil(func(c *Cluster) bool {
		li := c.LeaderIndex()
		return li < c.N() && li != firstLeader
	}, 10000)
	require.True(t, ok, "no new leader elected after deposing the old one")
	assert.Empty(t, c.Violations())
}

// S4: the old leader appends an entry that never reaches a majority,
// gets partitioned away, and a new leader commits a different entry at
// the same index; once reconnected the old leader's conflicting entry
// is overwritten rather than kept.
func TestLogConflictResolution(t *testing.T) {
	fsms, _ := newTestFSMs(3)
	c := NewCluster(fsms)
	require.NoError(t, c.Bootstrap(c.Configuration(3)))
	require.NoError(t, c.Start())
	require.True(t, c.Elect(0))

	oldLeader := c.Get(0)
	require.NoError(t, oldLeader.Apply([]byte("settled"), func(result interface{}, err error) {}))
	settledIndex := oldLeader.LastIndex()
	require.True(t, c.StepUntilApplied(c.N(), settledIndex, 5000))

	c.Disconnect(0, 1)
	c.Disconnect(0, 2)

	require.NoError(t, oldLeader.Apply([]byte("stale"), func(result interface{}, err error) {}))
	staleIndex := oldLeader.LastIndex()

	ok := c.StepUntil(func(c *Cluster) bool {
		li := c.LeaderIndex()
		return li != c.N() && li != 0
	}, 10000)
	require.True(t, ok, "remaining majority never elected a new leader")

	newLeaderIdx := c.LeaderIndex()
	newLeader := c.Get(newLeaderIdx)
	require.NoError(t, newLeader.Apply([]byte("real"), func(result interface{}, err error) {}))
	realIndex := newLeader.LastIndex()
	require.Equal(t, staleIndex, realIndex, "new leader's entry must land at the same index the old leader's stale entry occupied")

	otherFollower := 3 - newLeaderIdx // the third index, since {0,1,2} sum to 3
	require.True(t, c.StepUntilApplied(otherFollower, realIndex, 5000))

	c.Reconnect(0, 1)
	c.Reconnect(0, 2)

	require.True(t, c.StepUntilApplied(0, realIndex, 10000), "old leader never converged after conflict resolution")
	entry, ok := c.Get(0).EntryAt(realIndex)
	require.True(t, ok)
	assert.Equal(t, []byte("real"), entry.Payload)
	assert.Empty(t, c.Violations())
}

// S5: a follower that falls behind past the leader's compaction
// trailing window catches up via InstallSnapshot instead of a full
// AppendEntries replay.
func TestSnapshotInstall(t *testing.T) {
	fsms, concrete := newTestFSMs(3)
	c := NewCluster(fsms)
	c.SetSnapshotCompaction(3, 1) // compact after 3 applied entries, keep only 1 trailing
	require.NoError(t, c.Bootstrap(c.Configuration(3)))
	require.NoError(t, c.Start())
	require.True(t, c.StepUntilHasLeader(5000))

	li := c.LeaderIndex()
	lagging := (li + 1) % c.N()
	caughtUp := (li + 2) % c.N()
	c.Kill(lagging)

	leader := c.Get(li)
	var lastIndex uint64
	for i := 0; i < 8; i++ {
		require.NoError(t, leader.Apply([]byte("entry"), func(result interface{}, err error) {}))
		lastIndex = leader.LastIndex()
	}
	require.True(t, c.StepUntilApplied(caughtUp, lastIndex, 5000))
	// Give the leader time to notice its applied backlog has crossed
	// the compaction threshold and take a snapshot, shifting its log
	// forward past what the killed follower last saw.
	c.StepUntilElapsed(2000)

	c.servers[lagging].alive = true
	require.True(t, c.StepUntilApplied(lagging, lastIndex, 15000), "lagging server never caught back up")
	assert.Len(t, concrete[lagging].applied, 8)
	assert.Empty(t, c.Violations())
}

// S6: promoting a non-voter that never catches up (disconnected from
// the leader) abandons the round once MaxCatchUpDurationMS elapses,
// reporting failure through the promotion callback rather than hanging
// or silently making it a voter.
func TestNonVoterPromotionRoundFailure(t *testing.T) {
	fsms, _ := newTestFSMs(3)
	c := NewCluster(fsms)
	require.NoError(t, c.Bootstrap(c.Configuration(3)))
	require.NoError(t, c.Start())
	require.True(t, c.StepUntilHasLeader(5000))

	li := c.LeaderIndex()
	leader := c.Get(li)

	newFSM := &testFSM{}
	newIdx := c.Grow(newFSM)
	newID := c.servers[newIdx].id
	require.NoError(t, leader.AddServer(newID, c.servers[newIdx].address))

	// Never start the new server and cut it off from the leader: it
	// can never catch up, so the round must eventually be abandoned.
	c.Disconnect(newIdx, li)

	var cbCalls int
	var cbErr error
	err := leader.PromoteServer(newID, func(e error) {
		cbCalls++
		cbErr = e
	})
	require.NoError(t, err)

	ok := c.StepUntil(func(c *Cluster) bool { return cbCalls > 0 }, 10000)
	require.True(t, ok, "promotion round was never abandoned")
	assert.Equal(t, 1, cbCalls)
	assert.Error(t, cbErr)

	server := leader.Configuration().Get(newID)
	require.NotNil(t, server)
	assert.False(t, server.Voting, "server must not have been promoted to voter")
}
