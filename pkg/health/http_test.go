package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brauner/raft"
	"github.com/brauner/raft/fixture"
	"github.com/stretchr/testify/require"
)

// noopFSM satisfies raft.FSM without keeping any state; the health
// endpoints only read Raft's own bookkeeping, never FSM results.
type noopFSM struct{}

func (noopFSM) Apply(payload []byte) (interface{}, error) { return nil, nil }
func (noopFSM) Snapshot() ([][]byte, error)                { return nil, nil }
func (noopFSM) Restore(data [][]byte) error                { return nil }

func TestServerReadyzNoLeader(t *testing.T) {
	r := raft.New(raft.Config{ID: 1, Address: "1"}, nil, noopFSM{})

	srv := NewServer(r)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerHealthzAlwaysOK(t *testing.T) {
	r := raft.New(raft.Config{ID: 1, Address: "1"}, nil, noopFSM{})

	srv := NewServer(r)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerReadyzHasLeader(t *testing.T) {
	cluster := fixture.NewCluster([]raft.FSM{noopFSM{}, noopFSM{}, noopFSM{}})
	require.NoError(t, cluster.Bootstrap(cluster.Configuration(3)))
	require.NoError(t, cluster.Start())

	ok := cluster.StepUntil(func(c *fixture.Cluster) bool {
		return c.LeaderIndex() < c.N()
	}, 5000)
	require.True(t, ok, "cluster failed to elect a leader")

	leader := cluster.Get(cluster.LeaderIndex())
	srv := NewServer(leader)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerMethodNotAllowed(t *testing.T) {
	r := raft.New(raft.Config{ID: 1, Address: "1"}, nil, noopFSM{})

	srv := NewServer(r)
	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
