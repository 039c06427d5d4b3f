package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/brauner/raft"
)

// Server serves /healthz and /readyz for a single raft.Raft instance,
// the shape cmd/raftd's metrics command wires alongside
// pkg/metrics.Handler() on the same mux.
type Server struct {
	raft *raft.Raft
	mux  *http.ServeMux
}

// NewServer builds a Server reporting r's health.
func NewServer(r *raft.Raft) *Server {
	s := &Server{raft: r, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.healthzHandler)
	s.mux.HandleFunc("/readyz", s.readyzHandler)
	return s
}

// Handler returns the http.Handler for embedding in another mux
// (alongside pkg/metrics.Handler(), for instance).
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts a standalone HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// healthzHandler is a liveness probe: 200 as long as the process can
// answer at all, regardless of cluster state.
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Observe(s.raft))
}

// readyzHandler is a readiness probe: 200 only once this server's view
// of the cluster has a leader, so a load balancer or join script can
// wait on it.
func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot := Observe(s.raft)
	status := http.StatusOK
	if !snapshot.HasLeader {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
