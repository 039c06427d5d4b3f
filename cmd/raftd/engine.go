package main

import (
	"math/rand"
	"sync"
	"time"

	"github.com/brauner/raft"
	"github.com/brauner/raft/pkg/storage"
)

// localIO pairs a BoltStore for durable term/vote/log/snapshot state
// with a real wall clock and a single-process transport: Send loops a
// message straight back to this server's own RegisterReceive callback,
// since this demo does not ship a network transport (pkg/storage only
// implements the persistence half of raft.IO; see its doc comment).
// This makes raftd correct only for a single-voter configuration —
// anything it sends is addressed to itself or nobody.
type localIO struct {
	*storage.BoltStore

	mu     sync.Mutex
	tickFn func(elapsedMS int64)
	recvFn func(msg raft.Message)
	rnd    *rand.Rand
	start  time.Time
}

func newLocalIO(store *storage.BoltStore) *localIO {
	return &localIO{
		BoltStore: store,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		start:     time.Now(),
	}
}

func (io *localIO) Send(req raft.SendRequest, msg raft.Message, cb raft.SendCallback) {
	io.mu.Lock()
	recv := io.recvFn
	io.mu.Unlock()
	if recv != nil {
		recv(msg)
	}
	cb(nil)
}

func (io *localIO) Time() int64 { return time.Since(io.start).Milliseconds() }

func (io *localIO) Random(low, high int64) int64 {
	if high <= low {
		return low
	}
	return low + io.rnd.Int63n(high-low)
}

func (io *localIO) RegisterTick(fn func(elapsedMS int64)) {
	io.mu.Lock()
	io.tickFn = fn
	io.mu.Unlock()
}

func (io *localIO) RegisterReceive(fn func(msg raft.Message)) {
	io.mu.Lock()
	io.recvFn = fn
	io.mu.Unlock()
}

// Engine drives a *raft.Raft on a single goroutine: wall-clock ticks
// and any externally-submitted work (a status read, an Apply call)
// are serialized through the same loop, matching the engine's
// single-logical-thread concurrency model even though the tick source
// here is a real timer instead of fixture's virtual clock.
type Engine struct {
	r    *raft.Raft
	io   *localIO
	jobs chan func()
	stop chan struct{}
}

func NewEngine(r *raft.Raft, io *localIO) *Engine {
	return &Engine{r: r, io: io, jobs: make(chan func(), 8), stop: make(chan struct{})}
}

const tickQuantum = 25 * time.Millisecond

func (e *Engine) Run() {
	ticker := time.NewTicker(tickQuantum)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.io.mu.Lock()
			fn := e.io.tickFn
			e.io.mu.Unlock()
			if fn != nil {
				fn(tickQuantum.Milliseconds())
			}
		case job := <-e.jobs:
			job()
		case <-e.stop:
			return
		}
	}
}

// Do runs fn against the engine's Raft instance on the engine's
// goroutine and blocks until it returns.
func (e *Engine) Do(fn func(r *raft.Raft)) {
	done := make(chan struct{})
	e.jobs <- func() { fn(e.r); close(done) }
	<-done
}

func (e *Engine) Stop() { close(e.stop) }
