package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brauner/raft"
	"github.com/brauner/raft/pkg/observe"
	"github.com/brauner/raft/pkg/storage"
)

// openFromFlags loads an already-bootstrapped data directory,
// constructs a Raft instance over it, starts it, and hands back a
// running Engine plus a closer that stops the engine and the
// underlying store.
func openFromFlags(dataDir string, heartbeatMS, electionMS int64, obs *observe.Broker) (*Engine, *kvFSM, func(), error) {
	desc, err := loadDescriptor(dataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load cluster descriptor (did you run bootstrap?): %w", err)
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	fsm := newKVFSM()
	io := newLocalIO(store)
	cfg := raft.Config{
		ID:                 desc.NodeID,
		Address:            desc.BindAddr,
		HeartbeatTimeoutMS: heartbeatMS,
		ElectionTimeoutMS:  electionMS,
	}
	if obs != nil {
		cfg.Observer = obs
	}

	r := raft.New(cfg, io, fsm)
	if err := r.Start(context.Background()); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("start raft: %w", err)
	}

	engine := NewEngine(r, io)
	go engine.Run()

	closer := func() {
		engine.Stop()
		r.Close()
		store.Close()
	}
	return engine, fsm, closer, nil
}

// waitForLeader blocks until engine's server believes some server
// (possibly itself) is leader, or timeoutMS elapses.
func waitForLeader(engine *Engine, timeoutMS int64) bool {
	deadline := time.After(time.Duration(timeoutMS) * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		var hasLeader bool
		engine.Do(func(r *raft.Raft) { hasLeader = r.LeaderID() != 0 })
		if hasLeader {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return false
		}
	}
}
