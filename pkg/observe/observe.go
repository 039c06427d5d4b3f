// Package observe provides an in-memory broker that fans a single
// raft.Raft instance's Observation stream out to any number of
// subscribers without ever blocking the instance's own thread of
// execution.
package observe

import (
	"sync"

	"github.com/brauner/raft"
	"github.com/brauner/raft/pkg/metrics"
)

// Subscriber is a channel that receives observations.
type Subscriber chan raft.Observation

// Broker implements raft.Observer and distributes every Observation it
// receives to all current subscribers. Observe itself never blocks: it
// hands off to a buffered internal channel drained by a background
// goroutine, the only goroutine in this package.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	obsCh       chan raft.Observation
	stopCh      chan struct{}

	// exportMetrics, when true, mirrors every observation into the
	// pkg/metrics gauges (RaftState, RaftTerm, RaftCommitIndex).
	exportMetrics bool
}

// NewBroker creates a broker. If exportMetrics is true the broker also
// updates pkg/metrics on every observation, so callers get Prometheus
// visibility for free by wiring one Broker as the raft.Config.Observer.
func NewBroker(exportMetrics bool) *Broker {
	return &Broker{
		subscribers:   make(map[Subscriber]bool),
		obsCh:         make(chan raft.Observation, 100),
		stopCh:        make(chan struct{}),
		exportMetrics: exportMetrics,
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop ends the broker's distribution loop. It does not close subscriber
// channels; Unsubscribe does that.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new channel that will receive every subsequent
// observation, buffered so a slow reader cannot stall the broker.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	close(sub)
}

// Observe implements raft.Observer.
func (b *Broker) Observe(o raft.Observation) {
	select {
	case b.obsCh <- o:
	case <-b.stopCh:
	default:
		// Broker loop is momentarily behind; drop rather than block
		// the raft instance's own thread of execution.
	}
}

func (b *Broker) run() {
	for {
		select {
		case o := <-b.obsCh:
			b.export(o)
			b.broadcast(o)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) export(o raft.Observation) {
	if !b.exportMetrics {
		return
	}
	metrics.RaftTerm.Set(float64(o.Term))
	metrics.RaftCommitIndex.Set(float64(o.CommitIndex))
	for _, role := range []raft.Role{raft.RoleUnavailable, raft.RoleFollower, raft.RoleCandidate, raft.RoleLeader} {
		v := 0.0
		if role == o.Role {
			v = 1.0
		}
		metrics.RaftState.WithLabelValues(role.String()).Set(v)
	}
	if o.Kind == raft.ObservationRoleChange && o.Role == raft.RoleCandidate {
		metrics.RaftElectionsTotal.Inc()
	}
}

func (b *Broker) broadcast(o raft.Observation) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- o:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
