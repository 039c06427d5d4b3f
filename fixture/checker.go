package fixture

import (
	"fmt"

	"github.com/brauner/raft"
)

// checker watches every Step for the two safety properties spec.md's
// test scenarios assert: Election Safety (no two leaders in the same
// term) and Leader Append-Only (while the stable leader does not
// change, the term recorded at a given index in its own log never
// changes once observed). termAtIndex is scoped to the current stable
// leader's tenure (identified by server id + term), not to the
// cluster's lifetime: when a new leader's tenure begins, its log is
// free to diverge from whatever the previous leader had appended (and
// never committed) at the same indexes, so termAtIndex is re-baselined
// rather than compared across tenures.
type checker struct {
	leaderOfTerm map[uint64]uint64
	termAtIndex  map[uint64]uint64
	stableLeader uint64
	stableTerm   uint64
	Violations   []string
}

func newChecker() *checker {
	return &checker{
		leaderOfTerm: make(map[uint64]uint64),
		termAtIndex:  make(map[uint64]uint64),
	}
}

func (ck *checker) observe(c *Cluster) {
	for _, s := range c.servers {
		if !s.alive || s.raft.State() != raft.RoleLeader {
			continue
		}
		term := s.raft.Term()
		if existing, ok := ck.leaderOfTerm[term]; ok && existing != s.id {
			ck.Violations = append(ck.Violations, fmt.Sprintf(
				"election safety: servers %d and %d both leader in term %d", existing, s.id, term))
		} else {
			ck.leaderOfTerm[term] = s.id
		}

		if term < ck.stableTerm {
			// A deposed leader that has not yet noticed a higher term
			// exists elsewhere; its log is no longer the one the
			// Leader Append-Only check is tracking.
			continue
		}
		if term > ck.stableTerm || s.id != ck.stableLeader {
			// A new leader's tenure begins: re-baseline rather than
			// compare against the previous stable leader's history.
			ck.stableLeader = s.id
			ck.stableTerm = term
			ck.termAtIndex = make(map[uint64]uint64)
		}

		for idx := s.raft.LastIndex(); idx >= 1; idx-- {
			entry, ok := s.raft.EntryAt(idx)
			if !ok {
				break
			}
			if prevTerm, seen := ck.termAtIndex[idx]; seen {
				if prevTerm != entry.Term {
					ck.Violations = append(ck.Violations, fmt.Sprintf(
						"leader append-only: index %d term changed from %d to %d", idx, prevTerm, entry.Term))
				}
				break
			}
			ck.termAtIndex[idx] = entry.Term
		}
	}
}
