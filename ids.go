package raft

import "github.com/google/uuid"

// newRequestID correlates an IO.Send/SnapshotPut/SnapshotGet call with
// its completion, the way the C library keys a pending request off a
// heap-allocated struct pointer; Go has no stable pointer identity
// across GC-relocatable values it wants to expose, so a UUID plays that
// role instead.
func newRequestID() string {
	return uuid.NewString()
}
