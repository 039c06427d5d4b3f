package raft

// FSM is the user-supplied replicated state machine. The engine never
// inspects command payloads; it only sequences calls into FSM in
// commit order.
type FSM interface {
	// Apply commits payload, previously appended via Apply(cmd), to the
	// state machine. Returning an error does not stop replication; it
	// is only surfaced to the originating client's apply future.
	Apply(payload []byte) (result interface{}, err error)

	// Snapshot is called when the engine decides to compact the log. It
	// must return a point-in-time, immutable view; the engine may keep
	// applying new entries concurrently with the snapshot being
	// persisted.
	Snapshot() (data [][]byte, err error)

	// Restore replaces the FSM's entire state with the contents of
	// data, previously produced by Snapshot (locally or on another
	// server). Ownership of data transfers to the FSM.
	Restore(data [][]byte) error
}
