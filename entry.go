package raft

// EntryType distinguishes a user command from an internal configuration
// change in the log.
type EntryType uint8

const (
	// EntryCommand is an opaque payload destined for the FSM.
	EntryCommand EntryType = iota + 1
	// EntryConfiguration carries an encoded Configuration.
	EntryConfiguration
)

func (t EntryType) String() string {
	switch t {
	case EntryCommand:
		return "command"
	case EntryConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// batch is the shared backing allocation for a group of entries decoded
// together (e.g. from a single disk read or a single AppendEntries
// payload). Entries that share a batch hold a reference to it instead of
// copying its bytes; the batch is freed once every entry referencing it
// has been released.
type batch struct {
	data []byte
}

// Entry is a single term-tagged log record. Payload may either own its
// bytes outright (Batch == nil) or be a slice into a sibling batch's
// backing array (Batch != nil); either way callers must treat Payload as
// read-only.
type Entry struct {
	Term    uint64
	Type    EntryType
	Payload []byte

	batch *batch
}

// Clone returns a shallow copy of e; Payload is shared, never copied, so
// the result must not be mutated.
func (e Entry) Clone() Entry {
	return e
}
