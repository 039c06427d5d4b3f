package raft

// Log is an in-memory ring buffer of log entries. It is indexed by a
// dense, 1-based logical index; Offset is the index of the entry that
// would immediately precede the first live one (it tracks compaction:
// after a snapshot, Offset advances to the snapshot's index).
//
// Entries are refcounted so that a leader can hand the same Entry to a
// disk-append, a peer send, and an FSM apply concurrently without
// copying: Acquire bumps the count, Release drops it, and Append seeds
// it at 1 to represent the Log's own hold on the slot.
type Log struct {
	storage []Entry
	front   int // ring index of the first live entry
	count   int // number of live entries
	offset  uint64

	// refs tracks the refcount of whatever entry currently occupies a
	// live index's ring slot. It is never touched by a discarded
	// index's outstanding hold (see orphans) so that an Append reusing
	// a just-truncated index starts that index's refcount fresh,
	// instead of aliasing onto whatever an in-flight Acquire of the
	// discarded entry is still tracking.
	refs map[uint64]int
	// orphans holds, keyed by index, entries that were dropped from the
	// ring by TruncateSuffix or ShiftPrefix while still referenced by an outstanding
	// Acquire, together with their own independent refcount. They are
	// retained here, entirely separate from refs and from whatever
	// entry later reuses that index, until their refcount reaches zero.
	// Only one generation of orphan per index is tracked: the
	// single-threaded cooperative dispatch model (spec.md §4) never has
	// two outstanding Acquires in flight for the same index at once, so
	// an index cannot be orphaned a second time before its first orphan
	// is released.
	orphans map[uint64]*orphanEntry
}

// orphanEntry is a truncated-away entry still held by an outstanding
// Acquire, together with the refcount Release decrements.
type orphanEntry struct {
	entry Entry
	refs  int
}

// NewLog returns an empty Log with the given compaction offset (0 for a
// brand new cluster, or a snapshot's index when restoring).
func NewLog(offset uint64) *Log {
	return &Log{
		storage: make([]Entry, 4),
		refs:    make(map[uint64]int),
		orphans: make(map[uint64]*orphanEntry),
		offset:  offset,
	}
}

// FirstIndex returns the index of the oldest live entry, or Offset+1
// when the log is empty (the index the next Append would use if Offset
// did not change).
func (l *Log) FirstIndex() uint64 {
	return l.offset + 1
}

// LastIndex returns the index of the newest live entry, or Offset when
// the log is empty.
func (l *Log) LastIndex() uint64 {
	return l.offset + uint64(l.count)
}

// LastTerm returns the term of the newest live entry, or 0 when empty.
func (l *Log) LastTerm() uint64 {
	if l.count == 0 {
		return 0
	}
	return l.termAtSlot(l.slotFor(l.LastIndex()))
}

// NEntries returns the number of live entries currently in memory.
func (l *Log) NEntries() int {
	return l.count
}

// Offset returns the compaction offset.
func (l *Log) Offset() uint64 {
	return l.offset
}

func (l *Log) termAtSlot(slot int) uint64 {
	return l.storage[slot].Term
}

func (l *Log) slotFor(index uint64) int {
	return (l.front + int(index-l.offset-1)) % len(l.storage)
}

func (l *Log) inRange(index uint64) bool {
	return l.count > 0 && index >= l.FirstIndex() && index <= l.LastIndex()
}

// TermOf returns the term of the entry at index, or 0 if index is
// outside [FirstIndex(), LastIndex()].
func (l *Log) TermOf(index uint64) uint64 {
	if !l.inRange(index) {
		return 0
	}
	return l.termAtSlot(l.slotFor(index))
}

// Get returns the entry at index and true, or the zero Entry and false
// if index is out of range.
func (l *Log) Get(index uint64) (Entry, bool) {
	if !l.inRange(index) {
		return Entry{}, false
	}
	return l.storage[l.slotFor(index)], true
}

func (l *Log) grow() {
	newCap := len(l.storage) * 2
	if newCap == 0 {
		newCap = 4
	}
	newStorage := make([]Entry, newCap)
	for i := 0; i < l.count; i++ {
		newStorage[i] = l.storage[(l.front+i)%len(l.storage)]
	}
	l.storage = newStorage
	l.front = 0
}

// Append adds a new entry at LastIndex()+1 and seeds its refcount at 1.
// b may be nil for an entry that owns its own payload outright.
func (l *Log) Append(term uint64, typ EntryType, payload []byte, b *batch) uint64 {
	if l.count == len(l.storage) {
		l.grow()
	}
	index := l.LastIndex() + 1
	slot := (l.front + l.count) % len(l.storage)
	l.storage[slot] = Entry{Term: term, Type: typ, Payload: payload, batch: b}
	l.count++
	l.refs[index] = 1
	return index
}

// Acquire returns a borrowed view of every live entry with index >=
// fromIndex, and bumps each of their refcounts by one. The returned
// slice must later be passed to Release with the same fromIndex.
func (l *Log) Acquire(fromIndex uint64) ([]Entry, int) {
	if fromIndex == 0 {
		fromIndex = l.FirstIndex()
	}
	if l.count == 0 || fromIndex > l.LastIndex() {
		return nil, 0
	}
	if fromIndex < l.FirstIndex() {
		fromIndex = l.FirstIndex()
	}
	n := int(l.LastIndex() - fromIndex + 1)
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		idx := fromIndex + uint64(i)
		out[i] = l.storage[l.slotFor(idx)]
		l.refs[idx]++
	}
	return out, n
}

// Release drops one reference from each index in [fromIndex,
// fromIndex+n). An index with an outstanding orphan (a since-truncated
// entry this same Acquire call captured) has its orphan's independent
// refcount decremented instead of whatever entry currently occupies
// that index's slot, so a truncate-and-reappend at the same index
// in between Acquire and Release can never release the wrong entry.
func (l *Log) Release(fromIndex uint64, n int) {
	for i := 0; i < n; i++ {
		idx := fromIndex + uint64(i)
		if o, ok := l.orphans[idx]; ok {
			o.refs--
			if o.refs <= 0 {
				delete(l.orphans, idx)
			}
			continue
		}
		c, ok := l.refs[idx]
		if !ok {
			continue
		}
		c--
		if c <= 0 {
			delete(l.refs, idx)
		} else {
			l.refs[idx] = c
		}
	}
}

// TruncateSuffix discards every live entry with index >= fromIndex.
// Entries with an outstanding Acquire are preserved in the orphan table,
// under their own independent refcount, until their last Release; every
// truncated index is removed from refs immediately, so a subsequent
// Append reusing that index starts it with a fresh refcount rather than
// inheriting (and corrupting) the discarded entry's count.
func (l *Log) TruncateSuffix(fromIndex uint64) {
	if l.count == 0 || fromIndex > l.LastIndex() {
		return
	}
	if fromIndex < l.FirstIndex() {
		fromIndex = l.FirstIndex()
	}
	for idx := fromIndex; idx <= l.LastIndex(); idx++ {
		if c, ok := l.refs[idx]; ok {
			delete(l.refs, idx)
			c--
			if c > 0 {
				l.orphans[idx] = &orphanEntry{entry: l.storage[l.slotFor(idx)], refs: c}
			}
		}
	}
	l.count = int(fromIndex - l.offset - 1)
}

// ShiftPrefix advances the logical front of the log, discarding entries
// with index <= upToIndex whose refcount has already dropped to zero,
// and raising Offset to upToIndex. Entries still referenced are moved
// into the orphan table so ShiftPrefix never blocks on an outstanding
// Acquire.
func (l *Log) ShiftPrefix(upToIndex uint64) {
	if upToIndex <= l.offset {
		return
	}
	last := l.LastIndex()
	if upToIndex > last {
		upToIndex = last
	}
	n := int(upToIndex - l.offset)
	for i := 0; i < n; i++ {
		idx := l.offset + 1 + uint64(i)
		if c, ok := l.refs[idx]; ok {
			delete(l.refs, idx)
			c--
			if c > 0 {
				l.orphans[idx] = &orphanEntry{entry: l.storage[l.slotFor(idx)], refs: c}
			}
		}
	}
	l.front = (l.front + n) % len(l.storage)
	l.count -= n
	l.offset = upToIndex
}
