package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendAndGet(t *testing.T) {
	l := NewLog(0)
	assert.Equal(t, uint64(0), l.LastIndex())
	assert.Equal(t, uint64(1), l.FirstIndex())

	i1 := l.Append(1, EntryCommand, []byte("a"), nil)
	i2 := l.Append(1, EntryCommand, []byte("b"), nil)
	i3 := l.Append(2, EntryCommand, []byte("c"), nil)

	assert.Equal(t, uint64(1), i1)
	assert.Equal(t, uint64(2), i2)
	assert.Equal(t, uint64(3), i3)
	assert.Equal(t, 3, l.NEntries())
	assert.Equal(t, uint64(3), l.LastIndex())
	assert.Equal(t, uint64(2), l.LastTerm())

	e, ok := l.Get(2)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), e.Payload)
	assert.Equal(t, uint64(1), e.Term)

	_, ok = l.Get(4)
	assert.False(t, ok)
	_, ok = l.Get(0)
	assert.False(t, ok)
}

func TestLogGrowsPastInitialCapacity(t *testing.T) {
	l := NewLog(0)
	const n = 64 // comfortably past the default ring capacity of 4
	for i := 0; i < n; i++ {
		l.Append(1, EntryCommand, []byte{byte(i)}, nil)
	}
	assert.Equal(t, n, l.NEntries())
	for i := 1; i <= n; i++ {
		e, ok := l.Get(uint64(i))
		require.True(t, ok)
		assert.Equal(t, byte(i-1), e.Payload[0])
	}
}

func TestLogAcquireRelease(t *testing.T) {
	l := NewLog(0)
	l.Append(1, EntryCommand, []byte("a"), nil)
	l.Append(1, EntryCommand, []byte("b"), nil)
	l.Append(1, EntryCommand, []byte("c"), nil)

	entries, n := l.Acquire(2)
	require.Equal(t, 2, n)
	assert.Equal(t, []byte("b"), entries[0].Payload)
	assert.Equal(t, []byte("c"), entries[1].Payload)

	entries, n = l.Acquire(0)
	require.Equal(t, 3, n)
	assert.Equal(t, []byte("a"), entries[0].Payload)

	l.Release(2, 2)
	l.Release(1, 3)
}

func TestLogAcquireOutOfRange(t *testing.T) {
	l := NewLog(0)
	entries, n := l.Acquire(1)
	assert.Nil(t, entries)
	assert.Equal(t, 0, n)

	l.Append(1, EntryCommand, []byte("a"), nil)
	entries, n = l.Acquire(5)
	assert.Nil(t, entries)
	assert.Equal(t, 0, n)
}

func TestLogTruncateSuffix(t *testing.T) {
	l := NewLog(0)
	l.Append(1, EntryCommand, []byte("a"), nil)
	l.Append(1, EntryCommand, []byte("b"), nil)
	l.Append(1, EntryCommand, []byte("c"), nil)

	l.TruncateSuffix(2)
	assert.Equal(t, uint64(1), l.LastIndex())
	_, ok := l.Get(2)
	assert.False(t, ok)
	_, ok = l.Get(3)
	assert.False(t, ok)

	// The discarded indexes are free for a new leader's entries.
	idx := l.Append(2, EntryCommand, []byte("d"), nil)
	assert.Equal(t, uint64(2), idx)
	e, ok := l.Get(2)
	require.True(t, ok)
	assert.Equal(t, []byte("d"), e.Payload)
}

func TestLogTruncateSuffixRetainsOrphanUntilReleased(t *testing.T) {
	l := NewLog(0)
	l.Append(1, EntryCommand, []byte("a"), nil)
	l.Append(1, EntryCommand, []byte("b"), nil)

	entries, n := l.Acquire(2) // bumps index 2's refcount to 2
	require.Equal(t, 1, n)
	held := entries[0]

	l.TruncateSuffix(2)
	assert.Equal(t, uint64(1), l.LastIndex())

	l.Release(2, 1)
	assert.Equal(t, []byte("b"), held.Payload)
}

func TestLogShiftPrefix(t *testing.T) {
	l := NewLog(0)
	for i := 0; i < 5; i++ {
		l.Append(1, EntryCommand, []byte{byte(i)}, nil)
	}

	l.ShiftPrefix(3)
	assert.Equal(t, uint64(3), l.Offset())
	assert.Equal(t, uint64(4), l.FirstIndex())
	assert.Equal(t, uint64(5), l.LastIndex())

	_, ok := l.Get(3)
	assert.False(t, ok)
	e, ok := l.Get(4)
	require.True(t, ok)
	assert.Equal(t, byte(3), e.Payload[0])
}

func TestLogShiftPrefixClampsToLastIndex(t *testing.T) {
	l := NewLog(0)
	l.Append(1, EntryCommand, []byte("a"), nil)

	l.ShiftPrefix(100)
	assert.Equal(t, uint64(1), l.Offset())
	assert.Equal(t, 0, l.NEntries())
}

func TestLogTermOfOutOfRange(t *testing.T) {
	l := NewLog(0)
	l.Append(5, EntryCommand, []byte("a"), nil)
	assert.Equal(t, uint64(5), l.TermOf(1))
	assert.Equal(t, uint64(0), l.TermOf(2))
	assert.Equal(t, uint64(0), l.TermOf(0))
}

func TestLogRestoredFromNonZeroOffset(t *testing.T) {
	l := NewLog(10) // as if restored from a snapshot at index 10
	assert.Equal(t, uint64(10), l.LastIndex())
	assert.Equal(t, uint64(11), l.FirstIndex())

	idx := l.Append(3, EntryCommand, []byte("a"), nil)
	assert.Equal(t, uint64(11), idx)
}
