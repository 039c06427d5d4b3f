// Package storage provides a disk-backed implementation of the storage
// half of raft.IO: term/vote, log entries, and snapshots, all on a
// single BoltDB file. It does not implement Send or the tick/receive
// registration; those belong to a transport, which this package does
// not provide (see cmd/raftd for how the two are paired).
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/brauner/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta         = []byte("meta")
	bucketEntries      = []byte("entries")
	bucketSnapshot     = []byte("snapshot")
	bucketSnapshotMeta = []byte("snapshot-meta")
)

var (
	keyTerm     = []byte("term")
	keyVotedFor = []byte("voted_for")
	keyLatest   = []byte("latest")
)

// snapshotMeta is the JSON record stored under bucketSnapshotMeta; the
// chunk payloads themselves live in bucketSnapshot, keyed by chunk
// number, so a snapshot's metadata can be read without paging in its
// (potentially large) data.
type snapshotMeta struct {
	Index              uint64
	Term               uint64
	Configuration      raft.Configuration
	ConfigurationIndex uint64
	Chunks             int
}

// BoltStore is a disk-backed raft.IO storage half, on a single BoltDB
// file opened once at construction.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir
// and ensures its buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "raft.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketEntries, bucketSnapshot, bucketSnapshotMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func chunkKey(n int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(n))
	return key
}

// Load implements raft.IO. It returns the persisted term, voted-for id,
// latest snapshot (if any), and every entry following it, in ascending
// index order.
func (s *BoltStore) Load(ctx context.Context) (uint64, uint64, *raft.Snapshot, []raft.Entry, error) {
	var (
		term     uint64
		votedFor uint64
		snapshot *raft.Snapshot
		entries  []raft.Entry
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyTerm); v != nil {
			term = binary.BigEndian.Uint64(v)
		}
		if v := meta.Get(keyVotedFor); v != nil {
			votedFor = binary.BigEndian.Uint64(v)
		}

		if v := tx.Bucket(bucketSnapshotMeta).Get(keyLatest); v != nil {
			var sm snapshotMeta
			if err := json.Unmarshal(v, &sm); err != nil {
				return fmt.Errorf("decode snapshot metadata: %w", err)
			}
			chunks := tx.Bucket(bucketSnapshot)
			data := make([][]byte, sm.Chunks)
			for i := 0; i < sm.Chunks; i++ {
				raw := chunks.Get(chunkKey(i))
				data[i] = append([]byte(nil), raw...)
			}
			snapshot = &raft.Snapshot{
				Index:              sm.Index,
				Term:               sm.Term,
				Configuration:      sm.Configuration,
				ConfigurationIndex: sm.ConfigurationIndex,
				Data:               data,
			}
		}

		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var e raft.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry at %x: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return 0, 0, nil, nil, err
	}
	return term, votedFor, snapshot, entries, nil
}

// Bootstrap implements raft.IO. It fails if any state has already been
// persisted, matching the in-memory fixture's contract.
func (s *BoltStore) Bootstrap(cfg raft.Configuration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyTerm) != nil {
			return raft.ErrOutOfMemory
		}
		entries := tx.Bucket(bucketEntries)
		if k, _ := entries.Cursor().First(); k != nil {
			return raft.ErrOutOfMemory
		}
		if tx.Bucket(bucketSnapshotMeta).Get(keyLatest) != nil {
			return raft.ErrOutOfMemory
		}

		termBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(termBuf, 1)
		if err := meta.Put(keyTerm, termBuf); err != nil {
			return err
		}

		entry := raft.Entry{Term: 1, Type: raft.EntryConfiguration, Payload: raft.EncodeConfiguration(cfg)}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode bootstrap entry: %w", err)
		}
		return entries.Put(indexKey(1), data)
	})
}

// SetTerm implements raft.IO. The callback fires synchronously once the
// transaction commits, which is bbolt's own durability boundary.
func (s *BoltStore) SetTerm(term uint64, cb raft.TermCallback) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, term)
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyTerm, buf); err != nil {
			return err
		}
		return meta.Delete(keyVotedFor)
	})
	cb(wrapErr(err))
}

// SetVote implements raft.IO.
func (s *BoltStore) SetVote(serverID uint64, cb raft.VoteCallback) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, serverID)
		return tx.Bucket(bucketMeta).Put(keyVotedFor, buf)
	})
	cb(wrapErr(err))
}

// Append implements raft.IO, persisting entries starting at the log's
// previous LastIndex()+1. The caller (the consensus core) guarantees
// the index sequencing; this store only needs to know where the
// highest persisted entry currently sits, or, when a snapshot has
// covered every entry, the snapshot's index.
func (s *BoltStore) Append(entries []raft.Entry, cb raft.AppendCallback) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		next, err := nextIndex(b)
		if err != nil {
			return err
		}
		if next == 1 {
			if v := tx.Bucket(bucketSnapshotMeta).Get(keyLatest); v != nil {
				var sm snapshotMeta
				if err := json.Unmarshal(v, &sm); err != nil {
					return fmt.Errorf("decode snapshot metadata: %w", err)
				}
				next = sm.Index + 1
			}
		}
		for i, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode entry: %w", err)
			}
			if err := b.Put(indexKey(next+uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
	cb(wrapErr(err))
}

func nextIndex(b *bolt.Bucket) (uint64, error) {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 1, nil
	}
	return binary.BigEndian.Uint64(k) + 1, nil
}

// Truncate implements raft.IO, discarding persisted entries with index
// >= index.
func (s *BoltStore) Truncate(index uint64, cb raft.TruncateCallback) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(indexKey(index)); k != nil; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	cb(wrapErr(err))
}

// SnapshotPut implements raft.IO, replacing the latest snapshot record
// and its chunk payloads, then dropping persisted entries now covered
// by it.
func (s *BoltStore) SnapshotPut(req raft.SnapshotRequest, snapshot *raft.Snapshot, cb raft.SnapshotPutCallback) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSnapshot); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		chunks, err := tx.CreateBucket(bucketSnapshot)
		if err != nil {
			return err
		}
		for i, chunk := range snapshot.Data {
			if err := chunks.Put(chunkKey(i), chunk); err != nil {
				return err
			}
		}

		sm := snapshotMeta{
			Index:              snapshot.Index,
			Term:               snapshot.Term,
			Configuration:      snapshot.Configuration,
			ConfigurationIndex: snapshot.ConfigurationIndex,
			Chunks:             len(snapshot.Data),
		}
		data, err := json.Marshal(sm)
		if err != nil {
			return fmt.Errorf("encode snapshot metadata: %w", err)
		}
		if err := tx.Bucket(bucketSnapshotMeta).Put(keyLatest, data); err != nil {
			return err
		}

		entries := tx.Bucket(bucketEntries)
		c := entries.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= snapshot.Index; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := entries.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	cb(wrapErr(err))
}

// SnapshotGet implements raft.IO.
func (s *BoltStore) SnapshotGet(req raft.SnapshotRequest, cb raft.SnapshotGetCallback) {
	var snapshot *raft.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshotMeta).Get(keyLatest)
		if v == nil {
			return nil
		}
		var sm snapshotMeta
		if err := json.Unmarshal(v, &sm); err != nil {
			return fmt.Errorf("decode snapshot metadata: %w", err)
		}
		chunks := tx.Bucket(bucketSnapshot)
		data := make([][]byte, sm.Chunks)
		for i := 0; i < sm.Chunks; i++ {
			data[i] = append([]byte(nil), chunks.Get(chunkKey(i))...)
		}
		snapshot = &raft.Snapshot{
			Index:              sm.Index,
			Term:               sm.Term,
			Configuration:      sm.Configuration,
			ConfigurationIndex: sm.ConfigurationIndex,
			Data:               data,
		}
		return nil
	})
	cb(snapshot, wrapErr(err))
}

// wrapErr maps a raw bbolt/json error onto raft.ErrIOFault, the kind
// the engine expects from a storage completion failure, while
// preserving the original error text via %w.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", raft.ErrIOFault, err)
}
