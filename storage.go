package loom

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// SnapshotFormatVersion is the current on-disk snapshot layout.
const SnapshotFormatVersion FormatVersion = 1

// Snapshot captures enough manager state to rebuild a session: the local
// identity, the full trunk, and the in-flight local branch. Persisting the
// local branch lets an offline client resume with its unacknowledged edits
// intact; a host that prefers to drop them can clear Local before
// restoring.
type Snapshot[C any] struct {
	Session SessionID
	Trunk   []Commit[C]
	Local   []C
}

// Snapshot captures the manager's current state.
func (m *EditManager[C, D, A]) Snapshot() Snapshot[C] {
	return Snapshot[C]{
		Session: m.localSession,
		Trunk:   m.trunk.snapshot(),
		Local:   m.local.changes(),
	}
}

// RestoreEditManager rebuilds a manager from a snapshot. The restored
// local branch is pinned to the restored trunk tail, matching the state
// the snapshot was taken in.
func RestoreEditManager[C, D, A any](opts Options[C, D, A], snap Snapshot[C]) (*EditManager[C, D, A], error) {
	m, err := NewEditManager(opts)
	if err != nil {
		return nil, err
	}
	if snap.Session != "" {
		if err := m.SetLocalSessionID(snap.Session); err != nil {
			return nil, err
		}
	}
	for _, c := range snap.Trunk {
		m.trunk.append(c)
		m.sessions.Add(c.Session)
	}
	tail := m.trunk.tailSeq()
	for _, change := range snap.Local {
		m.local.push(change, tail)
	}
	m.verifyInvariants()
	return m, nil
}

// storedCommit is the JSON layout of one trunk commit. The changeset is
// encoded separately through the family's ChangeEncoder so the snapshot
// layer never interprets it.
type storedCommit struct {
	Session SessionID       `json:"session"`
	Seq     SeqNumber       `json:"seq"`
	Ref     SeqNumber       `json:"ref"`
	Change  json.RawMessage `json:"change"`
}

type storedSnapshot struct {
	Version FormatVersion     `json:"version"`
	Session SessionID         `json:"session"`
	Trunk   []storedCommit    `json:"trunk"`
	Local   []json.RawMessage `json:"local"`
}

var snapshotBucket = []byte("snapshots")

// BoltSnapshotStore persists snapshots in a bbolt database, one snapshot
// per name. The store owns the database handle until Close.
type BoltSnapshotStore[C any] struct {
	db  *bolt.DB
	enc ChangeEncoder[C]
}

// OpenBoltSnapshotStore opens (creating if needed) a snapshot database at
// path.
func OpenBoltSnapshotStore[C any](path string, enc ChangeEncoder[C]) (*BoltSnapshotStore[C], error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltSnapshotStore[C]{db: db, enc: enc}, nil
}

// Save writes a snapshot under name, replacing any previous one.
func (s *BoltSnapshotStore[C]) Save(name string, snap Snapshot[C]) error {
	stored := storedSnapshot{
		Version: SnapshotFormatVersion,
		Session: snap.Session,
		Trunk:   make([]storedCommit, 0, len(snap.Trunk)),
		Local:   make([]json.RawMessage, 0, len(snap.Local)),
	}
	for _, c := range snap.Trunk {
		data, err := s.enc.EncodeJSON(SnapshotFormatVersion, c.Change)
		if err != nil {
			return fmt.Errorf("encode trunk commit seq %d: %w", c.Seq, err)
		}
		stored.Trunk = append(stored.Trunk, storedCommit{
			Session: c.Session,
			Seq:     c.Seq,
			Ref:     c.Ref,
			Change:  data,
		})
	}
	for i, change := range snap.Local {
		data, err := s.enc.EncodeJSON(SnapshotFormatVersion, change)
		if err != nil {
			return fmt.Errorf("encode local entry %d: %w", i, err)
		}
		stored.Local = append(stored.Local, data)
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(name), payload)
	})
}

// Load reads the snapshot stored under name. A missing name reports
// ErrSnapshotNotFound.
func (s *BoltSnapshotStore[C]) Load(name string) (Snapshot[C], error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(snapshotBucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
		}
		payload = append(payload, data...)
		return nil
	})
	if err != nil {
		return Snapshot[C]{}, err
	}

	var stored storedSnapshot
	if err := json.Unmarshal(payload, &stored); err != nil {
		return Snapshot[C]{}, err
	}
	if stored.Version != SnapshotFormatVersion {
		return Snapshot[C]{}, fmt.Errorf("%w: version %d", ErrSnapshotVersion, stored.Version)
	}

	snap := Snapshot[C]{
		Session: stored.Session,
		Trunk:   make([]Commit[C], 0, len(stored.Trunk)),
		Local:   make([]C, 0, len(stored.Local)),
	}
	for _, c := range stored.Trunk {
		change, err := s.enc.DecodeJSON(stored.Version, c.Change)
		if err != nil {
			return Snapshot[C]{}, fmt.Errorf("decode trunk commit seq %d: %w", c.Seq, err)
		}
		snap.Trunk = append(snap.Trunk, Commit[C]{
			Session: c.Session,
			Seq:     c.Seq,
			Ref:     c.Ref,
			Change:  change,
		})
	}
	for i, data := range stored.Local {
		change, err := s.enc.DecodeJSON(stored.Version, data)
		if err != nil {
			return Snapshot[C]{}, fmt.Errorf("decode local entry %d: %w", i, err)
		}
		snap.Local = append(snap.Local, change)
	}
	return snap, nil
}

// Close releases the underlying database.
func (s *BoltSnapshotStore[C]) Close() error {
	return s.db.Close()
}
