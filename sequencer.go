package loom

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Sequencer is the server-side total-order authority: it stamps submitted
// changes with the next sequence number and keeps the authoritative log.
// It never interprets changesets; validation is limited to the sequencing
// protocol itself.
//
// Unlike EditManager, a Sequencer sits on a goroutine boundary (one reader
// per connection in the daemon), so it carries its own lock.
type Sequencer[C any] struct {
	mu       sync.Mutex
	log      []Commit[C]
	sessions mapset.Set[SessionID]
}

// NewSequencer returns an empty sequencer.
func NewSequencer[C any]() *Sequencer[C] {
	return &Sequencer[C]{
		sessions: mapset.NewSet[SessionID](),
	}
}

// Sequence assigns the next sequence number to a submitted change and
// appends the resulting commit to the log. ref is the highest sequence
// number the author had observed when authoring the change; a ref ahead of
// the log is rejected with ErrStaleSubmission.
func (s *Sequencer[C]) Sequence(session SessionID, ref SeqNumber, change C) (Commit[C], error) {
	if session == "" {
		return Commit[C]{}, fmt.Errorf("%w: empty session id", ErrStaleSubmission)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := SeqNumber(len(s.log))
	if ref > tail {
		return Commit[C]{}, fmt.Errorf("%w: ref %d ahead of tail %d", ErrStaleSubmission, ref, tail)
	}
	commit := Commit[C]{
		Session: session,
		Seq:     tail + 1,
		Ref:     ref,
		Change:  change,
	}
	s.log = append(s.log, commit)
	s.sessions.Add(session)
	return commit, nil
}

// Since returns a copy of every commit sequenced after ref, in order.
func (s *Sequencer[C]) Since(ref SeqNumber) []Commit[C] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref < 0 {
		ref = 0
	}
	if int(ref) >= len(s.log) {
		return nil
	}
	out := make([]Commit[C], len(s.log)-int(ref))
	copy(out, s.log[ref:])
	return out
}

// TailSeq returns the newest assigned sequence number, zero when empty.
func (s *Sequencer[C]) TailSeq() SeqNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SeqNumber(len(s.log))
}

// Sessions returns every session that has had a commit sequenced.
func (s *Sequencer[C]) Sessions() []SessionID {
	return s.sessions.ToSlice()
}
