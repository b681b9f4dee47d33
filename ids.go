package loom

import "github.com/google/uuid"

// SessionID identifies a participant in a shared document. It is opaque to
// the engine; equality and ordering are structural.
type SessionID string

// NewSessionID mints a fresh random session identity.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// SeqNumber is the total order assigned by the central sequencer. Zero is
// the pre-history value used by fresh clients with no observed commits.
type SeqNumber int64

// Less reports whether s is ordered before other.
func (s SeqNumber) Less(other SeqNumber) bool {
	return s < other
}
