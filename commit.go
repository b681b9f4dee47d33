package loom

// Commit is a sequenced edit: a changeset together with the identity of
// its author, the total-order position the sequencer assigned, and the
// highest sequence number the author had observed when authoring it.
//
// Ref defines the concurrency frontier: two commits are concurrent exactly
// when neither had observed the other at authoring time, regardless of how
// close together they were sequenced.
type Commit[C any] struct {
	Session SessionID
	Seq     SeqNumber
	Ref     SeqNumber
	Change  C
}
