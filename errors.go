// Package loom implements the reconciliation core of a collaborative
// document: a trunk of server-sequenced commits, a branch of local
// uncommitted edits, and the rebasing engine that folds newly sequenced
// commits into the trunk while transposing local edits on top. The engine
// is policy-free: it manipulates opaque changesets exclusively through an
// injected ChangeFamily and emits, after every event, the minimal delta the
// host must apply to its view.
package loom

import "errors"

// Protocol errors
var (
	// ErrProtocolViolation indicates that the stream of sequenced commits
	// broke the sequencing protocol: a gap or reordering in sequence
	// numbers, an own commit arriving with an empty or mismatched local
	// branch, or ingestion before the local session identity was set.
	// The manager must be treated as poisoned and rebuilt from a snapshot.
	ErrProtocolViolation = errors.New("sequencing protocol violation")

	// ErrUsage indicates that the manager was driven before it was fully
	// constructed, e.g. AddLocalChange before SetLocalSessionID.
	ErrUsage = errors.New("edit manager usage error")
)

// Sequencer errors
var (
	// ErrStaleSubmission indicates that a submission referenced a sequence
	// number the sequencer has not assigned yet, or carried an empty
	// session id.
	ErrStaleSubmission = errors.New("submission references unsequenced state")
)

// Snapshot errors
var (
	// ErrSnapshotNotFound indicates that no snapshot exists under the
	// requested name.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotVersion indicates that a stored snapshot was written with
	// an unsupported format version.
	ErrSnapshotVersion = errors.New("unsupported snapshot format version")
)
