package loom

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"
)

// Options configures an EditManager.
type Options[C, D, A any] struct {
	// Family is the change-family capability the engine drives. Required.
	Family ChangeFamily[C, D, A]

	// Anchors is the application-held anchor set. It is mutated in place
	// through Family.RebaseAnchors during ingestion and never otherwise
	// inspected or retained beyond this handle.
	Anchors A

	// DebugChecks enables runtime invariant verification after every
	// ingestion. Too costly for hot paths; intended for tests and
	// debugging sessions.
	DebugChecks bool
}

// EditManager reconciles locally produced edits with the server-sequenced
// global order of edits from all sessions, producing a deterministic,
// convergent document state on every participant.
//
// All operations are synchronous and non-blocking. The manager has no
// internal lock; hosts serialize all calls, typically on the document's
// event loop. After any returned error the manager is poisoned and must be
// rebuilt from a snapshot.
type EditManager[C, D, A any] struct {
	family  ChangeFamily[C, D, A]
	anchors A

	localSession SessionID
	trunk        trunk[C]
	local        localBranch[C]

	// sessions observed on the trunk, local session included once set
	sessions mapset.Set[SessionID]

	debugChecks bool
}

// NewEditManager constructs an empty manager around the given family and
// anchor set. SetLocalSessionID must be called before any ingestion.
func NewEditManager[C, D, A any](opts Options[C, D, A]) (*EditManager[C, D, A], error) {
	if opts.Family == nil {
		return nil, fmt.Errorf("%w: Options.Family is required", ErrUsage)
	}
	return &EditManager[C, D, A]{
		family:      opts.Family,
		anchors:     opts.Anchors,
		sessions:    mapset.NewThreadUnsafeSet[SessionID](),
		debugChecks: opts.DebugChecks,
	}, nil
}

// SetLocalSessionID records the local session identity. Idempotent for the
// same id; changing an already-set identity is a usage error. It has no
// effect on existing state.
func (m *EditManager[C, D, A]) SetLocalSessionID(id SessionID) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", ErrUsage)
	}
	if m.localSession != "" && m.localSession != id {
		return fmt.Errorf("%w: session id already set to %q", ErrUsage, m.localSession)
	}
	m.localSession = id
	m.sessions.Add(id)
	return nil
}

// LocalSessionID returns the identity set by SetLocalSessionID, or the
// empty id if none has been set.
func (m *EditManager[C, D, A]) LocalSessionID() SessionID {
	return m.localSession
}

// AddLocalChange appends a locally produced edit to the local branch. The
// change's input context must be the current local tip (trunk tail composed
// with all prior local entries); context mismatches surface through the
// change family's own invariants, not here.
//
// The returned delta is exactly IntoDelta(change), for the caller to apply
// to its view. The trunk is not touched.
func (m *EditManager[C, D, A]) AddLocalChange(change C) (D, error) {
	if m.localSession == "" {
		var zero D
		return zero, fmt.Errorf("%w: AddLocalChange before SetLocalSessionID", ErrUsage)
	}
	m.local.push(change, m.trunk.tailSeq())
	glog.V(2).Infof("loom: local change queued, branch length %d", len(m.local.entries))
	m.verifyInvariants()
	return m.family.IntoDelta(change), nil
}

// AddSequencedChange ingests the next commit of the server's total order.
// Commits must arrive in strictly increasing sequence order with no gaps.
//
// For an own commit the head of the local branch is consumed, the trunk
// grows by one, and the returned delta is empty: the acknowledged edit was
// already applied to the view when it was produced. For a peer commit the
// incoming change is transposed over the concurrent trunk suffix, the
// local branch is rebased on top of it, anchors are updated over the single
// transposed change, and the returned delta undoes the stale local prefix,
// applies the remote effect, then reapplies the rebased local prefix.
func (m *EditManager[C, D, A]) AddSequencedChange(commit Commit[C]) (D, error) {
	var zero D
	if m.localSession == "" {
		return zero, fmt.Errorf("%w: sequenced change before SetLocalSessionID", ErrProtocolViolation)
	}
	if expect := m.trunk.tailSeq() + 1; commit.Seq != expect {
		return zero, fmt.Errorf("%w: commit seq %d from session %q, expected %d",
			ErrProtocolViolation, commit.Seq, commit.Session, expect)
	}
	if commit.Ref >= commit.Seq {
		return zero, fmt.Errorf("%w: commit seq %d has ref %d ahead of its own sequencing",
			ErrProtocolViolation, commit.Seq, commit.Ref)
	}
	m.sessions.Add(commit.Session)

	if commit.Session == m.localSession {
		return m.ackOwnCommit(commit)
	}
	return m.ingestPeerCommit(commit)
}

// ackOwnCommit consumes the head of the local branch as the edit being
// acknowledged. The head is already in tip context: the branch was rebased
// forward as earlier peer commits arrived.
func (m *EditManager[C, D, A]) ackOwnCommit(commit Commit[C]) (D, error) {
	var zero D
	if m.local.empty() {
		return zero, fmt.Errorf("%w: own commit seq %d with empty local branch",
			ErrProtocolViolation, commit.Seq)
	}
	head := m.local.popHead()
	m.trunk.append(Commit[C]{
		Session: commit.Session,
		Seq:     commit.Seq,
		Ref:     commit.Ref,
		Change:  head.change,
	})
	m.local.pinTo(commit.Seq)
	m.family.RebaseAnchors(m.anchors, head.change)
	glog.V(2).Infof("loom: own commit seq %d acknowledged, branch length %d",
		commit.Seq, len(m.local.entries))
	m.verifyInvariants()
	return m.family.IntoDelta(m.family.Compose(nil)), nil
}

// ingestPeerCommit runs the peer-commit rebase: transpose the incoming
// change over the concurrent trunk suffix, append it, rebase the local
// branch over it, update anchors, and emit the corrective delta.
func (m *EditManager[C, D, A]) ingestPeerCommit(commit Commit[C]) (D, error) {
	// Transpose the incoming change over every trunk commit its author had
	// not observed. With a ref equal to the trunk tail this loop is a
	// no-op and the change already applies at the tip.
	transposed := commit.Change
	concurrent := m.trunk.suffixAfter(commit.Ref)
	for _, t := range concurrent {
		transposed = m.family.Rebase(transposed, t.Change)
	}

	if m.local.empty() {
		m.trunk.append(Commit[C]{
			Session: commit.Session,
			Seq:     commit.Seq,
			Ref:     commit.Ref,
			Change:  transposed,
		})
		m.family.RebaseAnchors(m.anchors, transposed)
		glog.V(2).Infof("loom: peer commit seq %d from %q applied at tip (%d concurrent)",
			commit.Seq, commit.Session, len(concurrent))
		m.verifyInvariants()
		return m.family.IntoDelta(transposed), nil
	}

	// The emitted view is trunk∘local. Undo the local branch, splice in
	// the transposed change, then reapply the branch rebased on top.
	undo := m.family.Invert(m.family.Compose(m.local.changes()))

	m.trunk.append(Commit[C]{
		Session: commit.Session,
		Seq:     commit.Seq,
		Ref:     commit.Ref,
		Change:  transposed,
	})

	// Rebase each local entry over the advancing base: after L[i] is
	// rebased over base, the base for L[i+1] is base rebased over the old
	// L[i], preserving every entry's input context.
	base := transposed
	for i := range m.local.entries {
		old := m.local.entries[i].change
		m.local.entries[i].change = m.family.Rebase(old, base)
		base = m.family.Rebase(base, old)
	}
	m.local.pinTo(commit.Seq)

	// Anchors track intentions, not the transient view correction, so
	// they rebase over the single transposed change only.
	m.family.RebaseAnchors(m.anchors, transposed)

	redo := m.family.Compose(m.local.changes())
	delta := m.family.IntoDelta(m.family.Compose([]C{undo, transposed, redo}))
	glog.V(2).Infof("loom: peer commit seq %d from %q rebased over %d local entries",
		commit.Seq, commit.Session, len(m.local.entries))
	m.verifyInvariants()
	return delta, nil
}

// Trunk returns a copy of the sequenced commits in server order.
func (m *EditManager[C, D, A]) Trunk() []Commit[C] {
	return m.trunk.snapshot()
}

// LocalChanges returns a copy of the current local changesets in order.
func (m *EditManager[C, D, A]) LocalChanges() []C {
	return m.local.changes()
}

// Sessions returns every session observed so far (trunk authors plus the
// local session), in no particular order.
func (m *EditManager[C, D, A]) Sessions() []SessionID {
	return m.sessions.ToSlice()
}

// verifyInvariants checks the structural invariants of the trunk and
// branch. Only active when Options.DebugChecks was set; a failure is a bug
// in the engine itself, so it panics rather than returning an error.
func (m *EditManager[C, D, A]) verifyInvariants() {
	if !m.debugChecks {
		return
	}
	for i, c := range m.trunk.commits {
		if c.Seq != SeqNumber(i+1) {
			panic(fmt.Sprintf("loom: trunk seq discontinuity at index %d: seq %d", i, c.Seq))
		}
		if c.Ref >= c.Seq {
			panic(fmt.Sprintf("loom: trunk commit seq %d authored after sequencing (ref %d)", c.Seq, c.Ref))
		}
	}
	tail := m.trunk.tailSeq()
	for i, e := range m.local.entries {
		if e.ref != tail {
			panic(fmt.Sprintf("loom: branch entry %d pinned to %d, trunk tail %d", i, e.ref, tail))
		}
	}
}
