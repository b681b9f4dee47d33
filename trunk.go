package loom

// trunk is the canonical history: every sequenced commit in server order.
// Sequence numbers are contiguous from 1, so trunk[i].Seq == i+1 and the
// set of commits concurrent with a commit authored at ref r is exactly the
// suffix trunk[r:]. Entries are never removed.
//
// Each stored changeset is kept in tip context: the form that applies
// cleanly after the commit before it. For peer commits that is the
// transposed change computed during ingestion; for own commits it is the
// already-rebased head of the local branch. This keeps the trunk a
// straight-line composition, which is what makes the concurrent-suffix
// rebase fold well defined.
type trunk[C any] struct {
	commits []Commit[C]
}

// tailSeq returns the sequence number of the newest commit, or zero for an
// empty trunk.
func (t *trunk[C]) tailSeq() SeqNumber {
	if len(t.commits) == 0 {
		return 0
	}
	return t.commits[len(t.commits)-1].Seq
}

func (t *trunk[C]) append(c Commit[C]) {
	t.commits = append(t.commits, c)
}

// suffixAfter returns the commits sequenced after ref, in trunk order.
// The returned slice aliases the trunk and must not be mutated.
func (t *trunk[C]) suffixAfter(ref SeqNumber) []Commit[C] {
	if ref < 0 {
		ref = 0
	}
	if int(ref) >= len(t.commits) {
		return nil
	}
	return t.commits[ref:]
}

// snapshot returns an independent copy of the commit log.
func (t *trunk[C]) snapshot() []Commit[C] {
	out := make([]Commit[C], len(t.commits))
	copy(out, t.commits)
	return out
}
