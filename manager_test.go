package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intentManager = EditManager[IntentChange, IntentDelta, *IntentAnchors]

// newIntentManager builds a debug-checked manager over the reference
// family for the given session.
func newIntentManager(t *testing.T, session SessionID) (*intentManager, *IntentAnchors) {
	t.Helper()
	anchors := &IntentAnchors{}
	m, err := NewEditManager(Options[IntentChange, IntentDelta, *IntentAnchors]{
		Family:      IntentFamily{},
		Anchors:     anchors,
		DebugChecks: true,
	})
	require.NoError(t, err)
	if session != "" {
		require.NoError(t, m.SetLocalSessionID(session))
	}
	return m, anchors
}

func commitOf(session SessionID, seq, ref SeqNumber, intents ...int) Commit[IntentChange] {
	return Commit[IntentChange]{
		Session: session,
		Seq:     seq,
		Ref:     ref,
		Change:  IntentChange(intents),
	}
}

// trunkIntents flattens a trunk into its intentions in trunk order.
func trunkIntents(trunk []Commit[IntentChange]) []int {
	out := []int{}
	for _, c := range trunk {
		out = append(out, c.Change...)
	}
	return out
}

func TestNewEditManagerRequiresFamily(t *testing.T) {
	_, err := NewEditManager(Options[IntentChange, IntentDelta, *IntentAnchors]{})
	require.ErrorIs(t, err, ErrUsage)
}

func TestSetLocalSessionID(t *testing.T) {
	m, _ := newIntentManager(t, "")

	require.ErrorIs(t, m.SetLocalSessionID(""), ErrUsage)
	require.NoError(t, m.SetLocalSessionID("alice"))
	require.NoError(t, m.SetLocalSessionID("alice")) // idempotent
	require.ErrorIs(t, m.SetLocalSessionID("bob"), ErrUsage)
	assert.Equal(t, SessionID("alice"), m.LocalSessionID())
}

func TestAddLocalChangeBeforeSessionID(t *testing.T) {
	m, _ := newIntentManager(t, "")
	_, err := m.AddLocalChange(IntentChange{1})
	require.ErrorIs(t, err, ErrUsage)
}

func TestAddSequencedChangeBeforeSessionID(t *testing.T) {
	m, _ := newIntentManager(t, "")
	_, err := m.AddSequencedChange(commitOf("peer", 1, 0, 1))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

// Scenario: every local edit is sequenced immediately after it is minted.
func TestLocalSequencedImmediately(t *testing.T) {
	m, anchors := newIntentManager(t, "local")

	for i := 1; i <= 3; i++ {
		delta, err := m.AddLocalChange(IntentChange{i})
		require.NoError(t, err)
		assert.Equal(t, IntentDelta{i}, delta)

		delta, err = m.AddSequencedChange(commitOf("local", SeqNumber(i), SeqNumber(i-1), i))
		require.NoError(t, err)
		assert.Empty(t, delta, "own acknowledgement must be silent")
		assert.Empty(t, m.LocalChanges())
	}

	assert.Equal(t, []int{1, 2, 3}, trunkIntents(m.Trunk()))
	assert.Equal(t, []int{1, 2, 3}, anchors.Intents)
}

// Scenario: three peer commits all authored against pre-history.
func TestPeerCommitsWithStaleRefs(t *testing.T) {
	m, anchors := newIntentManager(t, "local")

	for i := 1; i <= 3; i++ {
		delta, err := m.AddSequencedChange(commitOf("peer", SeqNumber(i), 0, i))
		require.NoError(t, err)
		assert.Equal(t, IntentDelta{i}, delta)
	}

	assert.Equal(t, []int{1, 2, 3}, trunkIntents(m.Trunk()))
	assert.Equal(t, []int{1, 2, 3}, anchors.Intents)
	assert.Empty(t, m.LocalChanges())
}

// Scenario: sequencing an empty changeset is a no-op on the view and on
// anchors, whatever the local branch holds.
func TestEmptyChangeNoOp(t *testing.T) {
	t.Run("empty local branch", func(t *testing.T) {
		m, anchors := newIntentManager(t, "local")

		delta, err := m.AddSequencedChange(commitOf("peer", 1, 0))
		require.NoError(t, err)
		assert.Empty(t, delta)
		assert.Empty(t, anchors.Intents)
	})

	t.Run("pending local branch", func(t *testing.T) {
		m, anchors := newIntentManager(t, "local")

		_, err := m.AddLocalChange(IntentChange{6})
		require.NoError(t, err)
		_, err = m.AddLocalChange(IntentChange{8})
		require.NoError(t, err)

		delta, err := m.AddSequencedChange(commitOf("peer", 1, 0))
		require.NoError(t, err)
		assert.Empty(t, delta, "undo and redo of the local branch must cancel")
		assert.Empty(t, anchors.Intents)
		assert.Equal(t, []IntentChange{{6}, {8}}, m.LocalChanges())
	})
}

// Scenario: a commit authored concurrently with an already-sequenced run
// of peer commits rebases to the same intention.
func TestRebaseOverMultiplePeerCommits(t *testing.T) {
	m, _ := newIntentManager(t, "local")

	_, err := m.AddSequencedChange(commitOf("peerA", 1, 0, 1))
	require.NoError(t, err)
	_, err = m.AddSequencedChange(commitOf("peerA", 2, 1, 2))
	require.NoError(t, err)
	_, err = m.AddSequencedChange(commitOf("peerA", 3, 2, 3))
	require.NoError(t, err)

	delta, err := m.AddSequencedChange(commitOf("peerB", 4, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, IntentDelta{4}, delta)
	assert.Equal(t, []int{1, 2, 3, 4}, trunkIntents(m.Trunk()))
}

func TestSequenceGapIsProtocolViolation(t *testing.T) {
	m, _ := newIntentManager(t, "local")

	_, err := m.AddSequencedChange(commitOf("peer", 1, 0, 1))
	require.NoError(t, err)

	_, err = m.AddSequencedChange(commitOf("peer", 3, 0, 3))
	require.ErrorIs(t, err, ErrProtocolViolation)

	// Replays are violations too: the order is strict.
	_, err = m.AddSequencedChange(commitOf("peer", 1, 0, 1))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestRefAheadOfSeqIsProtocolViolation(t *testing.T) {
	m, _ := newIntentManager(t, "local")

	_, err := m.AddSequencedChange(commitOf("peer", 1, 1, 1))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestOwnCommitWithEmptyBranchIsProtocolViolation(t *testing.T) {
	m, _ := newIntentManager(t, "local")

	_, err := m.AddSequencedChange(commitOf("local", 1, 0, 1))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

// An own commit whose ref predates the current trunk is legal: the local
// branch was already rebased forward as peer commits arrived, and the
// acknowledgement simply consumes the head.
func TestOwnCommitWithStaleRef(t *testing.T) {
	m, anchors := newIntentManager(t, "local")

	_, err := m.AddLocalChange(IntentChange{5})
	require.NoError(t, err)

	delta, err := m.AddSequencedChange(commitOf("peer", 1, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, IntentDelta{-5, 1, 5}, delta)

	delta, err = m.AddSequencedChange(commitOf("local", 2, 0, 5))
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Empty(t, m.LocalChanges())
	assert.Equal(t, []int{1, 5}, trunkIntents(m.Trunk()))
	assert.Equal(t, []int{1, 5}, anchors.Intents)
}

func TestIntrospectionReturnsCopies(t *testing.T) {
	m, _ := newIntentManager(t, "local")

	_, err := m.AddSequencedChange(commitOf("peer", 1, 0, 1))
	require.NoError(t, err)
	_, err = m.AddLocalChange(IntentChange{2})
	require.NoError(t, err)

	trunk := m.Trunk()
	trunk[0].Seq = 99
	assert.Equal(t, SeqNumber(1), m.Trunk()[0].Seq)

	local := m.LocalChanges()
	local[0] = IntentChange{99}
	assert.Equal(t, []IntentChange{{2}}, m.LocalChanges())
}

func TestSessionsObserved(t *testing.T) {
	m, _ := newIntentManager(t, "local")

	_, err := m.AddSequencedChange(commitOf("peerA", 1, 0, 1))
	require.NoError(t, err)
	_, err = m.AddSequencedChange(commitOf("peerB", 2, 0, 2))
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]SessionID{"local", "peerA", "peerB"},
		m.Sessions())
}
