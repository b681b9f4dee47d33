package loom

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltSnapshotStore[IntentChange] {
	t.Helper()
	store, err := OpenBoltSnapshotStore(
		filepath.Join(t.TempDir(), "snapshots.db"),
		IntentFamily{}.Encoder(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, _ := newIntentManager(t, "alice")

	_, err := m.AddSequencedChange(commitOf("peer", 1, 0, 1))
	require.NoError(t, err)
	_, err = m.AddLocalChange(IntentChange{2})
	require.NoError(t, err)
	_, err = m.AddLocalChange(IntentChange{3})
	require.NoError(t, err)

	store := openTestStore(t)
	require.NoError(t, store.Save("alice", m.Snapshot()))

	snap, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, SessionID("alice"), snap.Session)

	restored, err := RestoreEditManager(Options[IntentChange, IntentDelta, *IntentAnchors]{
		Family:      IntentFamily{},
		Anchors:     &IntentAnchors{},
		DebugChecks: true,
	}, snap)
	require.NoError(t, err)

	assert.Equal(t, m.Trunk(), restored.Trunk())
	assert.Equal(t, m.LocalChanges(), restored.LocalChanges())
	assert.Equal(t, SessionID("alice"), restored.LocalSessionID())

	// The restored manager keeps working: its own pending edit is
	// acknowledged off the restored branch.
	delta, err := restored.AddSequencedChange(commitOf("alice", 2, 1, 2))
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, []IntentChange{{3}}, restored.LocalChanges())
}

func TestSnapshotMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Load("nobody")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotOverwrite(t *testing.T) {
	store := openTestStore(t)

	m, _ := newIntentManager(t, "alice")
	require.NoError(t, store.Save("doc", m.Snapshot()))

	_, err := m.AddSequencedChange(commitOf("peer", 1, 0, 7))
	require.NoError(t, err)
	require.NoError(t, store.Save("doc", m.Snapshot()))

	snap, err := store.Load("doc")
	require.NoError(t, err)
	require.Len(t, snap.Trunk, 1)
	assert.Equal(t, IntentChange{7}, snap.Trunk[0].Change)
}
