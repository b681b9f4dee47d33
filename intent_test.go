package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentComposeIdentity(t *testing.T) {
	f := IntentFamily{}

	assert.Empty(t, f.Compose(nil))
	assert.Equal(t, IntentChange{1, 2}, f.Compose([]IntentChange{nil, {1}, nil, {2}}))
	assert.Equal(t, IntentChange{1, 2}, f.Compose([]IntentChange{f.Compose(nil), {1, 2}}))
}

func TestIntentComposeCancellation(t *testing.T) {
	f := IntentFamily{}

	// Adjacent inverse pairs collapse, including pairs that only become
	// adjacent after an inner cancellation.
	assert.Empty(t, f.Compose([]IntentChange{{3}, {-3}}))
	assert.Empty(t, f.Compose([]IntentChange{{-8, -6}, {6, 8}}))
	assert.Equal(t, IntentChange{-8, -6, 4, 6, 8}, f.Compose([]IntentChange{{-8, -6}, {4}, {6, 8}}))
	assert.Equal(t, IntentChange{5}, f.Compose([]IntentChange{{5, 3}, {-3}}))
}

func TestIntentInvert(t *testing.T) {
	f := IntentFamily{}

	a, b := IntentChange{1}, IntentChange{2, 3}
	assert.Equal(t, IntentChange{-3, -2, -1}, f.Invert(f.Compose([]IntentChange{a, b})))
	assert.Equal(t,
		f.Invert(f.Compose([]IntentChange{a, b})),
		f.Compose([]IntentChange{f.Invert(b), f.Invert(a)}))
	assert.Empty(t, f.Compose([]IntentChange{a, f.Invert(a)}))
}

func TestIntentRebasePreservesIntentions(t *testing.T) {
	f := IntentFamily{}

	a := IntentChange{4, 5}
	rebased := f.Rebase(a, IntentChange{9})
	assert.Equal(t, a, rebased)

	// Rebasing must not alias its input.
	rebased[0] = 99
	assert.Equal(t, IntentChange{4, 5}, a)

	assert.Equal(t, a, f.Rebase(a, f.Compose(nil)))
}

func TestIntentRebaseAnchors(t *testing.T) {
	f := IntentFamily{}
	anchors := &IntentAnchors{}

	f.RebaseAnchors(anchors, IntentChange{1})
	f.RebaseAnchors(anchors, nil)
	f.RebaseAnchors(anchors, IntentChange{2, 3})
	assert.Equal(t, []int{1, 2, 3}, anchors.Intents)
}

func TestIntentIntoDelta(t *testing.T) {
	f := IntentFamily{}

	assert.Equal(t, IntentDelta{7}, f.IntoDelta(IntentChange{7}))
	assert.NotNil(t, f.IntoDelta(nil))
	assert.Empty(t, f.IntoDelta(f.Compose(nil)))
}

func TestIntentEncoderRoundTrip(t *testing.T) {
	enc := IntentFamily{}.Encoder()

	data, err := enc.EncodeJSON(IntentFormatVersion, IntentChange{1, -2, 3})
	require.NoError(t, err)
	change, err := enc.DecodeJSON(IntentFormatVersion, data)
	require.NoError(t, err)
	assert.Equal(t, IntentChange{1, -2, 3}, change)

	_, err = enc.EncodeJSON(99, IntentChange{1})
	assert.Error(t, err)
	_, err = enc.DecodeJSON(99, data)
	assert.Error(t, err)
}

func TestApplyIntentDelta(t *testing.T) {
	view := ApplyIntentDelta(nil, IntentDelta{1, 2, 3})
	assert.Equal(t, []int{1, 2, 3}, view)

	// An undo/apply/redo delta cancels against the view tail.
	view = ApplyIntentDelta(view, IntentDelta{-3, -2, 9, 2, 3})
	assert.Equal(t, []int{1, 9, 2, 3}, view)

	assert.Equal(t, []int{1}, ApplyIntentDelta([]int{1}, nil))
}
