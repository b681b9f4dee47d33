package loom

import (
	"encoding/json"
	"fmt"
)

// IntentChange is the reference changeset: an ordered list of integer
// intentions. Composition cancels an intention against its negation when
// they become adjacent, so +i followed by −i collapses to nothing. A nil
// or empty list is the identity.
//
// Rebasing an IntentChange is the identity on its content: intentions are
// exactly what rebasing preserves. That makes this family a useful oracle
// for the engine — every emitted delta can be read off directly as the
// undo/apply/redo intentions — while exercising the full capability
// surface. It backs the test suite, the repl, and the wire demo.
type IntentChange []int

// IntentDelta is the concrete "document mutation" of the reference family:
// the same intention list, applied by the view layer as a stack (a
// positive intention pushes, its negation pops).
type IntentDelta []int

// IntentAnchors accumulates the intentions every trunk commit carried, in
// trunk order. It stands in for an application anchor set: after any run,
// its contents must equal the trunk's intentions exactly.
type IntentAnchors struct {
	Intents []int
}

// IntentFamily implements ChangeFamily for IntentChange.
type IntentFamily struct{}

// IntentFormatVersion is the only encoding version IntentFamily knows.
const IntentFormatVersion FormatVersion = 1

// Compose concatenates the changes and cancels adjacent inverse pairs.
func (IntentFamily) Compose(changes []IntentChange) IntentChange {
	total := 0
	for _, c := range changes {
		total += len(c)
	}
	out := make(IntentChange, 0, total)
	for _, c := range changes {
		for _, x := range c {
			if x == 0 {
				continue
			}
			if n := len(out); n > 0 && out[n-1] == -x {
				out = out[:n-1]
				continue
			}
			out = append(out, x)
		}
	}
	return out
}

// Invert reverses the intention list and negates each entry.
func (IntentFamily) Invert(change IntentChange) IntentChange {
	out := make(IntentChange, len(change))
	for i, x := range change {
		out[len(change)-1-i] = -x
	}
	return out
}

// Rebase preserves intentions unchanged; only the (implicit) input context
// moves. A copy is returned so rebased entries never alias their sources.
func (IntentFamily) Rebase(change IntentChange, over IntentChange) IntentChange {
	out := make(IntentChange, len(change))
	copy(out, change)
	return out
}

// RebaseAnchors records the intentions of the change the anchors just
// observed. Rebasing over the identity records nothing.
func (IntentFamily) RebaseAnchors(anchors *IntentAnchors, over IntentChange) {
	anchors.Intents = append(anchors.Intents, over...)
}

// IntoDelta projects the change into the view-layer delta. The result is
// never nil, so an identity change projects to an empty (but non-nil)
// delta.
func (IntentFamily) IntoDelta(change IntentChange) IntentDelta {
	return append(IntentDelta{}, change...)
}

// Encoder returns the JSON serialization for intent changesets.
func (IntentFamily) Encoder() ChangeEncoder[IntentChange] {
	return intentEncoder{}
}

type intentEncoder struct{}

func (intentEncoder) EncodeJSON(version FormatVersion, change IntentChange) ([]byte, error) {
	if version != IntentFormatVersion {
		return nil, fmt.Errorf("intent encoder: unknown format version %d", version)
	}
	if change == nil {
		change = IntentChange{}
	}
	return json.Marshal(change)
}

func (intentEncoder) DecodeJSON(version FormatVersion, data []byte) (IntentChange, error) {
	if version != IntentFormatVersion {
		return nil, fmt.Errorf("intent encoder: unknown format version %d", version)
	}
	var change IntentChange
	if err := json.Unmarshal(data, &change); err != nil {
		return nil, err
	}
	return change, nil
}

// ApplyIntentDelta applies an emitted delta to a view maintained as an
// intention stack. A positive intention pushes; a negation cancels the
// entry it undoes. It is the reference family's notion of "applying a
// delta to the document".
func ApplyIntentDelta(view []int, delta IntentDelta) []int {
	out := make([]int, 0, len(view)+len(delta))
	out = append(out, view...)
	for _, x := range delta {
		if n := len(out); n > 0 && out[n-1] == -x {
			out = out[:n-1]
			continue
		}
		out = append(out, x)
	}
	return out
}
