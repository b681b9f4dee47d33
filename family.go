package loom

// FormatVersion identifies an on-disk or on-wire changeset encoding.
type FormatVersion int

// Rebaser is the algebra over opaque changesets that the engine relies on.
// The laws it must satisfy (the engine assumes them, it does not verify
// them):
//
//   - Compose(nil) is an identity for composition with any change.
//   - Invert(Compose([a, b])) == Compose([Invert(b), Invert(a)]).
//   - Rebase(a, b) yields a change that, applied after b, has the
//     intention of a; Rebase(x, identity) == x.
//
// A is the anchor-set handle held by the host application. RebaseAnchors
// mutates it in place; the engine never reads its internals and callers
// must not touch anchors concurrently with ingestion.
type Rebaser[C, A any] interface {
	Compose(changes []C) C
	Invert(change C) C
	Rebase(change C, over C) C
	RebaseAnchors(anchors A, over C)
}

// ChangeEncoder serializes changesets for snapshots and the wire.
type ChangeEncoder[C any] interface {
	EncodeJSON(version FormatVersion, change C) ([]byte, error)
	DecodeJSON(version FormatVersion, data []byte) (C, error)
}

// ChangeFamily is the full capability record a host injects into the
// engine: the rebase algebra, the projection of changesets into concrete
// document deltas, and the serialization used by the snapshot layer.
type ChangeFamily[C, D, A any] interface {
	Rebaser[C, A]

	// IntoDelta projects a changeset into the concrete document delta the
	// view layer consumes.
	IntoDelta(change C) D

	// Encoder returns the serialization for this family's changesets.
	Encoder() ChangeEncoder[C]
}
