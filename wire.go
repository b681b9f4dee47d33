package loom

import "encoding/json"

// WireFormatVersion is the changeset encoding used on the websocket wire.
const WireFormatVersion FormatVersion = 1

// SubmitMessage is sent by a client to the sequencer daemon: one locally
// authored change and the sequence number its author had observed.
type SubmitMessage struct {
	Session SessionID       `json:"session"`
	Ref     SeqNumber       `json:"ref"`
	Change  json.RawMessage `json:"change"`
}

// CommitMessage is broadcast by the sequencer daemon to every client: one
// sequenced commit in total order.
type CommitMessage struct {
	Session SessionID       `json:"session"`
	Seq     SeqNumber       `json:"seq"`
	Ref     SeqNumber       `json:"ref"`
	Change  json.RawMessage `json:"change"`
}

// EncodeCommit converts a commit into its wire form using the family's
// encoder.
func EncodeCommit[C any](enc ChangeEncoder[C], c Commit[C]) (CommitMessage, error) {
	data, err := enc.EncodeJSON(WireFormatVersion, c.Change)
	if err != nil {
		return CommitMessage{}, err
	}
	return CommitMessage{
		Session: c.Session,
		Seq:     c.Seq,
		Ref:     c.Ref,
		Change:  data,
	}, nil
}

// DecodeCommit converts a wire commit back into a Commit.
func DecodeCommit[C any](enc ChangeEncoder[C], msg CommitMessage) (Commit[C], error) {
	change, err := enc.DecodeJSON(WireFormatVersion, msg.Change)
	if err != nil {
		return Commit[C]{}, err
	}
	return Commit[C]{
		Session: msg.Session,
		Seq:     msg.Seq,
		Ref:     msg.Ref,
		Change:  change,
	}, nil
}

// EncodeSubmit builds the wire form of a local submission.
func EncodeSubmit[C any](enc ChangeEncoder[C], session SessionID, ref SeqNumber, change C) (SubmitMessage, error) {
	data, err := enc.EncodeJSON(WireFormatVersion, change)
	if err != nil {
		return SubmitMessage{}, err
	}
	return SubmitMessage{Session: session, Ref: ref, Change: data}, nil
}

// DecodeSubmit converts a wire submission back into its parts.
func DecodeSubmit[C any](enc ChangeEncoder[C], msg SubmitMessage) (SessionID, SeqNumber, C, error) {
	change, err := enc.DecodeJSON(WireFormatVersion, msg.Change)
	if err != nil {
		var zero C
		return "", 0, zero, err
	}
	return msg.Session, msg.Ref, change, nil
}
