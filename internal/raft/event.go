package raft

import (
	"fmt"

	"github.com/btmorr/raftkv/internal/codec"
)

// Event is the tagged union of protocol events carried by a Message (spec.md
// §3). Concrete types are plain value types (the spec's "cloneable,
// equatable" requirement); reflect.DeepEqual is the correct equality check
// since ReplicateEntries carries a slice field.
type Event interface {
	eventTag() byte
}

// Heartbeat is sent by a leader to confirm liveness and advance commit.
type Heartbeat struct {
	CommitIndex uint64
	CommitTerm  uint64
}

// ConfirmLeader is a follower's reply to Heartbeat.
type ConfirmLeader struct {
	CommitIndex  uint64
	HasCommitted bool
}

// SolicitVote is sent by a candidate to request a peer's vote.
type SolicitVote struct {
	LastIndex uint64
	LastTerm  uint64
}

// GrantVote is a follower's affirmative reply to SolicitVote.
type GrantVote struct{}

// ReplicateEntries is sent by a leader to append entries to a follower's log.
type ReplicateEntries struct {
	BaseIndex uint64
	BaseTerm  uint64
	Entries   []Entry
}

// AcceptEntries is a follower's affirmative reply to ReplicateEntries.
type AcceptEntries struct {
	LastIndex uint64
}

// RejectEntries is a follower's negative reply to ReplicateEntries.
type RejectEntries struct{}

// ReadState is a client request to read application state through the
// leader. Of the eleven Event variants, only this one and MutateState,
// RespondState, and RespondError carry a CallID.
type ReadState struct {
	CallID  string
	Command []byte
}

// MutateState is a client request to mutate application state.
type MutateState struct {
	CallID  string
	Command []byte
}

// RespondState carries a successful call response back to its originator.
type RespondState struct {
	CallID   string
	Response []byte
}

// RespondError carries a failed call's error back to its originator.
type RespondError struct {
	CallID string
	Error  string
}

func (Heartbeat) eventTag() byte        { return tagHeartbeat }
func (ConfirmLeader) eventTag() byte    { return tagConfirmLeader }
func (SolicitVote) eventTag() byte      { return tagSolicitVote }
func (GrantVote) eventTag() byte        { return tagGrantVote }
func (ReplicateEntries) eventTag() byte { return tagReplicateEntries }
func (AcceptEntries) eventTag() byte    { return tagAcceptEntries }
func (RejectEntries) eventTag() byte    { return tagRejectEntries }
func (ReadState) eventTag() byte        { return tagReadState }
func (MutateState) eventTag() byte      { return tagMutateState }
func (RespondState) eventTag() byte     { return tagRespondState }
func (RespondError) eventTag() byte     { return tagRespondError }

const (
	tagHeartbeat byte = iota + 1
	tagConfirmLeader
	tagSolicitVote
	tagGrantVote
	tagReplicateEntries
	tagAcceptEntries
	tagRejectEntries
	tagReadState
	tagMutateState
	tagRespondState
	tagRespondError
)

// CallID returns the event's call_id and true, for the four event variants
// that carry one (spec.md §3).
func CallID(e Event) (string, bool) {
	switch ev := e.(type) {
	case ReadState:
		return ev.CallID, true
	case MutateState:
		return ev.CallID, true
	case RespondState:
		return ev.CallID, true
	case RespondError:
		return ev.CallID, true
	default:
		return "", false
	}
}

// EncodeEvent serializes an Event using the stable tagged codec, for use
// over a concrete Transport (e.g. internal/rafttransport).
func EncodeEvent(e Event) []byte {
	w := codec.NewWriter(32)
	w.Tag(e.eventTag())
	switch ev := e.(type) {
	case Heartbeat:
		w.Uint64(ev.CommitIndex)
		w.Uint64(ev.CommitTerm)
	case ConfirmLeader:
		w.Uint64(ev.CommitIndex)
		w.Bool(ev.HasCommitted)
	case SolicitVote:
		w.Uint64(ev.LastIndex)
		w.Uint64(ev.LastTerm)
	case GrantVote:
		// no fields
	case ReplicateEntries:
		w.Uint64(ev.BaseIndex)
		w.Uint64(ev.BaseTerm)
		w.Uint64(uint64(len(ev.Entries)))
		for _, entry := range ev.Entries {
			w.BytesField(entry.Encode())
		}
	case AcceptEntries:
		w.Uint64(ev.LastIndex)
	case RejectEntries:
		// no fields
	case ReadState:
		w.String(ev.CallID)
		w.BytesField(ev.Command)
	case MutateState:
		w.String(ev.CallID)
		w.BytesField(ev.Command)
	case RespondState:
		w.String(ev.CallID)
		w.BytesField(ev.Response)
	case RespondError:
		w.String(ev.CallID)
		w.String(ev.Error)
	}
	return w.Bytes()
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(b []byte) (Event, error) {
	r := codec.NewReader(b)
	tag, err := r.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagHeartbeat:
		ci, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		ct, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return Heartbeat{CommitIndex: ci, CommitTerm: ct}, nil
	case tagConfirmLeader:
		ci, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		hc, err := r.Bool()
		if err != nil {
			return nil, err
		}
		return ConfirmLeader{CommitIndex: ci, HasCommitted: hc}, nil
	case tagSolicitVote:
		li, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		lt, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return SolicitVote{LastIndex: li, LastTerm: lt}, nil
	case tagGrantVote:
		return GrantVote{}, nil
	case tagReplicateEntries:
		bi, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		bt, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		n, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, n)
		for i := uint64(0); i < n; i++ {
			raw, err := r.BytesField()
			if err != nil {
				return nil, err
			}
			entry, err := DecodeEntry(raw)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return ReplicateEntries{BaseIndex: bi, BaseTerm: bt, Entries: entries}, nil
	case tagAcceptEntries:
		li, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return AcceptEntries{LastIndex: li}, nil
	case tagRejectEntries:
		return RejectEntries{}, nil
	case tagReadState:
		id, err := r.String()
		if err != nil {
			return nil, err
		}
		cmd, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		return ReadState{CallID: id, Command: cmd}, nil
	case tagMutateState:
		id, err := r.String()
		if err != nil {
			return nil, err
		}
		cmd, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		return MutateState{CallID: id, Command: cmd}, nil
	case tagRespondState:
		id, err := r.String()
		if err != nil {
			return nil, err
		}
		resp, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		return RespondState{CallID: id, Response: resp}, nil
	case tagRespondError:
		id, err := r.String()
		if err != nil {
			return nil, err
		}
		errMsg, err := r.String()
		if err != nil {
			return nil, err
		}
		return RespondError{CallID: id, Error: errMsg}, nil
	default:
		return nil, fmt.Errorf("raft: unknown event tag %d", tag)
	}
}
