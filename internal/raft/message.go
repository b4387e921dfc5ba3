package raft

import (
	"fmt"

	"github.com/btmorr/raftkv/internal/codec"
)

// Message is the envelope carried between nodes and between a node and its
// local callers (spec.md §3). From == "" marks a local client call; To == ""
// marks a local delivery back to a client.
type Message struct {
	Term  uint64
	From  string // "" denotes a local client call
	To    string // "" denotes a local delivery back to a client
	Event Event
}

// Normalize sets msg.To to selfID and, if msg.Term is unset, to
// currentTerm (spec.md §4.4).
func Normalize(msg Message, selfID string, currentTerm uint64) Message {
	msg.To = selfID
	if msg.Term == 0 {
		msg.Term = currentTerm
	}
	return msg
}

// Validate rejects messages that cannot be processed by this node
// (spec.md §4.4):
//   - From == "" and the event carries no call_id
//   - msg.Term < currentTerm
//   - msg.To set and != selfID
//   - msg.To == ""
func Validate(msg Message, selfID string, currentTerm uint64) error {
	if msg.From == "" {
		if _, ok := CallID(msg.Event); !ok {
			return fmt.Errorf("raft: local message without call_id")
		}
	}
	if msg.Term < currentTerm {
		return fmt.Errorf("raft: stale term %d < %d", msg.Term, currentTerm)
	}
	if msg.To != "" && msg.To != selfID {
		return fmt.Errorf("raft: message addressed to %q, not %q", msg.To, selfID)
	}
	if msg.To == "" {
		return fmt.Errorf("raft: message has no recipient")
	}
	return nil
}

// EncodeMessage serializes msg for a concrete Transport (e.g.
// internal/rafttransport) using the stable tagged codec.
func EncodeMessage(msg Message) []byte {
	w := codec.NewWriter(48)
	w.Uint64(msg.Term)
	w.String(msg.From)
	w.String(msg.To)
	w.BytesField(EncodeEvent(msg.Event))
	return w.Bytes()
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(b []byte) (Message, error) {
	r := codec.NewReader(b)
	term, err := r.Uint64()
	if err != nil {
		return Message{}, err
	}
	from, err := r.String()
	if err != nil {
		return Message{}, err
	}
	to, err := r.String()
	if err != nil {
		return Message{}, err
	}
	raw, err := r.BytesField()
	if err != nil {
		return Message{}, err
	}
	event, err := DecodeEvent(raw)
	if err != nil {
		return Message{}, err
	}
	return Message{Term: term, From: from, To: to, Event: event}, nil
}
