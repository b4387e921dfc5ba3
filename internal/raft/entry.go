package raft

import "github.com/btmorr/raftkv/internal/codec"

// Entry is a single record in the replicated log. A nil Command denotes a
// no-op committed during leader election (spec.md §3).
type Entry struct {
	Term    uint64
	Command []byte // nil for no-op entries
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	if e.Command == nil {
		return Entry{Term: e.Term}
	}
	cp := make([]byte, len(e.Command))
	copy(cp, e.Command)
	return Entry{Term: e.Term, Command: cp}
}

// Encode serializes e using the stable tagged codec.
func (e Entry) Encode() []byte {
	w := codec.NewWriter(16 + len(e.Command))
	w.Uint64(e.Term)
	w.OptionalBytes(e.Command)
	return w.Bytes()
}

// DecodeEntry is the inverse of Entry.Encode.
func DecodeEntry(b []byte) (Entry, error) {
	r := codec.NewReader(b)
	term, err := r.Uint64()
	if err != nil {
		return Entry{}, err
	}
	cmd, err := r.OptionalBytes()
	if err != nil {
		return Entry{}, err
	}
	return Entry{Term: term, Command: cmd}, nil
}
