package raft

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/btmorr/raftkv/internal/codec"
	"github.com/btmorr/raftkv/internal/statemachine"
	"github.com/btmorr/raftkv/internal/store"
	"github.com/rs/zerolog/log"
)

// Reserved Store keys (spec.md §6). Numeric entry indices are stored as
// decimal strings ("1", "2", ...) and must not collide with these.
const (
	keyApplyIndex = "apply_index"
	keyTerm       = "term"
	keyVotedFor   = "voted_for"
)

// ErrBaseNotFound is returned by Splice when no entry matches the given
// (base_index, base_term) (spec.md §4.2, §7).
var ErrBaseNotFound = errors.New("raft: splice base not found")

// ErrTruncateCommitted is returned by Truncate when asked to remove an
// entry at or below commit_index or apply_index (spec.md §4.2, §7).
var ErrTruncateCommitted = errors.New("raft: cannot truncate committed/applied entries")

// ErrInconsistent marks a fatal internal inconsistency detected on recovery
// (spec.md §7 "Internal"); the node must refuse to start.
var ErrInconsistent = errors.New("raft: log inconsistent on recovery")

// Log is the persistent Raft log: entries plus the last/commit/apply
// watermarks (spec.md §3, §4.2).
type Log struct {
	store store.Store

	lastIndex, lastTerm     uint64
	commitIndex, commitTerm uint64
	applyIndex, applyTerm   uint64
}

// NewLog recovers a Log from store: it reads apply_index (0 if absent),
// validates the entry it points to exists, and rescans the contiguous
// prefix of numeric entry keys to re-derive last_index/last_term.
func NewLog(s store.Store) (*Log, error) {
	l := &Log{store: s}

	raw, ok, err := s.Get(keyApplyIndex)
	if err != nil {
		return nil, fmt.Errorf("raft: log recovery: %w", err)
	}
	if ok {
		idx, err := codec.DecodeUint64(raw)
		if err != nil {
			return nil, fmt.Errorf("raft: log recovery: %w", err)
		}
		l.applyIndex = idx
		if idx != 0 {
			entry, ok, err := l.getEntry(idx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: apply_index %d has no entry", ErrInconsistent, idx)
			}
			l.applyTerm = entry.Term
			l.commitTerm = entry.Term
		}
	}
	l.commitIndex = l.applyIndex

	idx := uint64(1)
	for {
		_, ok, err := l.getEntry(idx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		idx++
	}
	l.lastIndex = idx - 1
	if l.lastIndex > 0 {
		entry, ok, err := l.getEntry(l.lastIndex)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: last_index %d has no entry", ErrInconsistent, l.lastIndex)
		}
		l.lastTerm = entry.Term
	}

	log.Info().
		Uint64("last_index", l.lastIndex).
		Uint64("commit_index", l.commitIndex).
		Uint64("apply_index", l.applyIndex).
		Msg("raft log recovered")

	return l, nil
}

func entryKey(index uint64) string {
	return strconv.FormatUint(index, 10)
}

func (l *Log) getEntry(index uint64) (Entry, bool, error) {
	raw, ok, err := l.store.Get(entryKey(index))
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}
	entry, err := DecodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (l *Log) putEntry(index uint64, e Entry) error {
	return l.store.Set(entryKey(index), e.Encode())
}

// LastIndexTerm returns the (index, term) of the most recently stored entry.
func (l *Log) LastIndexTerm() (uint64, uint64) { return l.lastIndex, l.lastTerm }

// CommitIndexTerm returns the (index, term) of the highest committed entry.
func (l *Log) CommitIndexTerm() (uint64, uint64) { return l.commitIndex, l.commitTerm }

// ApplyIndexTerm returns the (index, term) of the highest applied entry.
func (l *Log) ApplyIndexTerm() (uint64, uint64) { return l.applyIndex, l.applyTerm }

// Append assigns e the next index, persists it, and advances last_index.
func (l *Log) Append(e Entry) (uint64, error) {
	idx := l.lastIndex + 1
	if err := l.putEntry(idx, e); err != nil {
		return 0, fmt.Errorf("raft: append: %w", err)
	}
	l.lastIndex = idx
	l.lastTerm = e.Term
	return idx, nil
}

// Get returns the entry at index, if any.
func (l *Log) Get(index uint64) (Entry, bool, error) {
	return l.getEntry(index)
}

// Has reports whether (index, term) matches a stored entry; (0, 0) always
// matches the empty log prefix.
func (l *Log) Has(index, term uint64) (bool, error) {
	if index == 0 && term == 0 {
		return true, nil
	}
	entry, ok, err := l.getEntry(index)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return entry.Term == term, nil
}

// Commit clamps index to [commit_index, last_index] and, if it moves
// forward, refreshes commit_term from the newly committed entry. It never
// decreases and returns the effective (possibly unchanged) commit index.
func (l *Log) Commit(index uint64) (uint64, error) {
	if index < l.commitIndex {
		index = l.commitIndex
	}
	if index > l.lastIndex {
		index = l.lastIndex
	}
	if index > l.commitIndex {
		entry, ok, err := l.getEntry(index)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: commit target %d has no entry", ErrInconsistent, index)
		}
		l.commitIndex = index
		l.commitTerm = entry.Term
		log.Debug().Uint64("commit_index", index).Msg("raft log commit advanced")
	}
	return l.commitIndex, nil
}

// ApplyResult is the outcome of applying one log entry to a state machine.
// MutateErr is the error (if any) state.Mutate returned; per spec.md §7 this
// is an application-level error converted by the caller into a RespondError
// event, not a Log fault — apply_index still advances past it, since the
// entry was deterministically applied (attempted) exactly once.
type ApplyResult struct {
	Index     uint64
	Output    []byte
	MutateErr error
}

// Apply applies the next unapplied, committed entry to state, if any
// (apply_index < commit_index): it loads entry(apply_index+1), calls
// state.Mutate for non-noop commands, advances and persists apply_index.
func (l *Log) Apply(state statemachine.StateMachine) (*ApplyResult, error) {
	if l.applyIndex >= l.commitIndex {
		return nil, nil
	}
	next := l.applyIndex + 1
	entry, ok, err := l.getEntry(next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: apply target %d has no entry", ErrInconsistent, next)
	}

	var output []byte
	var mutateErr error
	if entry.Command != nil {
		output, mutateErr = state.Mutate(entry.Command)
	}

	l.applyIndex = next
	l.applyTerm = entry.Term
	if err := l.store.Set(keyApplyIndex, codec.EncodeUint64(l.applyIndex)); err != nil {
		return nil, fmt.Errorf("raft: persist apply_index: %w", err)
	}

	return &ApplyResult{Index: next, Output: output, MutateErr: mutateErr}, nil
}

// Splice is the replication primitive: it fails with ErrBaseNotFound if no
// entry matches (base_index, base_term); otherwise it appends, skips, or
// overwrites entries so the log matches the given suffix starting at
// base_index+1 (spec.md §4.2).
func (l *Log) Splice(baseIndex, baseTerm uint64, entries []Entry) (uint64, error) {
	ok, err := l.Has(baseIndex, baseTerm)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrBaseNotFound
	}

	for k, entry := range entries {
		target := baseIndex + 1 + uint64(k)
		existing, has, err := l.getEntry(target)
		if err != nil {
			return 0, err
		}
		switch {
		case !has:
			if _, err := l.Append(entry); err != nil {
				return 0, err
			}
		case existing.Term == entry.Term:
			// identical entry already present; skip
		default:
			if err := l.truncateUnchecked(target - 1); err != nil {
				return 0, err
			}
			if _, err := l.Append(entry); err != nil {
				return 0, err
			}
		}
	}
	return l.lastIndex, nil
}

// Truncate deletes every entry above index, refusing to remove a committed
// or applied entry.
func (l *Log) Truncate(index uint64) error {
	if index < l.commitIndex || index < l.applyIndex {
		return ErrTruncateCommitted
	}
	return l.truncateUnchecked(index)
}

func (l *Log) truncateUnchecked(index uint64) error {
	for i := l.lastIndex; i > index; i-- {
		if err := l.store.Delete(entryKey(i)); err != nil {
			return fmt.Errorf("raft: truncate: %w", err)
		}
	}
	l.lastIndex = index
	if index == 0 {
		l.lastTerm = 0
		return nil
	}
	entry, ok, err := l.getEntry(index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: truncate boundary %d has no entry", ErrInconsistent, index)
	}
	l.lastTerm = entry.Term
	return nil
}

// LoadTerm reads the persisted (current_term, voted_for) pair. A missing
// term key means term 0; a missing voted_for key means no vote.
func (l *Log) LoadTerm() (uint64, *string, error) {
	var term uint64
	raw, ok, err := l.store.Get(keyTerm)
	if err != nil {
		return 0, nil, err
	}
	if ok {
		term, err = codec.DecodeUint64(raw)
		if err != nil {
			return 0, nil, err
		}
	}

	var votedFor *string
	raw, ok, err = l.store.Get(keyVotedFor)
	if err != nil {
		return 0, nil, err
	}
	if ok {
		v, err := codec.DecodeString(raw)
		if err != nil {
			return 0, nil, err
		}
		votedFor = &v
	}
	return term, votedFor, nil
}

// SaveTerm persists (term, votedFor) atomically in intent. term == 0 or
// votedFor == nil is represented by deleting the respective key.
func (l *Log) SaveTerm(term uint64, votedFor *string) error {
	if term == 0 {
		if err := l.store.Delete(keyTerm); err != nil {
			return err
		}
	} else {
		if err := l.store.Set(keyTerm, codec.EncodeUint64(term)); err != nil {
			return err
		}
	}
	if votedFor == nil {
		if err := l.store.Delete(keyVotedFor); err != nil {
			return err
		}
	} else {
		if err := l.store.Set(keyVotedFor, codec.EncodeString(*votedFor)); err != nil {
			return err
		}
	}
	return nil
}

// Range returns the dense slice of entries from index `from` through
// last_index inclusive.
func (l *Log) Range(from uint64) ([]Entry, error) {
	if from == 0 {
		from = 1
	}
	out := make([]Entry, 0, int(l.lastIndex)-int(from)+1)
	for i := from; i <= l.lastIndex; i++ {
		entry, ok, err := l.getEntry(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: range missing entry %d", ErrInconsistent, i)
		}
		out = append(out, entry)
	}
	return out, nil
}
