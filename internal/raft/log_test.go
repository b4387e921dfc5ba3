package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btmorr/raftkv/internal/kvstate"
	"github.com/btmorr/raftkv/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(store.NewMemStore())
	require.NoError(t, err)
	return l
}

func TestLogAppendAndGet(t *testing.T) {
	l := newTestLog(t)

	idx, err := l.Append(Entry{Term: 1, Command: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	e, ok, err := l.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Term)

	last, term := l.LastIndexTerm()
	assert.Equal(t, uint64(1), last)
	assert.Equal(t, uint64(1), term)
}

func TestLogHasEmptyPrefixAlwaysMatches(t *testing.T) {
	l := newTestLog(t)
	ok, err := l.Has(0, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogCommitClampsAndNeverDecreases(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(Entry{Term: 1})
	require.NoError(t, err)
	_, err = l.Append(Entry{Term: 1})
	require.NoError(t, err)

	ci, err := l.Commit(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ci, "commit clamps to last_index")

	ci, err = l.Commit(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ci, "commit never decreases")
}

func TestLogApplyAdvancesOneEntryAtATime(t *testing.T) {
	l := newTestLog(t)
	state := kvstate.New(store.NewMemStore())

	_, err := l.Append(Entry{Term: 1, Command: kvstate.EncodeSet("k", []byte("v"))})
	require.NoError(t, err)
	_, err = l.Commit(1)
	require.NoError(t, err)

	res, err := l.Apply(state)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, uint64(1), res.Index)
	assert.NoError(t, res.MutateErr)

	res, err = l.Apply(state)
	require.NoError(t, err)
	assert.Nil(t, res, "nothing left to apply")
}

func TestLogApplyAdvancesPastMutateError(t *testing.T) {
	l := newTestLog(t)
	state := kvstate.New(store.NewMemStore())

	// An unrecognized command tag makes Mutate fail, but apply_index must
	// still move past the entry (spec.md §7: mutate errors are
	// application-level, not log faults).
	_, err := l.Append(Entry{Term: 1, Command: []byte{0xff}})
	require.NoError(t, err)
	_, err = l.Commit(1)
	require.NoError(t, err)

	res, err := l.Apply(state)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Error(t, res.MutateErr)

	idx, _ := l.ApplyIndexTerm()
	assert.Equal(t, uint64(1), idx)
}

func TestLogSpliceRejectsMismatchedBase(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Splice(1, 1, []Entry{{Term: 1}})
	assert.ErrorIs(t, err, ErrBaseNotFound)
}

func TestLogSpliceAppendsFromEmptyBase(t *testing.T) {
	l := newTestLog(t)
	last, err := l.Splice(0, 0, []Entry{{Term: 1}, {Term: 1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestLogSpliceTruncatesOnConflict(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(Entry{Term: 1, Command: []byte("old-2")})
	require.NoError(t, err)
	_, err = l.Append(Entry{Term: 1})
	require.NoError(t, err)
	_, err = l.Append(Entry{Term: 1})
	require.NoError(t, err)

	// A leader in term 2 replaces entries 2-3 with a single new entry.
	last, err := l.Splice(1, 1, []Entry{{Term: 2, Command: []byte("new-2")}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	e, ok, err := l.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), e.Term)
	assert.Equal(t, []byte("new-2"), e.Command)
}

func TestLogTruncateRefusesCommitted(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(Entry{Term: 1})
	require.NoError(t, err)
	_, err = l.Commit(1)
	require.NoError(t, err)

	err = l.Truncate(0)
	assert.ErrorIs(t, err, ErrTruncateCommitted)
}

func TestLogSaveAndLoadTerm(t *testing.T) {
	l := newTestLog(t)
	voted := "node-2"
	require.NoError(t, l.SaveTerm(4, &voted))

	term, votedFor, err := l.LoadTerm()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), term)
	require.NotNil(t, votedFor)
	assert.Equal(t, "node-2", *votedFor)
}

func TestLogRecoversWatermarksFromStore(t *testing.T) {
	s := store.NewMemStore()
	l, err := NewLog(s)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Append(Entry{Term: 1})
		require.NoError(t, err)
	}
	_, err = l.Commit(2)
	require.NoError(t, err)
	_, err = l.Apply(kvstate.New(store.NewMemStore()))
	require.NoError(t, err)

	recovered, err := NewLog(s)
	require.NoError(t, err)

	last, _ := recovered.LastIndexTerm()
	assert.Equal(t, uint64(3), last)
	ci, _ := recovered.CommitIndexTerm()
	assert.Equal(t, uint64(1), ci, "commit_index itself is not persisted, only apply_index")
	ai, _ := recovered.ApplyIndexTerm()
	assert.Equal(t, uint64(1), ai)
}

func TestLogRangeReturnsDenseSuffix(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 3; i++ {
		_, err := l.Append(Entry{Term: 1})
		require.NoError(t, err)
	}
	entries, err := l.Range(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
