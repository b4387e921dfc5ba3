package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{Term: 3, Command: []byte("set x 1")}
	got, err := DecodeEntry(e.Encode())
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEntryEncodeDecodeNoop(t *testing.T) {
	e := Entry{Term: 5}
	got, err := DecodeEntry(e.Encode())
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Nil(t, got.Command)
}

func TestEntryClone(t *testing.T) {
	e := Entry{Term: 1, Command: []byte("abc")}
	cp := e.Clone()
	cp.Command[0] = 'X'
	assert.Equal(t, byte('a'), e.Command[0])
}
