package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreGetSetDelete(t *testing.T) {
	s := NewMemStore()

	_, ok, err := s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("a", []byte("1")))
	v, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete("a"))
	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStoreSetCopiesValue(t *testing.T) {
	s := NewMemStore()
	value := []byte("mutable")
	require.NoError(t, s.Set("k", value))
	value[0] = 'X'

	got, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("mutable"), got)
}

func TestMemStoreIterPrefixSortedAscending(t *testing.T) {
	s := NewMemStore()
	for _, k := range []string{"b/2", "a/1", "b/1", "c/1"} {
		require.NoError(t, s.Set(k, []byte(k)))
	}

	got, err := s.IterPrefix("b/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b/1", got[0].Key)
	assert.Equal(t, "b/2", got[1].Key)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set("k1", []byte("v1")))
	require.NoError(t, fs.Set("k2", []byte("v2")))
	require.NoError(t, fs.Delete("k1"))
	require.NoError(t, fs.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Get("k1")
	require.NoError(t, err)
	assert.False(t, ok, "k1 was deleted before close")

	v, ok, err := reopened.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestFileStoreOverwriteKeepsLatestValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Set("k", []byte("old")))
	require.NoError(t, fs.Set("k", []byte("new")))

	v, ok, err := fs.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestFileStoreIterPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Set("user/1", []byte("a")))
	require.NoError(t, fs.Set("user/2", []byte("b")))
	require.NoError(t, fs.Set("org/1", []byte("c")))

	got, err := fs.IterPrefix("user/")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
