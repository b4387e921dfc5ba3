package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.Uint64(42)
	w.String("hello")
	w.BytesField([]byte("world"))
	w.Bool(true)

	r := NewReader(w.Bytes())
	u, err := r.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), u)

	s, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	b, err := r.BytesField()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), b)

	flag, err := r.Bool()
	require.NoError(t, err)
	assert.True(t, flag)

	assert.Zero(t, r.Len())
}

func TestOptionalBytesNoneVsSome(t *testing.T) {
	w := NewWriter(0)
	w.OptionalBytes(nil)
	w.OptionalBytes([]byte{})
	w.OptionalBytes([]byte("x"))

	r := NewReader(w.Bytes())
	v, err := r.OptionalBytes()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = r.OptionalBytes()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)

	v, err = r.OptionalBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), v)
}

func TestOptionalString(t *testing.T) {
	w := NewWriter(0)
	w.OptionalString(nil)
	s := "present"
	w.OptionalString(&s)

	r := NewReader(w.Bytes())
	got, err := r.OptionalString()
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = r.OptionalString()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "present", *got)
}

func TestReaderRejectsWrongTag(t *testing.T) {
	w := NewWriter(0)
	w.String("oops")

	r := NewReader(w.Bytes())
	_, err := r.Uint64()
	assert.Error(t, err)
}

func TestReaderRejectsTruncatedInput(t *testing.T) {
	w := NewWriter(0)
	w.Uint64(7)
	truncated := w.Bytes()[:3]

	r := NewReader(truncated)
	_, err := r.Uint64()
	assert.Error(t, err)
}

func TestEncodeDecodeUint64AndString(t *testing.T) {
	got, err := DecodeUint64(EncodeUint64(1234))
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), got)

	s, err := DecodeString(EncodeString("raftkv"))
	require.NoError(t, err)
	assert.Equal(t, "raftkv", s)
}
