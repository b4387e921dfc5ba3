// Package kvstate implements the default key/value State Machine
// (spec.md §4.3): a Set/Get command vocabulary over a Store.
package kvstate

import (
	"fmt"

	"github.com/btmorr/raftkv/internal/codec"
	"github.com/btmorr/raftkv/internal/store"
)

const (
	tagSet byte = 1
	tagGet byte = 2
)

// EncodeSet builds a Set(key, value) command.
func EncodeSet(key string, value []byte) []byte {
	w := codec.NewWriter(len(key) + len(value) + 16)
	w.Tag(tagSet)
	w.String(key)
	w.BytesField(value)
	return w.Bytes()
}

// EncodeGet builds a Get(key) command.
func EncodeGet(key string) []byte {
	w := codec.NewWriter(len(key) + 8)
	w.Tag(tagGet)
	w.String(key)
	return w.Bytes()
}

// DecodeGetResponse decodes the serialized optional value returned by a
// Get command's response.
func DecodeGetResponse(b []byte) (value []byte, ok bool, err error) {
	r := codec.NewReader(b)
	value, err = r.OptionalBytes()
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// KV is the default State Machine: an ordered key/value Store addressed by
// tagged Set/Get commands.
type KV struct {
	store store.Store
}

// New constructs a KV state machine backed by s.
func New(s store.Store) *KV {
	return &KV{store: s}
}

// Read answers Get commands; it is the only read command this layer
// privileges, but nothing in the State Machine contract stops a caller
// from round-tripping other read variants (e.g. a prefix scan) through
// their own tagged command, as spec.md §4.3 notes.
func (k *KV) Read(command []byte) ([]byte, error) {
	r := codec.NewReader(command)
	tag, err := r.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagGet:
		key, err := r.String()
		if err != nil {
			return nil, err
		}
		value, ok, err := k.store.Get(key)
		if err != nil {
			return nil, err
		}
		w := codec.NewWriter(len(value) + 8)
		w.OptionalBytes(optional(value, ok))
		return w.Bytes(), nil
	default:
		return nil, fmt.Errorf("kvstate: unsupported read command tag %d", tag)
	}
}

// Mutate applies Set commands; response is always empty.
func (k *KV) Mutate(command []byte) ([]byte, error) {
	r := codec.NewReader(command)
	tag, err := r.Tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagSet:
		key, err := r.String()
		if err != nil {
			return nil, err
		}
		value, err := r.BytesField()
		if err != nil {
			return nil, err
		}
		if err := k.store.Set(key, value); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("kvstate: unsupported mutate command tag %d", tag)
	}
}

func optional(v []byte, ok bool) []byte {
	if !ok {
		return nil
	}
	if v == nil {
		return []byte{}
	}
	return v
}
