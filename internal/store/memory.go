package store

import (
	"sort"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// MemStore is an in-memory Store backed by an immutable radix tree, giving
// ordered iteration and prefix scans.
type MemStore struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{tree: iradix.New()}
}

func (m *MemStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tree.Get([]byte(key))
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *MemStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	tree, _, _ := m.tree.Insert([]byte(key), cp)
	m.tree = tree
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, _, _ := m.tree.Delete([]byte(key))
	m.tree = tree
	return nil
}

func (m *MemStore) IterPrefix(prefix string) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []KV
	m.tree.Root().WalkPrefix([]byte(prefix), func(k []byte, v interface{}) bool {
		out = append(out, KV{Key: string(k), Value: v.([]byte)})
		return false
	})
	// go-immutable-radix's WalkPrefix visits in lexical order already, but
	// sort defensively so callers never depend on iteration internals.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) Close() error { return nil }
