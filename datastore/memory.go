package datastore

import (
	"bytes"

	"github.com/google/btree"
)

type memItem struct {
	key, value []byte
}

// MemoryStore is the ephemeral backend used by tests and namespaces
// opened without storage.
type MemoryStore struct {
	tree *btree.BTreeG[memItem]
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{tree: btree.NewG(16, func(a, b memItem) bool {
		return bytes.Compare(a.key, b.key) < 0
	})}
}

func (s *MemoryStore) Write(key, value []byte) error {
	s.tree.ReplaceOrInsert(memItem{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (s *MemoryStore) Read(key []byte) ([]byte, error) {
	if it, ok := s.tree.Get(memItem{key: key}); ok {
		return append([]byte(nil), it.value...), nil
	}
	return nil, nil
}

func (s *MemoryStore) Delete(key []byte) error {
	s.tree.Delete(memItem{key: key})
	return nil
}

func (s *MemoryStore) Flush() error { return nil }

func (s *MemoryStore) ReadRange(prefix []byte) (Iterator, error) {
	var items []memItem
	s.tree.AscendGreaterOrEqual(memItem{key: prefix}, func(it memItem) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		items = append(items, it)
		return true
	})
	return &memIterator{items: items, pos: -1}, nil
}

func (s *MemoryStore) Close() error { return nil }

type memIterator struct {
	items []memItem
	pos   int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *memIterator) Key() []byte   { return it.items[it.pos].key }
func (it *memIterator) Value() []byte { return it.items[it.pos].value }
func (it *memIterator) Close() error  { return nil }
