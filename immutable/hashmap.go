package immutable

import (
	"hash/maphash"
	"iter"
)

var seed = maphash.MakeSeed()

// HashMap is a persistent hash map built on Tree. Keys whose hashes collide share a
// tree node, the extra entries live in a small side list of that node.
//
// The zero value is an empty map ready to use.
type HashMap[K comparable, V any] struct {
	tree   Tree[*bucket[K, V]]
	size   int
	hasher func(K) int
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

type bucket[K comparable, V any] struct {
	entry[K, V]
	conflicts []entry[K, V]
}

func (m HashMap[K, V]) hash(key K) int {
	if m.hasher != nil {
		return m.hasher(key)
	}
	return int(maphash.Comparable(seed, key))
}

// Len returns the number of keys.
func (m HashMap[K, V]) Len() int {
	return m.size
}

// IsEmpty reports whether the map has no key.
func (m HashMap[K, V]) IsEmpty() bool {
	return m.size == 0
}

// Get returns the value stored for key.
func (m HashMap[K, V]) Get(key K) (V, bool) {
	if b, found := m.tree.Get(m.hash(key)); found {
		if b.key == key {
			return b.value, true
		}
		for _, c := range b.conflicts {
			if c.key == key {
				return c.value, true
			}
		}
	}
	var zero V
	return zero, false
}

// AddOrUpdate returns a new map where key maps to value, see Tree.AddOrUpdate for update.
func (m HashMap[K, V]) AddOrUpdate(key K, value V, update UpdateFunc[V]) HashMap[K, V] {
	h := m.hash(key)
	b, found := m.tree.Get(h)
	if !found {
		return m.with(m.tree.AddOrUpdate(h, &bucket[K, V]{entry: entry[K, V]{key, value}}, nil), m.size+1)
	}

	if b.key == key {
		if update != nil {
			value = update(b.value, value)
		}
		replaced := &bucket[K, V]{entry: entry[K, V]{key, value}, conflicts: b.conflicts}
		return m.with(m.tree.AddOrUpdate(h, replaced, nil), m.size)
	}

	conflicts := make([]entry[K, V], len(b.conflicts), len(b.conflicts)+1)
	copy(conflicts, b.conflicts)
	for i, c := range conflicts {
		if c.key == key {
			if update != nil {
				value = update(c.value, value)
			}
			conflicts[i] = entry[K, V]{key, value}
			return m.with(m.tree.AddOrUpdate(h, &bucket[K, V]{entry: b.entry, conflicts: conflicts}, nil), m.size)
		}
	}
	conflicts = append(conflicts, entry[K, V]{key, value})
	return m.with(m.tree.AddOrUpdate(h, &bucket[K, V]{entry: b.entry, conflicts: conflicts}, nil), m.size+1)
}

// AddOrKeep returns a map with key mapped to value unless key is already present.
func (m HashMap[K, V]) AddOrKeep(key K, value V) HashMap[K, V] {
	if _, found := m.Get(key); found {
		return m
	}
	return m.AddOrUpdate(key, value, nil)
}

// Without returns a map without key.
func (m HashMap[K, V]) Without(key K) HashMap[K, V] {
	h := m.hash(key)
	b, found := m.tree.Get(h)
	if !found {
		return m
	}

	if b.key == key {
		if len(b.conflicts) == 0 {
			return m.with(m.tree.Remove(h), m.size-1)
		}
		promoted := &bucket[K, V]{entry: b.conflicts[0], conflicts: b.conflicts[1:len(b.conflicts):len(b.conflicts)]}
		return m.with(m.tree.AddOrUpdate(h, promoted, nil), m.size-1)
	}

	for i, c := range b.conflicts {
		if c.key == key {
			conflicts := make([]entry[K, V], 0, len(b.conflicts)-1)
			conflicts = append(conflicts, b.conflicts[:i]...)
			conflicts = append(conflicts, b.conflicts[i+1:]...)
			return m.with(m.tree.AddOrUpdate(h, &bucket[K, V]{entry: b.entry, conflicts: conflicts}, nil), m.size-1)
		}
	}
	return m
}

// All iterates over the entries, ordered by key hash.
func (m HashMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, b := range m.tree.All() {
			if !yield(b.key, b.value) {
				return
			}
			for _, c := range b.conflicts {
				if !yield(c.key, c.value) {
					return
				}
			}
		}
	}
}

func (m HashMap[K, V]) with(tree Tree[*bucket[K, V]], size int) HashMap[K, V] {
	return HashMap[K, V]{tree: tree, size: size, hasher: m.hasher}
}
