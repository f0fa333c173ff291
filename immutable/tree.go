// Package immutable provides persistent data structures: every write returns a new
// version sharing the untouched parts with the previous one, so any version can be
// read without locking while writers build the next one.
package immutable

import "iter"

// UpdateFunc merges the existing value with the new one when a key is already present.
type UpdateFunc[V any] func(existing, added V) V

// Tree is a persistent height balanced (AVL) binary search tree keyed by int.
//
// The zero value is an empty tree ready to use.
type Tree[V any] struct {
	root *node[V]
	size int
}

type node[V any] struct {
	key    int
	value  V
	height int
	left   *node[V]
	right  *node[V]
}

// Len returns the number of keys in the tree.
func (t Tree[V]) Len() int {
	return t.size
}

// IsEmpty reports whether the tree has no key.
func (t Tree[V]) IsEmpty() bool {
	return t.root == nil
}

// Height returns the height of the tree, 0 when empty.
func (t Tree[V]) Height() int {
	return height(t.root)
}

// Get returns the value stored for key.
func (t Tree[V]) Get(key int) (V, bool) {
	n := t.root
	for n != nil {
		switch {
		case key < n.key:
			n = n.left
		case key > n.key:
			n = n.right
		default:
			return n.value, true
		}
	}
	var zero V
	return zero, false
}

// AddOrUpdate returns a new tree where key maps to value. When key is already
// present, update (if not nil) decides the stored value, otherwise value replaces it.
func (t Tree[V]) AddOrUpdate(key int, value V, update UpdateFunc[V]) Tree[V] {
	root, added := addOrUpdate(t.root, key, value, update)
	size := t.size
	if added {
		size++
	}
	return Tree[V]{root: root, size: size}
}

// AddOrKeep returns a new tree with key mapped to value unless key is already present.
func (t Tree[V]) AddOrKeep(key int, value V) Tree[V] {
	if _, found := t.Get(key); found {
		return t
	}
	return t.AddOrUpdate(key, value, nil)
}

// Remove returns a tree without key. The same tree is returned when key is absent.
func (t Tree[V]) Remove(key int) Tree[V] {
	root, removed := remove(t.root, key)
	if !removed {
		return t
	}
	return Tree[V]{root: root, size: t.size - 1}
}

// All iterates over the entries in ascending key order.
func (t Tree[V]) All() iter.Seq2[int, V] {
	return func(yield func(int, V) bool) {
		walk(t.root, yield)
	}
}

func walk[V any](n *node[V], yield func(int, V) bool) bool {
	if n == nil {
		return true
	}
	return walk(n.left, yield) && yield(n.key, n.value) && walk(n.right, yield)
}

func addOrUpdate[V any](n *node[V], key int, value V, update UpdateFunc[V]) (*node[V], bool) {
	if n == nil {
		return &node[V]{key: key, value: value, height: 1}, true
	}
	switch {
	case key < n.key:
		left, added := addOrUpdate(n.left, key, value, update)
		return balance(n.key, n.value, left, n.right), added
	case key > n.key:
		right, added := addOrUpdate(n.right, key, value, update)
		return balance(n.key, n.value, n.left, right), added
	default:
		if update != nil {
			value = update(n.value, value)
		}
		return &node[V]{key: key, value: value, height: n.height, left: n.left, right: n.right}, false
	}
}

func remove[V any](n *node[V], key int) (*node[V], bool) {
	if n == nil {
		return nil, false
	}
	switch {
	case key < n.key:
		left, removed := remove(n.left, key)
		if !removed {
			return n, false
		}
		return balance(n.key, n.value, left, n.right), true
	case key > n.key:
		right, removed := remove(n.right, key)
		if !removed {
			return n, false
		}
		return balance(n.key, n.value, n.left, right), true
	default:
		if n.left == nil {
			return n.right, true
		}
		if n.right == nil {
			return n.left, true
		}
		successor := n.right
		for successor.left != nil {
			successor = successor.left
		}
		right, _ := remove(n.right, successor.key)
		return balance(successor.key, successor.value, n.left, right), true
	}
}

func height[V any](n *node[V]) int {
	if n == nil {
		return 0
	}
	return n.height
}

func newNode[V any](key int, value V, left, right *node[V]) *node[V] {
	return &node[V]{
		key:    key,
		value:  value,
		height: 1 + max(height(left), height(right)),
		left:   left,
		right:  right,
	}
}

// balance builds the node (key, value, left, right), rotating when the heights of
// the two subtrees differ by more than one.
func balance[V any](key int, value V, left, right *node[V]) *node[V] {
	lh, rh := height(left), height(right)
	switch {
	case lh > rh+1:
		if height(left.left) >= height(left.right) {
			return newNode(left.key, left.value, left.left, newNode(key, value, left.right, right))
		}
		lr := left.right
		return newNode(lr.key, lr.value,
			newNode(left.key, left.value, left.left, lr.left),
			newNode(key, value, lr.right, right))
	case rh > lh+1:
		if height(right.right) >= height(right.left) {
			return newNode(right.key, right.value, newNode(key, value, left, right.left), right.right)
		}
		rl := right.left
		return newNode(rl.key, rl.value,
			newNode(key, value, left, rl.left),
			newNode(right.key, right.value, rl.right, right.right))
	default:
		return newNode(key, value, left, right)
	}
}
