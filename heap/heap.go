// Package heap is a typed facade over container/heap.
package heap

import (
	"container/heap"

	"github.com/a-peyrard/plandi/fn"
)

type elements[T any] struct {
	items      []T
	comparator fn.Comparator[T]
}

// PriorityQueue pops its elements smallest first according to its comparator.
type PriorityQueue[T any] struct {
	inner *elements[T]
}

// New creates an empty priority queue ordered by the given comparator.
func New[T any](comparator fn.Comparator[T]) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		inner: &elements[T]{comparator: comparator},
	}
}

// NewFrom creates a priority queue already holding the given items.
func NewFrom[T any](comparator fn.Comparator[T], items ...T) *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		inner: &elements[T]{
			items:      append(make([]T, 0, len(items)), items...),
			comparator: comparator,
		},
	}
	heap.Init(pq.inner)
	return pq
}

func (pq *PriorityQueue[T]) Push(elem T) {
	heap.Push(pq.inner, elem)
}

func (pq *PriorityQueue[T]) Pop() T {
	return heap.Pop(pq.inner).(T)
}

func (pq *PriorityQueue[T]) Peek() T {
	return pq.inner.items[0]
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.inner.Len()
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.inner.Len() == 0
}

// Drain pops every element, returning them in priority order.
func (pq *PriorityQueue[T]) Drain() []T {
	out := make([]T, 0, pq.Len())
	for !pq.IsEmpty() {
		out = append(out, pq.Pop())
	}
	return out
}

func (e *elements[T]) Len() int { return len(e.items) }

func (e *elements[T]) Less(i, j int) bool {
	return e.comparator(e.items[i], e.items[j]) == fn.Less
}

func (e *elements[T]) Swap(i, j int) {
	e.items[i], e.items[j] = e.items[j], e.items[i]
}

func (e *elements[T]) Push(x any) {
	e.items = append(e.items, x.(T))
}

func (e *elements[T]) Pop() any {
	n := len(e.items)
	item := e.items[n-1]
	var zero T
	e.items[n-1] = zero
	e.items = e.items[:n-1]
	return item
}
