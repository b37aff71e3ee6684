// Package heap provides a generic array-backed binary min-heap ordered by a
// caller supplied comparator. It backs the best-first search of the metric
// tree and supports O(n) bulk construction and a fused pop+push Replace.
package heap

import "container/heap"

// Heap is a binary min-heap. The element for which compare reports the
// smallest value is returned first; ties are returned in no particular order.
// The zero value is not usable, use New or NewFrom.
type Heap[T any] struct {
	items items[T]
}

// items adapts the backing slice to container/heap.
type items[T any] struct {
	data    []T
	compare func(a, b T) int
}

func (s items[T]) Len() int           { return len(s.data) }
func (s items[T]) Less(i, j int) bool { return s.compare(s.data[i], s.data[j]) < 0 }
func (s items[T]) Swap(i, j int)      { s.data[i], s.data[j] = s.data[j], s.data[i] }

func (s *items[T]) Push(x any) { s.data = append(s.data, x.(T)) }

func (s *items[T]) Pop() any {
	old := s.data
	n := len(old)
	x := old[n-1]
	var zero T
	old[n-1] = zero
	s.data = old[:n-1]
	return x
}

// New returns an empty heap ordered by compare.
func New[T any](compare func(a, b T) int) *Heap[T] {
	return &Heap[T]{items: items[T]{compare: compare}}
}

// NewFrom returns a heap holding values, built in O(n). The heap takes
// ownership of the slice.
func NewFrom[T any](values []T, compare func(a, b T) int) *Heap[T] {
	h := &Heap[T]{items: items[T]{data: values, compare: compare}}
	heap.Init(&h.items)
	return h
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int { return len(h.items.data) }

// Insert adds x in O(log n).
func (h *Heap[T]) Insert(x T) { heap.Push(&h.items, x) }

// InsertAll adds values. Into an empty heap this is an O(n) heapify,
// otherwise each value is inserted in O(log n).
func (h *Heap[T]) InsertAll(values ...T) {
	if len(h.items.data) > 0 {
		for _, v := range values {
			heap.Push(&h.items, v)
		}
		return
	}
	h.items.data = append(h.items.data, values...)
	heap.Init(&h.items)
}

// Peek returns the minimum without removing it; ok is false when empty.
func (h *Heap[T]) Peek() (x T, ok bool) {
	if len(h.items.data) == 0 {
		return x, false
	}
	return h.items.data[0], true
}

// Next removes and returns the minimum; ok is false when empty.
func (h *Heap[T]) Next() (x T, ok bool) {
	if len(h.items.data) == 0 {
		return x, false
	}
	return heap.Pop(&h.items).(T), true
}

// Replace removes the minimum and inserts x in a single sift, returning the
// removed minimum. x must not be smaller than the current minimum; this is
// not checked. ok is false, and x is not inserted, when the heap is empty.
func (h *Heap[T]) Replace(x T) (top T, ok bool) {
	if len(h.items.data) == 0 {
		return top, false
	}
	top = h.items.data[0]
	h.items.data[0] = x
	heap.Fix(&h.items, 0)
	return top, true
}

// Clear removes all elements, keeping the allocated capacity.
func (h *Heap[T]) Clear() {
	var zero T
	for i := range h.items.data {
		h.items.data[i] = zero
	}
	h.items.data = h.items.data[:0]
}
