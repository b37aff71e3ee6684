package mtree

import (
	"cmp"
	"iter"

	"github.com/viant/mtree/internal/heap"
)

// AllIterator walks every element in pre-order. It supports removing the
// current element; fan-out repair for such removals runs on Close or on the
// next mutating call of the tree.
type AllIterator[E any] struct {
	tree    *Tree[E]
	stack   []*Sphere[E]
	current *Sphere[E]
	mod     uint64
	removed bool
	err     error
}

// Iterator returns an iterator over every element.
func (t *Tree[E]) Iterator() *AllIterator[E] {
	it := &AllIterator[E]{tree: t, mod: t.mod}
	if t.root != nil {
		it.stack = append(it.stack, t.root)
	}
	return it
}

// Next advances to the next element.
func (it *AllIterator[E]) Next() bool {
	it.current = nil
	if it.err != nil {
		return false
	}
	if it.mod != it.tree.mod {
		it.err = ErrConcurrentModification
		return false
	}
	for len(it.stack) > 0 {
		s := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		if s.level == 0 {
			it.current = s
			return true
		}
		for i := len(s.children) - 1; i >= 0; i-- {
			it.stack = append(it.stack, s.children[i])
		}
	}
	return false
}

// Value returns the current element.
func (it *AllIterator[E]) Value() E {
	var zero E
	if it.current == nil {
		return zero
	}
	return it.current.center
}

// Remove deletes the current element from the tree.
func (it *AllIterator[E]) Remove() bool {
	if it.current == nil || it.mod != it.tree.mod {
		return false
	}
	leaf := it.current
	it.current = nil
	if !it.tree.remove(it.tree.covering(leaf.center), func(s *Sphere[E]) bool { return s == leaf }) {
		return false
	}
	it.mod = it.tree.mod
	it.removed = true
	return true
}

// Err returns ErrConcurrentModification if the tree changed underneath.
func (it *AllIterator[E]) Err() error { return it.err }

// Close releases the iterator and repairs the tree after removals.
func (it *AllIterator[E]) Close() {
	if it.removed {
		it.tree.settle()
		it.removed = false
	}
	it.stack = nil
	it.current = nil
}

type scored[E any] struct {
	sphere *Sphere[E]
	score  float64
}

// QueryIterator yields elements in ascending order of a per-sphere score
// that must never exceed the score of any element below the sphere.
type QueryIterator[E any] struct {
	tree    *Tree[E]
	score   func(*Sphere[E]) float64
	queue   *heap.Heap[scored[E]]
	current scored[E]
	mod     uint64
	removed bool
	err     error
}

// Query runs a best-first search ordered by score. For a leaf the score is
// the exact rank of its element; for an inner sphere it must be a lower
// bound of every rank below it.
func (t *Tree[E]) Query(score func(*Sphere[E]) float64) *QueryIterator[E] {
	it := &QueryIterator[E]{
		tree:  t,
		score: score,
		queue: heap.New(func(a, b scored[E]) int { return cmp.Compare(a.score, b.score) }),
		mod:   t.mod,
	}
	if t.root != nil {
		it.queue.Insert(scored[E]{sphere: t.root, score: score(t.root)})
	}
	return it
}

// NearestNeighbours returns the elements in ascending distance from q.
func (t *Tree[E]) NearestNeighbours(q E) *QueryIterator[E] {
	return t.Query(func(s *Sphere[E]) float64 {
		return t.distance(s.center, q) - s.radius
	})
}

// NearestNeighbour returns the element closest to q.
func (t *Tree[E]) NearestNeighbour(q E) (E, bool) {
	it := t.NearestNeighbours(q)
	if !it.Next() {
		var zero E
		return zero, false
	}
	return it.Value(), true
}

// Next advances to the next element.
func (it *QueryIterator[E]) Next() bool {
	it.current = scored[E]{}
	if it.err != nil {
		return false
	}
	if it.mod != it.tree.mod {
		it.err = ErrConcurrentModification
		return false
	}
	for {
		top, ok := it.queue.Next()
		if !ok {
			return false
		}
		if top.sphere.level == 0 {
			it.current = top
			return true
		}
		expanded := make([]scored[E], len(top.sphere.children))
		for i, c := range top.sphere.children {
			expanded[i] = scored[E]{sphere: c, score: it.score(c)}
		}
		it.queue.InsertAll(expanded...)
	}
}

// Value returns the current element.
func (it *QueryIterator[E]) Value() E {
	var zero E
	if it.current.sphere == nil {
		return zero
	}
	return it.current.sphere.center
}

// Score returns the score of the current element.
func (it *QueryIterator[E]) Score() float64 { return it.current.score }

// Remove deletes the current element from the tree.
func (it *QueryIterator[E]) Remove() bool {
	leaf := it.current.sphere
	if leaf == nil || it.mod != it.tree.mod {
		return false
	}
	it.current = scored[E]{}
	if !it.tree.remove(it.tree.covering(leaf.center), func(s *Sphere[E]) bool { return s == leaf }) {
		return false
	}
	it.mod = it.tree.mod
	it.removed = true
	return true
}

// Err returns ErrConcurrentModification if the tree changed underneath.
func (it *QueryIterator[E]) Err() error { return it.err }

// Close releases the iterator and repairs the tree after removals.
func (it *QueryIterator[E]) Close() {
	if it.removed {
		it.tree.settle()
		it.removed = false
	}
	it.queue.Clear()
	it.current = scored[E]{}
}

// All returns a sequence over every element in pre-order.
func (t *Tree[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		it := t.Iterator()
		defer it.Close()
		for it.Next() {
			if !yield(it.Value()) {
				return
			}
		}
	}
}

// Nearest returns a sequence of elements and their distances to q in
// ascending distance order.
func (t *Tree[E]) Nearest(q E) iter.Seq2[E, float64] {
	return func(yield func(E, float64) bool) {
		it := t.NearestNeighbours(q)
		defer it.Close()
		for it.Next() {
			if !yield(it.Value(), it.Score()) {
				return
			}
		}
	}
}
