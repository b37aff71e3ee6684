package mtree

import (
	"cmp"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"time"
)

// DistanceFunc measures the distance between two elements. It is expected
// to be a metric; violations of the triangle inequality make nearest
// neighbour search best effort.
type DistanceFunc[E any] func(a, b E) float64

// ScoreFunc ranks a value, lower first.
type ScoreFunc[T any] func(T) float64

// EqualFunc reports whether two elements denote the same stored item.
type EqualFunc[E any] func(a, b E) bool

// Tree is a dynamic metric tree. It is not safe for concurrent use; a single
// writer must serialise every call.
type Tree[E any] struct {
	root        *Sphere[E]
	size        int
	minCapacity int
	maxCapacity int
	splitMode   SplitMode
	distance    DistanceFunc[E]
	equal       EqualFunc[E]
	rand        *rand.Rand
	logger      *slog.Logger
	splits      SplitStats

	// mod counts structural modifications for iterator invalidation.
	mod uint64
	// pending marks removals whose fan-out repair is deferred.
	pending bool
	// settling marks spheres receiving children as dirty while a repair
	// runs, so that spheres finished earlier in the pass are revisited.
	settling bool
}

// New creates an empty tree ordered by distance.
func New[E any](distance DistanceFunc[E], opts ...Option) (*Tree[E], error) {
	if distance == nil {
		return nil, ErrNilDistance
	}
	o := &options{
		minCapacity: DefaultMinCapacity,
		maxCapacity: DefaultMaxCapacity,
		splitMode:   LinearHyperplane,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := CheckCapacity(o.minCapacity, o.maxCapacity); err != nil {
		return nil, err
	}
	if !o.splitMode.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSplitMode, int(o.splitMode))
	}
	t := &Tree[E]{
		minCapacity: o.minCapacity,
		maxCapacity: o.maxCapacity,
		splitMode:   o.splitMode,
		distance:    distance,
		equal:       func(a, b E) bool { return any(a) == any(b) },
		rand:        o.rand,
		logger:      o.logger,
	}
	if o.equal != nil {
		eq, ok := o.equal.(EqualFunc[E])
		if !ok {
			return nil, fmt.Errorf("mtree: equality %T does not match element type %T", o.equal, *new(E))
		}
		t.equal = eq
	}
	if t.rand == nil {
		t.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	return t, nil
}

// Len returns the number of stored elements.
func (t *Tree[E]) Len() int { return t.size }

// Root returns the root sphere or nil for an empty tree.
func (t *Tree[E]) Root() *Sphere[E] { return t.root }

// Height returns the number of levels including the leaves.
func (t *Tree[E]) Height() int {
	if t.root == nil {
		return 0
	}
	return t.root.level + 1
}

// Capacity returns the fan-out bounds.
func (t *Tree[E]) Capacity() (min, max int) { return t.minCapacity, t.maxCapacity }

// SplitMode returns the split strategy.
func (t *Tree[E]) SplitMode() SplitMode { return t.splitMode }

// SplitStats returns the accumulated split counters.
func (t *Tree[E]) SplitStats() SplitStats { return t.splits }

// Clear removes every element.
func (t *Tree[E]) Clear() {
	t.root = nil
	t.size = 0
	t.pending = false
	t.mod++
}

// Add inserts e. Duplicates are stored as separate elements.
func (t *Tree[E]) Add(e E) {
	t.settle()
	leaf := newLeaf(e)
	switch {
	case t.root == nil:
		root := newSphere(e, 1)
		t.attach(root, leaf)
		root.distanceToParent = 0
		t.root = root
	case t.root.level == 0:
		old := t.root
		root := newSphere(old.center, 1)
		t.attach(root, old)
		t.attach(root, leaf)
		root.distanceToParent = 0
		t.root = root
	default:
		t.insert(t.root, leaf)
	}
	t.size++
	t.mod++
	t.settleRoot()
}

// insert places sub, a sphere of a lower level, below node. Children of
// node that overflow are split; node itself is left to its caller.
func (t *Tree[E]) insert(node, sub *Sphere[E]) {
	if t.settling {
		node.dirty = true
	}
	if node.level == sub.level+1 {
		if sub.level == 0 || len(sub.children) >= t.minCapacity {
			t.attach(node, sub)
			return
		}
		for _, c := range sub.children {
			t.insert(node, c)
		}
		return
	}
	child := t.chooseSphere(node, sub)
	if child == nil {
		child = newSphere(sub.center, node.level-1)
		t.attach(node, child)
	}
	defining := node.definedBy(child)
	before := child.radius
	t.insert(child, sub)
	node.size += sub.size
	if r := child.distanceToParent + child.radius; r > node.radius {
		node.radius = r
	} else if defining && child.radius < before {
		node.recomputeRadius()
	}
	if len(child.children) > t.maxCapacity {
		t.splitOverflowing(node)
		node.recomputeRadius()
	}
}

// Remove deletes one element equal to e and reports whether it was present.
// Equality defaults to ==, which panics for non-comparable element types;
// supply WithEqual for those. The search only descends into spheres covering
// e, so e must lie where the stored element lies even when the equality
// compares keys only; RemoveFunc finds an element by key alone.
func (t *Tree[E]) Remove(e E) bool {
	t.settle()
	if !t.remove(t.covering(e), func(leaf *Sphere[E]) bool { return t.equal(leaf.center, e) }) {
		return false
	}
	t.settle()
	return true
}

// RemoveFunc deletes the first element for which match returns true and
// reports whether one was found. It visits every sphere, O(Len()).
func (t *Tree[E]) RemoveFunc(match func(E) bool) bool {
	t.settle()
	if !t.remove(nil, func(leaf *Sphere[E]) bool { return match(leaf.center) }) {
		return false
	}
	t.settle()
	return true
}

// covering accepts the spheres whose radius could contain e.
func (t *Tree[E]) covering(e E) func(*Sphere[E]) bool {
	return func(s *Sphere[E]) bool {
		return t.distance(s.center, e) <= s.radius+radiusTolerance*(1+s.radius)
	}
}

// remove detaches the first leaf accepted by match, descending only into
// spheres accepted by within (all when nil), and defers fan-out repair to
// the next settle.
func (t *Tree[E]) remove(within, match func(*Sphere[E]) bool) bool {
	if t.root == nil {
		return false
	}
	if t.root.level == 0 {
		if !match(t.root) {
			return false
		}
		t.root = nil
	} else if !t.removeLeaf(t.root, within, match) {
		return false
	}
	t.size--
	t.mod++
	t.pending = true
	return true
}

func (t *Tree[E]) removeLeaf(node *Sphere[E], within, match func(*Sphere[E]) bool) bool {
	if node.level == 1 {
		i := slices.IndexFunc(node.children, match)
		if i < 0 {
			return false
		}
		node.children = slices.Delete(node.children, i, i+1)
	} else {
		found := false
		for _, c := range node.children {
			if within != nil && !within(c) {
				continue
			}
			if t.removeLeaf(c, within, match) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	node.size--
	node.dirty = true
	node.recomputeRadius()
	return true
}

// RemoveN deletes the min(n, Len()) elements with the lowest score and
// returns them in ascending score order. Equal scores keep traversal order.
// A nil score evicts uniformly at random.
func (t *Tree[E]) RemoveN(n int, score ScoreFunc[E]) []E {
	t.settle()
	if n <= 0 || t.root == nil {
		return nil
	}
	if score == nil {
		score = func(E) float64 { return t.rand.Float64() }
	}
	type ranked struct {
		leaf  *Sphere[E]
		score float64
	}
	all := make([]ranked, 0, t.size)
	walkLeaves(t.root, func(leaf *Sphere[E]) {
		all = append(all, ranked{leaf: leaf, score: score(leaf.center)})
	})
	slices.SortStableFunc(all, func(a, b ranked) int { return cmp.Compare(a.score, b.score) })
	n = min(n, len(all))
	marked := make(map[*Sphere[E]]struct{}, n)
	removed := make([]E, n)
	for i, r := range all[:n] {
		marked[r.leaf] = struct{}{}
		removed[i] = r.leaf.center
	}
	if t.root.level == 0 {
		t.root = nil
	} else {
		t.removeMarked(t.root, marked)
	}
	t.size -= n
	t.mod++
	t.pending = true
	t.settle()
	t.logger.Debug("mtree bulk removal", "removed", n, "size", t.size)
	return removed
}

func (t *Tree[E]) removeMarked(node *Sphere[E], marked map[*Sphere[E]]struct{}) int {
	removed := 0
	if node.level == 1 {
		before := len(node.children)
		node.children = slices.DeleteFunc(node.children, func(c *Sphere[E]) bool {
			_, ok := marked[c]
			return ok
		})
		removed = before - len(node.children)
	} else {
		for _, c := range node.children {
			removed += t.removeMarked(c, marked)
		}
	}
	if removed > 0 {
		node.size -= removed
		node.dirty = true
		node.recomputeRadius()
	}
	return removed
}

// settle runs the deferred repair left by removals. Absorption re-inserts
// children into spheres that may already have been repaired, so passes
// repeat until no sphere is left dirty.
func (t *Tree[E]) settle() {
	if !t.pending {
		return
	}
	t.pending = false
	t.settling = true
	for t.root != nil && t.root.dirty {
		t.repair(t.root)
		t.settleRoot()
	}
	t.settling = false
	t.settleRoot()
	t.mod++
}

// repair restores the fan-out of every dirty sphere bottom-up. A sphere
// stays dirty when one of its children was changed after being repaired.
func (t *Tree[E]) repair(node *Sphere[E]) {
	if !node.dirty {
		return
	}
	node.dirty = false
	if node.level > 1 {
		for _, c := range node.children {
			t.repair(c)
		}
		t.absorb(node)
		t.splitOverflowing(node)
		if slices.ContainsFunc(node.children, func(c *Sphere[E]) bool { return c.dirty }) {
			node.dirty = true
		}
	}
	node.recomputeRadius()
}

// absorb drops empty children and dissolves underfull ones into their
// siblings while more than one child remains.
func (t *Tree[E]) absorb(node *Sphere[E]) {
	node.children = slices.DeleteFunc(node.children, func(c *Sphere[E]) bool { return len(c.children) == 0 })
	for len(node.children) > 1 {
		i := slices.IndexFunc(node.children, func(c *Sphere[E]) bool { return len(c.children) < t.minCapacity })
		if i < 0 {
			return
		}
		orphan := node.children[i]
		node.children = slices.Delete(node.children, i, i+1)
		node.size -= orphan.size
		node.recomputeRadius()
		for _, c := range orphan.children {
			t.insert(node, c)
		}
	}
}

// settleRoot grows the tree while the root overflows and shrinks it while
// the root has a single child.
func (t *Tree[E]) settleRoot() {
	root := t.root
	if root == nil {
		return
	}
	if t.size == 0 {
		t.root = nil
		return
	}
	for root.level > 0 && len(root.children) > t.maxCapacity {
		grown := newSphere(root.center, root.level+1)
		t.split(root, grown)
		t.splitOverflowing(grown)
		t.recomputeCenter(grown)
		grown.distanceToParent = 0
		root = grown
		t.logger.Debug("mtree root grown", "level", root.level, "size", root.size)
	}
	for root.level > 0 && len(root.children) == 1 {
		root = root.children[0]
		root.distanceToParent = 0
		t.logger.Debug("mtree root shrunk", "level", root.level, "size", root.size)
	}
	t.root = root
}

// UpdateDistance replaces the distance function and recomputes every cached
// distance and radius.
func (t *Tree[E]) UpdateDistance(distance DistanceFunc[E]) error {
	if distance == nil {
		return ErrNilDistance
	}
	t.distance = distance
	if t.root != nil {
		t.refreshDistances(t.root)
		t.root.distanceToParent = 0
	}
	t.mod++
	return nil
}

// Clone returns a deep copy of the tree with every element passed through
// mapFn. A nil mapFn copies elements as is.
func (t *Tree[E]) Clone(mapFn func(E) E) *Tree[E] {
	if mapFn == nil {
		mapFn = func(e E) E { return e }
	}
	c := *t
	c.mod = 0
	if t.root != nil {
		c.root = cloneSphere(t.root, mapFn)
	}
	return &c
}
