package mtree

import (
	"errors"
	"fmt"
	"math"
)

// Validate checks the structural invariants of the whole tree in O(size)
// distance evaluations per level. It is meant for tests and debugging.
func (t *Tree[E]) Validate() error {
	if t.root == nil {
		if t.size != 0 {
			return fmt.Errorf("%w: empty root with size %d", ErrInvariant, t.size)
		}
		return nil
	}
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...))
	}
	if t.root.size != t.size {
		fail("root size %d, tree size %d", t.root.size, t.size)
	}
	var check func(s *Sphere[E], root bool) []E
	check = func(s *Sphere[E], root bool) []E {
		if s.level == 0 {
			if s.size != 1 || len(s.children) != 0 {
				fail("leaf %v has size %d and %d children", s.center, s.size, len(s.children))
			}
			return []E{s.center}
		}
		if !root && !t.pending && (len(s.children) < t.minCapacity || len(s.children) > t.maxCapacity) {
			fail("sphere %v at level %d has %d children", s.center, s.level, len(s.children))
		}
		var elements []E
		size := 0
		for _, c := range s.children {
			if c.level != s.level-1 {
				fail("child %v at level %d under level %d", c.center, c.level, s.level)
			}
			d := t.distance(s.center, c.center)
			if math.Abs(d-c.distanceToParent) > radiusTolerance*(1+d) {
				fail("child %v caches distance %g, actual %g", c.center, c.distanceToParent, d)
			}
			size += c.size
			elements = append(elements, check(c, false)...)
		}
		if size != s.size {
			fail("sphere %v caches size %d, children hold %d", s.center, s.size, size)
		}
		for _, e := range elements {
			if d := t.distance(s.center, e); d > s.radius+radiusTolerance*(1+s.radius) {
				fail("element %v at %g outside sphere %v of radius %g", e, d, s.center, s.radius)
			}
		}
		return elements
	}
	if n := len(check(t.root, true)); n != t.size {
		fail("%d elements reachable, tree size %d", n, t.size)
	}
	return errors.Join(errs...)
}
