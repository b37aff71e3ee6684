package mtree

import (
	"fmt"
	"math"
	"slices"
)

// Sphere is a node of the tree. Every element stored below a sphere lies
// within Radius of its Center. A level 0 sphere is a leaf holding one element
// as its center; a level 1 sphere holds leaves only.
type Sphere[E any] struct {
	center           E
	radius           float64
	children         []*Sphere[E]
	level            int
	size             int
	distanceToParent float64
	dirty            bool
}

func newLeaf[E any](e E) *Sphere[E] {
	return &Sphere[E]{center: e, size: 1, distanceToParent: -1}
}

func newSphere[E any](center E, level int) *Sphere[E] {
	return &Sphere[E]{center: center, level: level, distanceToParent: -1}
}

// Center returns the routing element of the sphere.
func (s *Sphere[E]) Center() E { return s.center }

// Radius returns the covering radius.
func (s *Sphere[E]) Radius() float64 { return s.radius }

// Level returns the height of the sphere above the leaves.
func (s *Sphere[E]) Level() int { return s.level }

// Size returns the number of elements below the sphere.
func (s *Sphere[E]) Size() int { return s.size }

// IsLeaf reports whether the sphere holds a single element.
func (s *Sphere[E]) IsLeaf() bool { return s.level == 0 }

// DistanceToParent returns the cached distance to the parent center, or -1
// before the sphere is first attached.
func (s *Sphere[E]) DistanceToParent() float64 { return s.distanceToParent }

// Children returns the direct children. The slice is owned by the tree and
// must not be modified.
func (s *Sphere[E]) Children() []*Sphere[E] { return s.children }

func (s *Sphere[E]) String() string {
	return fmt.Sprintf("%v :%g", s.center, s.radius)
}

// recomputeRadius derives the radius from the cached child distances.
func (s *Sphere[E]) recomputeRadius() {
	if s.level == 0 {
		s.radius = 0
		return
	}
	var r float64
	for _, c := range s.children {
		r = math.Max(r, c.distanceToParent+c.radius)
	}
	s.radius = r
}

// definedBy reports whether child currently determines the radius of s.
func (s *Sphere[E]) definedBy(child *Sphere[E]) bool {
	return math.Abs(child.distanceToParent+child.radius-s.radius) < radiusTolerance
}

func (s *Sphere[E]) removeChild(child *Sphere[E]) bool {
	i := slices.Index(s.children, child)
	if i < 0 {
		return false
	}
	s.children = slices.Delete(s.children, i, i+1)
	return true
}

// attach appends sub as a direct child of node.
func (t *Tree[E]) attach(node, sub *Sphere[E]) {
	sub.distanceToParent = t.distance(sub.center, node.center)
	node.children = append(node.children, sub)
	node.size += sub.size
	if r := sub.distanceToParent + sub.radius; r > node.radius {
		node.radius = r
	}
}

// chooseSphere picks the child of node closest to the center of sub,
// preferring the one needing the smallest radius expansion on ties.
func (t *Tree[E]) chooseSphere(node, sub *Sphere[E]) *Sphere[E] {
	var best *Sphere[E]
	bestDist, bestGrowth := math.MaxFloat64, 0.0
	for _, c := range node.children {
		d := t.distance(c.center, sub.center)
		growth := d - c.radius + sub.radius
		if best == nil || d < bestDist || (d == bestDist && growth < bestGrowth) {
			best, bestDist, bestGrowth = c, d, growth
		}
	}
	return best
}

// recomputeCenter moves the center of s to the child minimising the
// resulting covering radius and refreshes the cached child distances.
func (t *Tree[E]) recomputeCenter(s *Sphere[E]) {
	n := len(s.children)
	if n == 0 {
		return
	}
	dist := make([]float64, n*n)
	best, bestRadius := 0, math.MaxFloat64
	for i, ci := range s.children {
		worst := ci.radius
		for j, cj := range s.children {
			if j == i {
				continue
			}
			d := dist[i*n+j]
			if j > i {
				d = t.distance(ci.center, cj.center)
				dist[i*n+j], dist[j*n+i] = d, d
			}
			worst = math.Max(worst, d+cj.radius)
		}
		if worst < bestRadius {
			best, bestRadius = i, worst
		}
	}
	s.center = s.children[best].center
	for j, c := range s.children {
		c.distanceToParent = dist[best*n+j]
	}
	s.radius = bestRadius
}

// refreshDistances recomputes every cached distance and radius below s.
func (t *Tree[E]) refreshDistances(s *Sphere[E]) {
	if s.level == 0 {
		s.radius = 0
		return
	}
	var r float64
	for _, c := range s.children {
		t.refreshDistances(c)
		c.distanceToParent = t.distance(s.center, c.center)
		r = math.Max(r, c.distanceToParent+c.radius)
	}
	s.radius = r
}

func cloneSphere[E any](s *Sphere[E], mapFn func(E) E) *Sphere[E] {
	c := *s
	c.center = mapFn(s.center)
	if s.children != nil {
		c.children = make([]*Sphere[E], len(s.children), cap(s.children))
		for i, ch := range s.children {
			c.children[i] = cloneSphere(ch, mapFn)
		}
	}
	return &c
}

func walkLeaves[E any](s *Sphere[E], fn func(leaf *Sphere[E])) {
	if s.level == 0 {
		fn(s)
		return
	}
	for _, c := range s.children {
		walkLeaves(c, fn)
	}
}
