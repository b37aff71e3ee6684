package mtree

import (
	"cmp"
	"slices"
	"time"
)

// SplitStats accumulates split activity of a tree.
type SplitStats struct {
	Count    int
	Duration time.Duration
}

// split replaces node, a child of parent (or a root being wrapped by a new
// parent), with two spheres partitioning its children.
func (t *Tree[E]) split(node, parent *Sphere[E]) {
	start := time.Now()
	left, right := t.partition(node.children)
	a := t.newCentered(left, node.level)
	b := t.newCentered(right, node.level)
	if t.settling {
		a.dirty, b.dirty = true, true
	}
	if parent.removeChild(node) {
		parent.size -= node.size
	}
	t.insert(parent, a)
	t.insert(parent, b)
	t.splits.Count++
	t.splits.Duration += time.Since(start)
	t.logger.Debug("mtree split",
		"mode", t.splitMode.String(),
		"level", node.level,
		"children", len(node.children),
		"left", len(left),
		"right", len(right),
	)
}

// splitOverflowing splits children of parent until none exceeds the maximum
// capacity.
func (t *Tree[E]) splitOverflowing(parent *Sphere[E]) {
	for {
		i := slices.IndexFunc(parent.children, func(c *Sphere[E]) bool {
			return len(c.children) > t.maxCapacity
		})
		if i < 0 {
			return
		}
		t.split(parent.children[i], parent)
	}
}

func (t *Tree[E]) newCentered(members []*Sphere[E], level int) *Sphere[E] {
	s := newSphere(members[0].center, level)
	s.children = members
	for _, m := range members {
		s.size += m.size
	}
	t.recomputeCenter(s)
	return s
}

// partition promotes two seeds among children and distributes the rest.
// Both returned halves are non-empty and hold at least the minimum capacity
// whenever len(children) allows it.
func (t *Tree[E]) partition(children []*Sphere[E]) (left, right []*Sphere[E]) {
	var a, b int
	if t.splitMode.linear() {
		a, b = t.promoteLinear(children)
	} else {
		a, b = t.promoteQuadratic(children)
	}
	toA := make([]float64, len(children))
	toB := make([]float64, len(children))
	for i, c := range children {
		toA[i] = t.distance(children[a].center, c.center)
		toB[i] = t.distance(children[b].center, c.center)
	}
	if t.splitMode == LinearHyperplane || t.splitMode == Hyperplane {
		return t.hyperplane(children, a, b, toA, toB)
	}
	return balanced(children, toA, toB)
}

// promoteLinear picks the child farthest from the current center, then the
// child farthest from that one.
func (t *Tree[E]) promoteLinear(children []*Sphere[E]) (a, b int) {
	for i, c := range children {
		if c.distanceToParent > children[a].distanceToParent {
			a = i
		}
	}
	b, farthest := -1, -1.0
	for i, c := range children {
		if i == a {
			continue
		}
		if d := t.distance(children[a].center, c.center); d > farthest {
			b, farthest = i, d
		}
	}
	return a, b
}

// promoteQuadratic picks the pair of children with the largest distance.
func (t *Tree[E]) promoteQuadratic(children []*Sphere[E]) (a, b int) {
	a, b = 0, 1
	farthest := -1.0
	for i := 0; i < len(children)-1; i++ {
		for j := i + 1; j < len(children); j++ {
			if d := t.distance(children[i].center, children[j].center); d > farthest {
				a, b, farthest = i, j, d
			}
		}
	}
	return a, b
}

// hyperplane assigns each child to its nearer seed. A side reaching
// len(children)-minCapacity members closes and the rest go to the other side.
func (t *Tree[E]) hyperplane(children []*Sphere[E], a, b int, toA, toB []float64) (left, right []*Sphere[E]) {
	limit := len(children) - t.minCapacity
	left = append(make([]*Sphere[E], 0, limit), children[a])
	right = append(make([]*Sphere[E], 0, limit), children[b])
	for i, c := range children {
		if i == a || i == b {
			continue
		}
		switch {
		case len(left) >= limit:
			right = append(right, c)
		case len(right) >= limit:
			left = append(left, c)
		case toA[i] < toB[i]:
			left = append(left, c)
		default:
			right = append(right, c)
		}
	}
	return left, right
}

// balanced alternates between the sides, each taking the remaining child
// nearest to its seed, so the halves differ by at most one member.
func balanced[E any](children []*Sphere[E], toA, toB []float64) (left, right []*Sphere[E]) {
	n := len(children)
	byA := nearestOrder(toA)
	byB := nearestOrder(toB)
	taken := make([]bool, n)
	left = make([]*Sphere[E], 0, n/2+1)
	right = make([]*Sphere[E], 0, n/2+1)
	pa, pb := 0, 0
	for assigned := 0; assigned < n; {
		for taken[byA[pa]] {
			pa++
		}
		taken[byA[pa]] = true
		left = append(left, children[byA[pa]])
		if assigned++; assigned == n {
			break
		}
		for taken[byB[pb]] {
			pb++
		}
		taken[byB[pb]] = true
		right = append(right, children[byB[pb]])
		assigned++
	}
	return left, right
}

func nearestOrder(dist []float64) []int {
	order := make([]int, len(dist))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(i, j int) int { return cmp.Compare(dist[i], dist[j]) })
	return order
}
