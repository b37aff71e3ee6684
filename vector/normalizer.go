package vector

import (
	"math"
	"slices"
	"sync"
)

// RangeNormalizer tracks the per-dimension value range of a stream and
// produces Euclidean distances over range-scaled coordinates. Distances
// handed out are snapshots; after Observe reports a widened range callers
// rebuild them with Distance.
type RangeNormalizer struct {
	mu       sync.RWMutex
	min, max []float64
}

// NewRangeNormalizer creates a normalizer with no observed range.
func NewRangeNormalizer() *RangeNormalizer {
	return &RangeNormalizer{}
}

// Observe extends the tracked ranges by v and reports whether any range
// changed.
func (n *RangeNormalizer) Observe(v []float32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	changed := false
	if len(v) > len(n.min) {
		for i := len(n.min); i < len(v); i++ {
			n.min = append(n.min, math.Inf(1))
			n.max = append(n.max, math.Inf(-1))
		}
		changed = true
	}
	for i, x := range v {
		f := float64(x)
		if f < n.min[i] {
			n.min[i] = f
			changed = true
		}
		if f > n.max[i] {
			n.max[i] = f
			changed = true
		}
	}
	return changed
}

// Range returns the observed bounds of dimension i.
func (n *RangeNormalizer) Range(i int) (lo, hi float64, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if i < 0 || i >= len(n.min) || n.min[i] > n.max[i] {
		return 0, 0, false
	}
	return n.min[i], n.max[i], true
}

// Distance returns a Euclidean distance over coordinates divided by the
// currently observed range. Dimensions with an empty range are ignored.
func (n *RangeNormalizer) Distance() DistanceFunc {
	n.mu.RLock()
	scale := make([]float64, len(n.min))
	for i := range scale {
		if width := n.max[i] - n.min[i]; width > 0 {
			scale[i] = 1 / width
		}
	}
	n.mu.RUnlock()
	scale = slices.Clip(scale)
	return func(p1, p2 *Point) float64 {
		var sum float64
		for i := range min(len(p1.Vector), len(p2.Vector), len(scale)) {
			d := (float64(p1.Vector[i]) - float64(p2.Vector[i])) * scale[i]
			sum += d * d
		}
		return math.Sqrt(sum)
	}
}
