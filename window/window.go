// Package window keeps a bounded, time-ordered set of labelled instances in
// a metric tree, the storage online instance-based learners query for
// neighbours and evict from as a stream advances.
package window

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/viant/mtree/internal/config"
	"github.com/viant/mtree/internal/logging"
	"github.com/viant/mtree/mtree"
	"github.com/viant/mtree/vector"
)

// ErrNilInstance is returned by Add for an instance without a point.
var ErrNilInstance = errors.New("window: instance has no point")

// Instance is one observation of the stream.
type Instance struct {
	Point *vector.Point
	Label string
	Time  time.Time
}

// Neighbour is an instance with its distance to a query.
type Neighbour struct {
	*Instance
	Distance float64
}

// Window is a bounded instance store. It is not safe for concurrent use.
type Window struct {
	tree       *mtree.Tree[*Instance]
	maxSize    int
	distance   vector.DistanceFunction
	normalizer *vector.RangeNormalizer
	logger     *logging.Logger
}

// New creates an empty window from cfg. A nil logger discards output.
func New(cfg config.Config, logger *logging.Logger) (*Window, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoopLogger()
	}
	w := &Window{
		maxSize:  cfg.Window,
		distance: cfg.Distance.Metric(),
		logger:   logger.WithComponent("window"),
	}
	if cfg.Normalize {
		w.normalizer = vector.NewRangeNormalizer()
	}
	opts := append(cfg.TreeOptions(), mtree.WithLogger(w.logger.Logger))
	tree, err := mtree.New(w.instanceDistance(), opts...)
	if err != nil {
		return nil, err
	}
	w.tree = tree
	return w, nil
}

func (w *Window) instanceDistance() mtree.DistanceFunc[*Instance] {
	fn := w.distance.Function()
	if w.normalizer != nil {
		fn = w.normalizer.Distance()
	}
	return func(a, b *Instance) float64 { return fn(a.Point, b.Point) }
}

// Len returns the number of stored instances.
func (w *Window) Len() int { return w.tree.Len() }

// Add stores inst and evicts the oldest instances beyond the window size.
// It returns the evicted instances.
func (w *Window) Add(inst *Instance) ([]*Instance, error) {
	if inst == nil || inst.Point == nil {
		return nil, ErrNilInstance
	}
	if w.normalizer != nil && w.normalizer.Observe(inst.Point.Vector) {
		// Widened ranges shrink every normalized distance; cached radii must
		// follow.
		if err := w.tree.UpdateDistance(w.instanceDistance()); err != nil {
			w.logger.LogInsert(context.Background(), inst.Point.ID, w.tree.Len(), err)
			return nil, fmt.Errorf("window: refresh distance: %w", err)
		}
	}
	w.tree.Add(inst)
	w.logger.LogInsert(context.Background(), inst.Point.ID, w.tree.Len(), nil)
	if over := w.tree.Len() - w.maxSize; over > 0 {
		return w.Evict(over, nil), nil
	}
	return nil, nil
}

// Remove deletes inst and reports whether it was stored.
func (w *Window) Remove(inst *Instance) bool {
	ok := w.tree.Remove(inst)
	w.logger.LogRemove(context.Background(), inst.Point.ID, ok, w.tree.Len())
	return ok
}

// Evict removes the n instances with the lowest score; a nil score removes
// the oldest first.
func (w *Window) Evict(n int, score mtree.ScoreFunc[*Instance]) []*Instance {
	if score == nil {
		score = func(inst *Instance) float64 { return float64(inst.Time.UnixNano()) }
	}
	evicted := w.tree.RemoveN(n, score)
	w.logger.LogEvict(context.Background(), n, len(evicted), w.tree.Len())
	return evicted
}

// Nearest returns up to k instances closest to q.
func (w *Window) Nearest(q []float32, k int) []Neighbour {
	if k <= 0 {
		return nil
	}
	started := time.Now()
	query := &Instance{Point: vector.NewPoint("", q)}
	out := make([]Neighbour, 0, min(k, w.tree.Len()))
	for inst, d := range w.tree.Nearest(query) {
		out = append(out, Neighbour{Instance: inst, Distance: d})
		if len(out) == k {
			break
		}
	}
	w.logger.LogQuery(context.Background(), k, len(out), time.Since(started), nil)
	return out
}

// recency ranks leaves newest first. Inner spheres carry no time bound, so
// they are always expanded before any leaf.
func recency(s *mtree.Sphere[*Instance]) float64 {
	if s.IsLeaf() {
		return -float64(s.Center().Time.UnixNano())
	}
	return math.Inf(-1)
}

// Recent returns up to k instances, newest first.
func (w *Window) Recent(k int) []*Instance {
	var out []*Instance
	it := w.tree.Query(recency)
	defer it.Close()
	for len(out) < k && it.Next() {
		out = append(out, it.Value())
	}
	return out
}

// Since returns every instance observed at or after t, newest first.
func (w *Window) Since(t time.Time) []*Instance {
	var out []*Instance
	it := w.tree.Query(recency)
	defer it.Close()
	for it.Next() {
		inst := it.Value()
		if inst.Time.Before(t) {
			break
		}
		out = append(out, inst)
	}
	return out
}

// ForgetBefore removes every instance older than t through a single
// recency pass and returns how many were dropped.
func (w *Window) ForgetBefore(t time.Time) int {
	it := w.tree.Query(func(s *mtree.Sphere[*Instance]) float64 {
		if s.IsLeaf() {
			return float64(s.Center().Time.UnixNano())
		}
		return math.Inf(-1)
	})
	removed := 0
	for it.Next() && it.Value().Time.Before(t) {
		if it.Remove() {
			removed++
		}
	}
	it.Close()
	w.logger.LogEvict(context.Background(), removed, removed, w.tree.Len())
	return removed
}

// All returns every stored instance.
func (w *Window) All() []*Instance {
	out := make([]*Instance, 0, w.tree.Len())
	for inst := range w.tree.All() {
		out = append(out, inst)
	}
	return out
}

// Validate checks the invariants of the underlying tree.
func (w *Window) Validate() error { return w.tree.Validate() }
