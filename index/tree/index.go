package tree

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/viant/mtree/index"
	"github.com/viant/mtree/internal/logging"
	"github.com/viant/mtree/mtree"
	"github.com/viant/mtree/vector"
	"golang.org/x/sync/errgroup"
)

// Index is an M-tree backed vector index safe for concurrent use: queries
// share a read lock, mutations take the write lock.
type Index struct {
	mu       sync.RWMutex
	metric   vector.DistanceFunction
	treeOpts []mtree.Option
	tree     *mtree.Tree[*vector.Point]
	byID     map[string]*vector.Point
	dim      int
	logger   *logging.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithTreeOptions passes options to the underlying tree.
func WithTreeOptions(opts ...mtree.Option) Option {
	return func(i *Index) { i.treeOpts = append(i.treeOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(i *Index) { i.logger = logger }
}

// New creates an empty index. An empty metric means cosine.
func New(metric vector.DistanceFunction, opts ...Option) (*Index, error) {
	if metric == "" {
		metric = vector.DistanceFunctionCosine
	}
	if _, err := vector.ParseDistanceFunction(string(metric)); err != nil {
		return nil, err
	}
	i := &Index{metric: metric, byID: map[string]*vector.Point{}}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = logging.NoopLogger()
	}
	t, err := i.newTree()
	if err != nil {
		return nil, err
	}
	i.tree = t
	return i, nil
}

func (i *Index) newTree() (*mtree.Tree[*vector.Point], error) {
	distance := mtree.DistanceFunc[*vector.Point](i.metric.Metric().Function())
	return mtree.New(distance, i.treeOpts...)
}

// Metric returns the distance function scores derive from.
func (i *Index) Metric() vector.DistanceFunction { return i.metric }

// Len returns the number of stored vectors.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tree.Len()
}

// Height returns the number of tree levels.
func (i *Index) Height() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tree.Height()
}

// Validate checks the invariants of the underlying tree.
func (i *Index) Validate() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.tree.Validate()
}

// Build replaces the content of the index.
func (i *Index) Build(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return index.ErrLengthMismatch
	}
	dim, err := index.CheckDimensions(vectors)
	if err != nil {
		return err
	}
	started := time.Now()
	t, err := i.newTree()
	if err != nil {
		return err
	}
	byID := make(map[string]*vector.Point, len(ids))
	for j, id := range ids {
		p := vector.NewPoint(id, vectors[j])
		if prev, ok := byID[id]; ok {
			t.Remove(prev)
		}
		byID[id] = p
		t.Add(p)
	}

	i.mu.Lock()
	i.tree, i.byID, i.dim = t, byID, dim
	i.mu.Unlock()
	i.logger.LogBuild(context.Background(), t.Len(), t.Height(), time.Since(started))
	return nil
}

// Add inserts or replaces the vector stored under id.
func (i *Index) Add(id string, vec []float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.tree.Len() == 0 {
		i.dim = len(vec)
	} else if len(vec) != i.dim {
		err := &index.DimensionError{Want: i.dim, Got: len(vec)}
		i.logger.LogInsert(context.Background(), id, i.tree.Len(), err)
		return err
	}
	if prev, ok := i.byID[id]; ok {
		i.tree.Remove(prev)
	}
	p := vector.NewPoint(id, vec)
	i.byID[id] = p
	i.tree.Add(p)
	i.logger.LogInsert(context.Background(), id, i.tree.Len(), nil)
	return nil
}

// Remove deletes id and reports whether it was present.
func (i *Index) Remove(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.byID[id]
	if ok {
		delete(i.byID, id)
		ok = i.tree.Remove(p)
	}
	i.logger.LogRemove(context.Background(), id, ok, i.tree.Len())
	return ok
}

// Evict removes the n vectors with the lowest score and returns their ids.
// A nil score evicts at random.
func (i *Index) Evict(n int, score func(id string) float64) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var byPoint mtree.ScoreFunc[*vector.Point]
	if score != nil {
		byPoint = func(p *vector.Point) float64 { return score(p.ID) }
	}
	removed := i.tree.RemoveN(n, byPoint)
	ids := make([]string, len(removed))
	for j, p := range removed {
		ids[j] = p.ID
		delete(i.byID, p.ID)
	}
	i.logger.LogEvict(context.Background(), n, len(ids), i.tree.Len())
	return ids
}

// Query returns the k nearest ids by decreasing score. k <= 0 returns every
// match.
func (i *Index) Query(query []float32, k int) ([]string, []float64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.query(query, k)
}

func (i *Index) query(query []float32, k int) ([]string, []float64, error) {
	started := time.Now()
	if i.tree.Len() == 0 {
		return nil, nil, nil
	}
	if len(query) != i.dim {
		err := &index.DimensionError{Want: i.dim, Got: len(query)}
		i.logger.LogQuery(context.Background(), k, 0, time.Since(started), err)
		return nil, nil, err
	}
	angular := i.metric != vector.DistanceFunctionEuclidean
	q := vector.NewPoint("", query)
	if angular && q.Magnitude == 0 {
		return nil, nil, nil
	}
	if k <= 0 {
		k = i.tree.Len()
	}
	metric := i.metric.Metric()
	ids := make([]string, 0, min(k, i.tree.Len()))
	scores := make([]float64, 0, cap(ids))
	it := i.tree.NearestNeighbours(q)
	for len(ids) < k && it.Next() {
		p := it.Value()
		if angular && p.Magnitude == 0 {
			continue
		}
		s := metric.Score(it.Score())
		if math.IsNaN(s) {
			continue
		}
		ids = append(ids, p.ID)
		scores = append(scores, s)
	}
	i.logger.LogQuery(context.Background(), k, len(ids), time.Since(started), it.Err())
	return ids, scores, it.Err()
}

// Result holds the matches of one query.
type Result struct {
	IDs    []string
	Scores []float64
}

// QueryBatch runs queries concurrently and returns results in query order.
func (i *Index) QueryBatch(ctx context.Context, queries [][]float32, k int) ([]Result, error) {
	results := make([]Result, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	i.mu.RLock()
	defer i.mu.RUnlock()
	for n, q := range queries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids, scores, err := i.query(q, k)
			if err != nil {
				return err
			}
			results[n] = Result{IDs: ids, Scores: scores}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// MarshalBinary stores the vectors in the shared index encoding.
func (i *Index) MarshalBinary() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := make([]string, 0, i.tree.Len())
	vectors := make([][]float32, 0, i.tree.Len())
	for p := range i.tree.All() {
		ids = append(ids, p.ID)
		vectors = append(vectors, p.Vector)
	}
	return index.Encode(i.dim, ids, vectors), nil
}

// UnmarshalBinary restores the index from bytes.
func (i *Index) UnmarshalBinary(data []byte) error {
	ids, vectors, err := index.Decode(data)
	if err != nil {
		return err
	}
	return i.Build(ids, vectors)
}

var _ index.Mutable = (*Index)(nil)
