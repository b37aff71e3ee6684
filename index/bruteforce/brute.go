package bruteforce

import (
	"cmp"
	"math"
	"slices"

	"github.com/viant/mtree/index"
	"github.com/viant/mtree/vector"
)

// Index is a brute-force vector index. The zero value scores by cosine
// similarity.
type Index struct {
	metric vector.DistanceFunction
	points []*vector.Point
	pos    map[string]int
	dim    int
}

// New creates an index scoring with metric.
func New(metric vector.DistanceFunction) *Index {
	return &Index{metric: metric}
}

// Metric returns the distance function scores derive from.
func (i *Index) Metric() vector.DistanceFunction {
	if i.metric == "" {
		return vector.DistanceFunctionCosine
	}
	return i.metric
}

// Len returns the number of stored vectors.
func (i *Index) Len() int { return len(i.points) }

// Build loads ids and vectors and precomputes magnitudes.
func (i *Index) Build(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return index.ErrLengthMismatch
	}
	dim, err := index.CheckDimensions(vectors)
	if err != nil {
		return err
	}
	i.points, i.pos, i.dim = nil, nil, dim
	for j, id := range ids {
		i.put(vector.NewPoint(id, vectors[j]))
	}
	return nil
}

// Add inserts or replaces the vector stored under id.
func (i *Index) Add(id string, vec []float32) error {
	if len(i.points) == 0 {
		i.dim = len(vec)
	} else if len(vec) != i.dim {
		return &index.DimensionError{Want: i.dim, Got: len(vec)}
	}
	i.put(vector.NewPoint(id, vec))
	return nil
}

func (i *Index) put(p *vector.Point) {
	if i.pos == nil {
		i.pos = make(map[string]int)
	}
	if j, ok := i.pos[p.ID]; ok {
		i.points[j] = p
		return
	}
	i.pos[p.ID] = len(i.points)
	i.points = append(i.points, p)
}

// Remove deletes id and reports whether it was present.
func (i *Index) Remove(id string) bool {
	j, ok := i.pos[id]
	if !ok {
		return false
	}
	last := len(i.points) - 1
	if j != last {
		i.points[j] = i.points[last]
		i.pos[i.points[j].ID] = j
	}
	i.points[last] = nil
	i.points = i.points[:last]
	delete(i.pos, id)
	return true
}

// Query returns the top k ids by decreasing score. Zero-magnitude vectors
// never match a cosine query.
func (i *Index) Query(query []float32, k int) ([]string, []float64, error) {
	if len(i.points) == 0 {
		return nil, nil, nil
	}
	if len(query) != i.dim {
		return nil, nil, &index.DimensionError{Want: i.dim, Got: len(query)}
	}
	metric := i.Metric()
	q := vector.NewPoint("", query)
	if metric != vector.DistanceFunctionEuclidean && q.Magnitude == 0 {
		return nil, nil, nil
	}
	distance := metric.Function()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(i.points))
	for _, p := range i.points {
		if metric != vector.DistanceFunctionEuclidean && p.Magnitude == 0 {
			continue
		}
		s := metric.Score(distance(q, p))
		if math.IsNaN(s) {
			continue
		}
		scoreds = append(scoreds, scored{id: p.ID, score: s})
	}
	slices.SortStableFunc(scoreds, func(a, b scored) int { return cmp.Compare(b.score, a.score) })
	if k <= 0 || k > len(scoreds) {
		k = len(scoreds)
	}
	ids := make([]string, k)
	scores := make([]float64, k)
	for n := range k {
		ids[n] = scoreds[n].id
		scores[n] = scoreds[n].score
	}
	return ids, scores, nil
}

// MarshalBinary stores the vectors in the shared index encoding.
func (i *Index) MarshalBinary() ([]byte, error) {
	ids := make([]string, len(i.points))
	vectors := make([][]float32, len(i.points))
	for j, p := range i.points {
		ids[j], vectors[j] = p.ID, p.Vector
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
