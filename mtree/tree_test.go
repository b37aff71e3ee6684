package mtree

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point [2]float64

func euclidean(a, b point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

func randomPoints(seed int64, n int) []point {
	rng := rand.New(rand.NewSource(seed))
	points := make([]point, n)
	for i := range points {
		points[i] = point{rng.Float64(), rng.Float64()}
	}
	return points
}

func newTree(t *testing.T, opts ...Option) *Tree[point] {
	t.Helper()
	tree, err := New(euclidean, opts...)
	require.NoError(t, err)
	return tree
}

func collect(tree *Tree[point]) []point {
	var out []point
	for p := range tree.All() {
		out = append(out, p)
	}
	return out
}

func sorted(points []point) []point {
	out := slices.Clone(points)
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func TestNew(t *testing.T) {
	testCases := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{name: "defaults"},
		{name: "smallest", opts: []Option{WithCapacity(1, 2)}},
		{name: "tight", opts: []Option{WithCapacity(4, 7)}},
		{name: "zero min", opts: []Option{WithCapacity(0, 8)}, wantErr: ErrInvalidCapacity},
		{name: "max below two", opts: []Option{WithCapacity(1, 1)}, wantErr: ErrInvalidCapacity},
		{name: "min too large", opts: []Option{WithCapacity(5, 8)}, wantErr: ErrInvalidCapacity},
		{name: "max below min", opts: []Option{WithCapacity(8, 4)}, wantErr: ErrInvalidCapacity},
		{name: "split mode", opts: []Option{WithSplitMode(SplitMode(9))}, wantErr: ErrUnknownSplitMode},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := New(euclidean, tc.opts...)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, tree)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tree.Len())
			assert.Equal(t, 0, tree.Height())
		})
	}

	t.Run("nil distance", func(t *testing.T) {
		_, err := New[point](nil)
		assert.ErrorIs(t, err, ErrNilDistance)
	})

	t.Run("equality type mismatch", func(t *testing.T) {
		_, err := New(euclidean, WithEqual(func(a, b string) bool { return a == b }))
		assert.Error(t, err)
	})
}

func TestTree_Add(t *testing.T) {
	points := randomPoints(1, 1000)
	for _, mode := range SplitModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTree(t, WithCapacity(2, 8), WithSplitMode(mode))
			for i, p := range points {
				tree.Add(p)
				require.Equal(t, i+1, tree.Len())
				if i%97 == 0 {
					require.NoError(t, tree.Validate())
				}
			}
			require.NoError(t, tree.Validate())
			assert.Equal(t, sorted(points), sorted(collect(tree)))
			assert.Greater(t, tree.Height(), 2)
			assert.Positive(t, tree.SplitStats().Count)
		})
	}
}

func TestTree_NearestNeighbours(t *testing.T) {
	points := randomPoints(2, 1000)
	target := point{0.31, 0.77}
	brute := slices.Clone(points)
	sort.SliceStable(brute, func(i, j int) bool { return euclidean(brute[i], target) < euclidean(brute[j], target) })

	for _, mode := range SplitModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTree(t, WithCapacity(2, 8), WithSplitMode(mode))
			for _, p := range points {
				tree.Add(p)
			}
			for _, k := range []int{1, 5, len(points)} {
				var got []point
				it := tree.NearestNeighbours(target)
				for len(got) < k && it.Next() {
					assert.InDelta(t, euclidean(it.Value(), target), it.Score(), 1e-12)
					got = append(got, it.Value())
				}
				require.NoError(t, it.Err())
				require.Len(t, got, k)
				for i := range got {
					assert.InDelta(t, euclidean(brute[i], target), euclidean(got[i], target), 1e-12, "rank %d", i)
				}
			}
			nearest, ok := tree.NearestNeighbour(target)
			require.True(t, ok)
			assert.Equal(t, brute[0], nearest)
		})
	}
}

func TestTree_Nearest(t *testing.T) {
	tree := newTree(t, WithCapacity(2, 4))
	for _, p := range randomPoints(3, 200) {
		tree.Add(p)
	}
	previous := -1.0
	count := 0
	for p, d := range tree.Nearest(point{0.5, 0.5}) {
		assert.GreaterOrEqual(t, d, previous)
		assert.InDelta(t, euclidean(p, point{0.5, 0.5}), d, 1e-12)
		previous = d
		if count++; count == 10 {
			break
		}
	}
	assert.Equal(t, 10, count)

	empty := newTree(t)
	_, ok := empty.NearestNeighbour(point{})
	assert.False(t, ok)
	for range empty.Nearest(point{}) {
		t.Fatal("empty tree yielded an element")
	}
}

func TestTree_Remove(t *testing.T) {
	points := randomPoints(4, 300)
	for _, mode := range SplitModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTree(t, WithCapacity(2, 6), WithSplitMode(mode))
			for _, p := range points {
				tree.Add(p)
			}
			assert.False(t, tree.Remove(point{2, 2}))
			assert.Equal(t, len(points), tree.Len())

			order := rand.New(rand.NewSource(5)).Perm(len(points))
			for i, idx := range order {
				require.True(t, tree.Remove(points[idx]), "remove %v", points[idx])
				assert.False(t, tree.Remove(points[idx]))
				require.Equal(t, len(points)-i-1, tree.Len())
				if i%17 == 0 {
					require.NoError(t, tree.Validate())
					require.Len(t, collect(tree), tree.Len())
				}
			}
			assert.Nil(t, tree.Root())
			assert.Equal(t, 0, tree.Height())
			assert.NoError(t, tree.Validate())
		})
	}
}

func TestTree_RoundTrip(t *testing.T) {
	points := randomPoints(6, 120)
	tree := newTree(t, WithCapacity(3, 7))
	for _, p := range points {
		tree.Add(p)
	}
	before := sorted(collect(tree))

	extra := point{0.5, 0.5}
	tree.Add(extra)
	assert.Equal(t, len(points)+1, tree.Len())
	require.True(t, tree.Remove(extra))
	assert.Equal(t, len(points), tree.Len())
	assert.Equal(t, before, sorted(collect(tree)))
	assert.NoError(t, tree.Validate())
}

func TestTree_Duplicates(t *testing.T) {
	tree := newTree(t, WithCapacity(1, 2))
	p := point{1, 1}
	for range 5 {
		tree.Add(p)
	}
	require.NoError(t, tree.Validate())
	for i := 4; i >= 0; i-- {
		require.True(t, tree.Remove(p))
		assert.Equal(t, i, tree.Len())
		require.NoError(t, tree.Validate())
	}
	assert.False(t, tree.Remove(p))
}

func TestTree_SingleLeafRoot(t *testing.T) {
	tree := newTree(t)
	tree.Add(point{0, 0})
	tree.Add(point{1, 0})
	require.True(t, tree.Remove(point{0, 0}))
	require.NotNil(t, tree.Root())
	assert.True(t, tree.Root().IsLeaf())
	assert.Equal(t, 1, tree.Height())

	tree.Add(point{2, 0})
	assert.Equal(t, 1, tree.Root().Level())
	assert.Equal(t, 2, tree.Len())
	assert.NoError(t, tree.Validate())

	require.True(t, tree.Remove(point{1, 0}))
	require.True(t, tree.Remove(point{2, 0}))
	assert.Nil(t, tree.Root())
}

func TestTree_RemoveN(t *testing.T) {
	points := randomPoints(7, 100)
	byX := func(p point) float64 { return p[0] }

	t.Run("lowest scores", func(t *testing.T) {
		for _, mode := range SplitModes() {
			tree := newTree(t, WithCapacity(2, 5), WithSplitMode(mode))
			for _, p := range points {
				tree.Add(p)
			}
			removed := tree.RemoveN(30, byX)
			require.Len(t, removed, 30)
			assert.Equal(t, 70, tree.Len())
			require.NoError(t, tree.Validate())

			expect := slices.Clone(points)
			sort.Slice(expect, func(i, j int) bool { return expect[i][0] < expect[j][0] })
			assert.Equal(t, expect[:30], removed)
			assert.Equal(t, sorted(expect[30:]), sorted(collect(tree)))
		}
	})

	t.Run("random", func(t *testing.T) {
		tree := newTree(t, WithCapacity(2, 8), WithRand(rand.New(rand.NewSource(8))))
		for _, p := range points {
			tree.Add(p)
		}
		removed := tree.RemoveN(30, nil)
		require.Len(t, removed, 30)
		assert.Equal(t, 70, tree.Len())
		remaining := collect(tree)
		assert.Len(t, remaining, 70)
		for _, r := range removed {
			assert.NotContains(t, remaining, r)
		}
		assert.NoError(t, tree.Validate())
	})

	t.Run("tight capacity", func(t *testing.T) {
		for seed := int64(1); seed <= 10; seed++ {
			tree := newTree(t, WithCapacity(3, 7), WithRand(rand.New(rand.NewSource(seed))))
			for _, p := range randomPoints(seed, 1000) {
				tree.Add(p)
			}
			removed := tree.RemoveN(600, nil)
			require.Len(t, removed, 600)
			assert.Equal(t, 400, tree.Len())
			require.NoError(t, tree.Validate(), "seed %d", seed)
		}
	})

	t.Run("more than size", func(t *testing.T) {
		tree := newTree(t, WithCapacity(2, 8))
		for _, p := range points[:10] {
			tree.Add(p)
		}
		removed := tree.RemoveN(25, byX)
		assert.Len(t, removed, 10)
		assert.Equal(t, 0, tree.Len())
		assert.Nil(t, tree.Root())
		assert.Empty(t, tree.RemoveN(1, byX))
	})

	t.Run("non positive", func(t *testing.T) {
		tree := newTree(t)
		tree.Add(point{})
		assert.Empty(t, tree.RemoveN(0, byX))
		assert.Equal(t, 1, tree.Len())
	})
}

func TestTree_OrderIndependence(t *testing.T) {
	points := randomPoints(9, 150)
	expect := sorted(points)
	rng := rand.New(rand.NewSource(10))
	for range 5 {
		tree := newTree(t, WithCapacity(2, 5))
		for _, i := range rng.Perm(len(points)) {
			tree.Add(points[i])
		}
		assert.Equal(t, expect, sorted(collect(tree)))
		assert.NoError(t, tree.Validate())
	}
}

func TestTree_SplitSeparatesClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var points []point
	for i := range 40 {
		offset := 0.0
		if i%2 == 1 {
			offset = 100
		}
		points = append(points, point{offset + rng.Float64(), offset + rng.Float64()})
	}
	cluster := func(p point) int {
		if p[0] > 50 {
			return 1
		}
		return 0
	}

	for _, mode := range SplitModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTree(t, WithCapacity(2, 39), WithSplitMode(mode))
			for _, p := range points {
				tree.Add(p)
			}
			require.Equal(t, 1, tree.SplitStats().Count)
			root := tree.Root()
			require.Equal(t, 2, root.Level())
			require.Len(t, root.Children(), 2)
			seen := map[int]bool{}
			for _, node := range root.Children() {
				assert.Len(t, node.Children(), 20)
				c := cluster(node.Center())
				for _, leaf := range node.Children() {
					assert.Equal(t, c, cluster(leaf.Center()))
				}
				seen[c] = true
			}
			assert.Len(t, seen, 2)
			assert.NoError(t, tree.Validate())
		})
	}
}

func TestTree_Query(t *testing.T) {
	tree := newTree(t, WithCapacity(2, 6))
	for _, p := range randomPoints(12, 300) {
		tree.Add(p)
	}
	// |x(e) - x(c)| <= d(e, c) <= r bounds every element below a sphere.
	it := tree.Query(func(s *Sphere[point]) float64 { return s.Center()[0] - s.Radius() })
	previous := math.Inf(-1)
	count := 0
	for it.Next() {
		assert.GreaterOrEqual(t, it.Value()[0], previous)
		previous = it.Value()[0]
		count++
	}
	assert.NoError(t, it.Err())
	assert.Equal(t, 300, count)
}

func TestTree_UpdateDistance(t *testing.T) {
	points := randomPoints(13, 200)
	tree := newTree(t, WithCapacity(2, 6))
	for _, p := range points {
		tree.Add(p)
	}
	radius := tree.Root().Radius()
	scaled := func(a, b point) float64 { return 3 * euclidean(a, b) }
	require.NoError(t, tree.UpdateDistance(scaled))
	assert.InDelta(t, 3*radius, tree.Root().Radius(), 1e-9)
	assert.NoError(t, tree.Validate())
	assert.ErrorIs(t, tree.UpdateDistance(nil), ErrNilDistance)

	stretched := func(a, b point) float64 { return math.Hypot(10*(a[0]-b[0]), a[1]-b[1]) }
	require.NoError(t, tree.UpdateDistance(stretched))
	assert.NoError(t, tree.Validate())
	for _, p := range points[:50] {
		require.True(t, tree.Remove(p))
	}
	assert.NoError(t, tree.Validate())
}

func TestIterator_Remove(t *testing.T) {
	points := randomPoints(14, 200)
	tree := newTree(t, WithCapacity(2, 5))
	for _, p := range points {
		tree.Add(p)
	}
	var kept []point
	it := tree.Iterator()
	i := 0
	for it.Next() {
		if i%2 == 0 {
			require.True(t, it.Remove())
			assert.False(t, it.Remove())
		} else {
			kept = append(kept, it.Value())
		}
		i++
	}
	require.NoError(t, it.Err())
	it.Close()
	assert.Equal(t, 200, i)
	assert.Equal(t, 100, tree.Len())
	assert.Equal(t, sorted(kept), sorted(collect(tree)))
	assert.NoError(t, tree.Validate())
}

func TestIterator_RemoveTightCapacity(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		points := randomPoints(seed, 300)
		tree := newTree(t, WithCapacity(2, 3))
		for _, p := range points {
			tree.Add(p)
		}
		rng := rand.New(rand.NewSource(seed))
		var kept []point
		it := tree.Iterator()
		for it.Next() {
			if rng.Float64() < 0.6 {
				require.True(t, it.Remove())
			} else {
				kept = append(kept, it.Value())
			}
		}
		require.NoError(t, it.Err())
		it.Close()
		require.NoError(t, tree.Validate(), "seed %d", seed)
		assert.Equal(t, len(kept), tree.Len())
		assert.Equal(t, sorted(kept), sorted(collect(tree)))
	}
}

func TestQueryIterator_Remove(t *testing.T) {
	tree := newTree(t, WithCapacity(2, 5))
	for _, p := range randomPoints(15, 100) {
		tree.Add(p)
	}
	target := point{0.5, 0.5}
	it := tree.NearestNeighbours(target)
	for range 10 {
		require.True(t, it.Next())
		require.True(t, it.Remove())
	}
	it.Close()
	assert.Equal(t, 90, tree.Len())
	assert.NoError(t, tree.Validate())
	nearest, ok := tree.NearestNeighbour(target)
	require.True(t, ok)
	for p := range tree.All() {
		assert.GreaterOrEqual(t, euclidean(p, target), euclidean(nearest, target))
	}
}

func TestIterator_ConcurrentModification(t *testing.T) {
	tree := newTree(t, WithCapacity(2, 4))
	for _, p := range randomPoints(16, 20) {
		tree.Add(p)
	}
	all := tree.Iterator()
	nn := tree.NearestNeighbours(point{})
	require.True(t, all.Next())
	require.True(t, nn.Next())

	tree.Add(point{0.5, 0.5})
	assert.False(t, all.Next())
	assert.ErrorIs(t, all.Err(), ErrConcurrentModification)
	assert.False(t, nn.Next())
	assert.ErrorIs(t, nn.Err(), ErrConcurrentModification)
	assert.False(t, nn.Remove())
}

func TestTree_Clone(t *testing.T) {
	tree := newTree(t, WithCapacity(2, 4))
	points := randomPoints(17, 50)
	for _, p := range points {
		tree.Add(p)
	}
	clone := tree.Clone(nil)
	require.True(t, clone.Remove(points[0]))
	assert.Equal(t, 50, tree.Len())
	assert.Equal(t, 49, clone.Len())
	assert.NoError(t, tree.Validate())
	assert.NoError(t, clone.Validate())

	shifted := tree.Clone(func(p point) point { return point{p[0] + 1, p[1] + 1} })
	assert.NoError(t, shifted.Validate())
	for p := range shifted.All() {
		assert.GreaterOrEqual(t, p[0], 1.0)
	}
}

func TestTree_WithEqual(t *testing.T) {
	type item struct {
		id  int
		pos []float64
	}
	dist := func(a, b *item) float64 { return math.Abs(a.pos[0] - b.pos[0]) }
	tree, err := New(dist, WithCapacity(1, 3), WithEqual(func(a, b *item) bool { return a.id == b.id }))
	require.NoError(t, err)
	for i := range 10 {
		tree.Add(&item{id: i, pos: []float64{float64(i)}})
	}
	assert.True(t, tree.Remove(&item{id: 4, pos: []float64{4}}))
	assert.False(t, tree.Remove(&item{id: 4, pos: []float64{4}}))
	assert.Equal(t, 9, tree.Len())
	assert.NoError(t, tree.Validate())

	// Remove searches by position; a key at the wrong position is not found.
	assert.False(t, tree.Remove(&item{id: 7, pos: []float64{100}}))
	assert.Equal(t, 9, tree.Len())

	assert.True(t, tree.RemoveFunc(func(it *item) bool { return it.id == 7 }))
	assert.False(t, tree.RemoveFunc(func(it *item) bool { return it.id == 7 }))
	assert.Equal(t, 8, tree.Len())
	for it := range tree.All() {
		assert.NotEqual(t, 7, it.id)
	}
	assert.NoError(t, tree.Validate())
}

func TestTree_Clear(t *testing.T) {
	tree := newTree(t)
	for _, p := range randomPoints(18, 40) {
		tree.Add(p)
	}
	it := tree.Iterator()
	tree.Clear()
	assert.Equal(t, 0, tree.Len())
	assert.Nil(t, tree.Root())
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrConcurrentModification)
}

func TestTree_MixedWorkload(t *testing.T) {
	capacities := [][2]int{{1, 2}, {2, 3}, {3, 5}, {3, 7}}
	for _, c := range capacities {
		for _, mode := range SplitModes() {
			t.Run(fmt.Sprintf("%d-%d/%v", c[0], c[1], mode), func(t *testing.T) {
				seed := int64(c[0]*100 + c[1]*10 + int(mode))
				rng := rand.New(rand.NewSource(seed))
				tree := newTree(t, WithCapacity(c[0], c[1]), WithSplitMode(mode), WithRand(rand.New(rand.NewSource(seed))))
				var stored []point
				drop := func(p point) {
					i := slices.Index(stored, p)
					require.GreaterOrEqual(t, i, 0)
					stored = slices.Delete(stored, i, i+1)
				}
				for step := range 400 {
					switch op := rng.Intn(10); {
					case op < 5 || len(stored) == 0:
						for range 1 + rng.Intn(8) {
							p := point{rng.Float64(), rng.Float64()}
							tree.Add(p)
							stored = append(stored, p)
						}
					case op < 7:
						p := stored[rng.Intn(len(stored))]
						require.True(t, tree.Remove(p))
						drop(p)
						assert.False(t, tree.Remove(point{-1, -1}))
					case op < 9:
						var score ScoreFunc[point]
						if op == 8 {
							score = func(p point) float64 { return p[0] }
						}
						for _, p := range tree.RemoveN(1+rng.Intn(20), score) {
							drop(p)
						}
					default:
						it := tree.Iterator()
						for it.Next() {
							if rng.Intn(3) == 0 {
								p := it.Value()
								require.True(t, it.Remove())
								drop(p)
							}
						}
						require.NoError(t, it.Err())
						it.Close()
					}
					require.NoError(t, tree.Validate(), "step %d", step)
					require.Equal(t, len(stored), tree.Len(), "step %d", step)
				}
				assert.Equal(t, sorted(stored), sorted(collect(tree)))
			})
		}
	}
}
