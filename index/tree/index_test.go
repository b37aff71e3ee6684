package tree

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mtree/index"
	"github.com/viant/mtree/index/bruteforce"
	"github.com/viant/mtree/mtree"
	"github.com/viant/mtree/vector"
)

func randomData(seed int64, n, dim int) ([]string, [][]float32) {
	rng := rand.New(rand.NewSource(seed))
	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
		vectors[i] = make([]float32, dim)
		for j := range vectors[i] {
			vectors[i][j] = rng.Float32()*2 - 1
		}
	}
	return ids, vectors
}

func TestIndex_MatchesBruteForce(t *testing.T) {
	ids, vectors := randomData(1, 500, 6)
	queries := [][]float32{vectors[3], {0.1, -0.2, 0.3, 0.4, -0.5, 0.6}, {1, 1, 1, 1, 1, 1}}

	for _, metric := range []vector.DistanceFunction{vector.DistanceFunctionEuclidean, vector.DistanceFunctionCosine} {
		t.Run(string(metric), func(t *testing.T) {
			idx, err := New(metric, WithTreeOptions(mtree.WithCapacity(3, 8), mtree.WithSplitMode(mtree.Balanced)))
			require.NoError(t, err)
			require.NoError(t, idx.Build(ids, vectors))
			require.NoError(t, idx.Validate())
			assert.Equal(t, 500, idx.Len())

			brute := bruteforce.New(metric)
			require.NoError(t, brute.Build(ids, vectors))
			for _, q := range queries {
				for _, k := range []int{1, 5, 0} {
					gotIDs, gotScores, err := idx.Query(q, k)
					require.NoError(t, err)
					wantIDs, wantScores, err := brute.Query(q, k)
					require.NoError(t, err)
					require.Len(t, gotIDs, len(wantIDs))
					assert.InDeltaSlice(t, wantScores, gotScores, 1e-4)
				}
			}
		})
	}
}

func TestIndex_AddRemove(t *testing.T) {
	idx, err := New(vector.DistanceFunctionEuclidean, WithTreeOptions(mtree.WithCapacity(2, 4)))
	require.NoError(t, err)
	for i := range 50 {
		require.NoError(t, idx.Add(fmt.Sprintf("p%d", i), []float32{float32(i), 0}))
	}
	require.NoError(t, idx.Add("p10", []float32{100, 0}))
	assert.Equal(t, 50, idx.Len())

	ids, scores, err := idx.Query([]float32{99, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p10", "p49"}, ids)
	assert.InDelta(t, -1, scores[0], 1e-6)

	assert.True(t, idx.Remove("p10"))
	assert.False(t, idx.Remove("p10"))
	assert.Equal(t, 49, idx.Len())
	ids, _, err = idx.Query([]float32{99, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p49"}, ids)
	assert.NoError(t, idx.Validate())

	var dimErr *index.DimensionError
	assert.ErrorAs(t, idx.Add("bad", []float32{1}), &dimErr)
	_, _, err = idx.Query([]float32{1, 2, 3}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestIndex_Evict(t *testing.T) {
	ids, vectors := randomData(2, 100, 3)
	idx, err := New(vector.DistanceFunctionEuclidean, WithTreeOptions(mtree.WithCapacity(2, 6)))
	require.NoError(t, err)
	require.NoError(t, idx.Build(ids, vectors))

	rank := make(map[string]float64, len(ids))
	for i, id := range ids {
		rank[id] = float64(i)
	}
	evicted := idx.Evict(30, func(id string) float64 { return rank[id] })
	assert.Equal(t, ids[:30], evicted)
	assert.Equal(t, 70, idx.Len())
	assert.False(t, idx.Remove(ids[0]))
	assert.True(t, idx.Remove(ids[30]))

	assert.Len(t, idx.Evict(5, nil), 5)
	assert.Equal(t, 64, idx.Len())
	assert.NoError(t, idx.Validate())
}

func TestIndex_QueryBatch(t *testing.T) {
	ids, vectors := randomData(3, 300, 4)
	idx, err := New(vector.DistanceFunctionEuclidean)
	require.NoError(t, err)
	require.NoError(t, idx.Build(ids, vectors))

	queries := vectors[:20]
	results, err := idx.QueryBatch(context.Background(), queries, 3)
	require.NoError(t, err)
	require.Len(t, results, len(queries))
	for n, r := range results {
		require.Len(t, r.IDs, 3)
		assert.Equal(t, ids[n], r.IDs[0])
		wantIDs, _, err := idx.Query(queries[n], 3)
		require.NoError(t, err)
		assert.Equal(t, wantIDs, r.IDs)
	}

	_, err = idx.QueryBatch(context.Background(), [][]float32{{1}}, 3)
	var dimErr *index.DimensionError
	assert.ErrorAs(t, err, &dimErr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.QueryBatch(ctx, queries, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex_MarshalBinary(t *testing.T) {
	ids, vectors := randomData(4, 40, 3)
	idx, err := New(vector.DistanceFunctionCosine)
	require.NoError(t, err)
	require.NoError(t, idx.Build(ids, vectors))
	data, err := idx.MarshalBinary()
	require.NoError(t, err)

	brute := bruteforce.New(vector.DistanceFunctionCosine)
	require.NoError(t, brute.UnmarshalBinary(data))
	assert.Equal(t, 40, brute.Len())

	restored, err := New(vector.DistanceFunctionCosine)
	require.NoError(t, err)
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, 40, restored.Len())
	want, _, err := idx.Query(vectors[7], 5)
	require.NoError(t, err)
	got, _, err := restored.Query(vectors[7], 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNew_UnknownMetric(t *testing.T) {
	_, err := New("manhattan")
	assert.Error(t, err)
	_, err = New(vector.DistanceFunctionEuclidean, WithTreeOptions(mtree.WithCapacity(0, 1)))
	assert.ErrorIs(t, err, mtree.ErrInvalidCapacity)
}
