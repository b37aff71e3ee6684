package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, sim, 1e-6)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1, sim, 1e-6)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
	_, err = CosineSimilarity([]float32{0, 0}, []float32{1, 2})
	assert.Error(t, err)
}

func TestL2Distance(t *testing.T) {
	d, err := L2Distance([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5, d, 1e-6)

	_, err = L2Distance([]float32{0}, []float32{3, 4})
	assert.Error(t, err)
}

func TestDistanceFunction(t *testing.T) {
	a := NewPoint("a", []float32{1, 0})
	b := NewPoint("b", []float32{0, 2})
	testCases := []struct {
		name     DistanceFunction
		distance float64
		score    float64
	}{
		{name: DistanceFunctionEuclidean, distance: math.Sqrt(5), score: -math.Sqrt(5)},
		{name: DistanceFunctionCosine, distance: 1, score: 0},
		{name: DistanceFunctionAngular, distance: math.Pi / 2, score: 0},
	}
	for _, tc := range testCases {
		t.Run(string(tc.name), func(t *testing.T) {
			fn := tc.name.Function()
			require.NotNil(t, fn)
			d := fn(a, b)
			assert.InDelta(t, tc.distance, d, 1e-5)
			assert.InDelta(t, tc.score, tc.name.Score(d), 1e-5)
		})
	}
	assert.Nil(t, DistanceFunction("manhattan").Function())
	assert.Equal(t, DistanceFunctionAngular, DistanceFunctionCosine.Metric())
	assert.Equal(t, DistanceFunctionEuclidean, DistanceFunctionEuclidean.Metric())
}

func TestParseDistanceFunction(t *testing.T) {
	for input, want := range map[string]DistanceFunction{
		"euclidean": DistanceFunctionEuclidean,
		"L2":        DistanceFunctionEuclidean,
		" Cosine ":  DistanceFunctionCosine,
		"angular":   DistanceFunctionAngular,
	} {
		got, err := ParseDistanceFunction(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}
	_, err := ParseDistanceFunction("hamming")
	assert.Error(t, err)
}

func TestCosineDistance_ZeroMagnitude(t *testing.T) {
	zero := &Point{Vector: []float32{0, 0}}
	assert.Equal(t, 1.0, CosineDistance(zero, NewPoint("b", []float32{1, 1})))
}

func TestRangeNormalizer(t *testing.T) {
	n := NewRangeNormalizer()
	_, _, ok := n.Range(0)
	assert.False(t, ok)

	assert.True(t, n.Observe([]float32{0, 10}))
	assert.True(t, n.Observe([]float32{2, 30}))
	assert.False(t, n.Observe([]float32{1, 20}))

	lo, hi, ok := n.Range(1)
	require.True(t, ok)
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 30.0, hi)

	dist := n.Distance()
	a := &Point{Vector: []float32{0, 10}}
	b := &Point{Vector: []float32{2, 30}}
	assert.InDelta(t, math.Sqrt2, dist(a, b), 1e-9)

	assert.True(t, n.Observe([]float32{4, 30}))
	assert.InDelta(t, math.Sqrt2, dist(a, b), 1e-9, "snapshot unaffected by later observations")
	assert.InDelta(t, math.Sqrt(1.25), n.Distance()(a, b), 1e-9)
}
