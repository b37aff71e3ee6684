package vector

import (
	"fmt"
	"math"
	"strings"

	"github.com/viant/vec/search"
)

// DistanceFunction enumerates supported distance measures.
type DistanceFunction string

const (
	DistanceFunctionEuclidean DistanceFunction = "euclidean"
	// DistanceFunctionCosine is 1 - cosine similarity. It does not satisfy
	// the triangle inequality; tree indexes search by DistanceFunctionAngular
	// instead, which orders points identically.
	DistanceFunctionCosine DistanceFunction = "cosine"
	// DistanceFunctionAngular is the angle between two vectors in radians.
	DistanceFunctionAngular DistanceFunction = "angular"
)

// DistanceFunc computes the distance between two points.
type DistanceFunc func(p1, p2 *Point) float64

// ParseDistanceFunction resolves a distance name, ignoring case.
func ParseDistanceFunction(name string) (DistanceFunction, error) {
	d := DistanceFunction(strings.ToLower(strings.TrimSpace(name)))
	switch d {
	case DistanceFunctionEuclidean, DistanceFunctionCosine, DistanceFunctionAngular:
		return d, nil
	case "l2":
		return DistanceFunctionEuclidean, nil
	}
	return "", fmt.Errorf("vector: unsupported distance %q", name)
}

// Function resolves the callable distance implementation.
func (d DistanceFunction) Function() DistanceFunc {
	switch d {
	case DistanceFunctionEuclidean:
		return EuclideanDistance
	case DistanceFunctionCosine:
		return CosineDistance
	case DistanceFunctionAngular:
		return AngularDistance
	default:
		return nil
	}
}

// Metric returns the distance a metric index should search with to rank
// points as d does.
func (d DistanceFunction) Metric() DistanceFunction {
	if d == DistanceFunctionCosine {
		return DistanceFunctionAngular
	}
	return d
}

// Score converts a distance into a similarity score where higher means more
// similar: the negated distance for euclidean and cosine similarity for the
// angular family.
func (d DistanceFunction) Score(distance float64) float64 {
	switch d {
	case DistanceFunctionCosine:
		return 1 - distance
	case DistanceFunctionAngular:
		return math.Cos(distance)
	default:
		return -distance
	}
}

// EuclideanDistance returns the Euclidean distance between two points.
func EuclideanDistance(p1, p2 *Point) float64 {
	return float64(search.Float32s(p1.Vector).EuclideanDistance(p2.Vector))
}

// CosineDistance returns 1 - cosine similarity, or 1 when either vector has
// zero magnitude.
func CosineDistance(p1, p2 *Point) float64 {
	m1, m2 := p1.magnitude(), p2.magnitude()
	if m1 == 0 || m2 == 0 {
		return 1
	}
	return float64(search.Float32s(p1.Vector).CosineDistanceWithMagnitude(p2.Vector, m1, m2))
}

// AngularDistance returns the angle between two vectors.
func AngularDistance(p1, p2 *Point) float64 {
	sim := 1 - CosineDistance(p1, p2)
	return math.Acos(max(-1, min(1, sim)))
}

// CosineSimilarity computes the cosine similarity between two vectors. It
// returns an error if the vectors have different lengths or if either vector
// has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: cosine similarity dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("vector: cosine similarity on empty vectors")
	}
	m1, m2 := search.Float32s(a).Magnitude(), search.Float32s(b).Magnitude()
	if m1 == 0 || m2 == 0 {
		return 0, fmt.Errorf("vector: cosine similarity with zero-magnitude vector")
	}
	return 1 - float64(search.Float32s(a).CosineDistanceWithMagnitude(b, m1, m2)), nil
}

// L2Distance computes the Euclidean distance between two vectors. It returns
// an error if the vectors have different lengths.
func L2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: L2 distance dimension mismatch: %d vs %d", len(a), len(b))
	}
	return float64(search.Float32s(a).EuclideanDistance(b)), nil
}
