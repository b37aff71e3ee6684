package index

import "github.com/viant/mtree/vector"

// Index defines a vector index with basic lifecycle methods.
// It enables building from (id, embedding) pairs, kNN queries, and
// binary serialization for persistence.
type Index interface {
	// Build replaces the content of the index with the given ids and vectors.
	// ids and vectors must have the same length and every vector the same
	// dimension.
	Build(ids []string, vectors [][]float32) error

	// Query runs a kNN search and returns up to k matches as parallel slices
	// of ids and scores ordered by decreasing score, where higher means more
	// similar. k <= 0 returns every match.
	Query(query []float32, k int) (ids []string, scores []float64, err error)

	// MarshalBinary serializes the index into a byte slice.
	MarshalBinary() ([]byte, error)

	// UnmarshalBinary reconstructs the index from a serialized byte slice.
	UnmarshalBinary(data []byte) error
}

// Mutable is an Index maintained incrementally.
type Mutable interface {
	Index

	// Add inserts or replaces the vector stored under id.
	Add(id string, vec []float32) error

	// Remove deletes id and reports whether it was present.
	Remove(id string) bool

	// Len returns the number of stored vectors.
	Len() int

	// Metric returns the distance function the scores derive from.
	Metric() vector.DistanceFunction
}
