package index

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned by Build when ids and vectors differ in
	// length.
	ErrLengthMismatch = errors.New("index: ids and vectors length mismatch")

	// ErrCorrupt is returned when serialized index data cannot be decoded.
	ErrCorrupt = errors.New("index: corrupt data")
)

// DimensionError reports a vector whose dimension differs from the index.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("index: vector dimension %d, want %d", e.Got, e.Want)
}

// CheckDimensions returns the common dimension of vectors.
func CheckDimensions(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dim {
			return 0, &DimensionError{Want: dim, Got: len(v)}
		}
	}
	return dim, nil
}
