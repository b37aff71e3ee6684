package vector

import "github.com/viant/vec/search"

// Point is an identified vector. Magnitude caches the Euclidean norm used by
// cosine distances; zero means not computed.
type Point struct {
	ID        string
	Vector    []float32
	Magnitude float32
}

// NewPoint creates a point and caches its magnitude.
func NewPoint(id string, v []float32) *Point {
	return &Point{ID: id, Vector: v, Magnitude: search.Float32s(v).Magnitude()}
}

// Dim returns the vector dimension.
func (p *Point) Dim() int { return len(p.Vector) }

func (p *Point) magnitude() float32 {
	if p.Magnitude == 0 {
		return search.Float32s(p.Vector).Magnitude()
	}
	return p.Magnitude
}
