package mtree

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
)

const (
	// DefaultMinCapacity is the default lower fan-out bound of non-root spheres.
	DefaultMinCapacity = 6
	// DefaultMaxCapacity is the default upper fan-out bound of every sphere.
	DefaultMaxCapacity = 15

	// radiusTolerance absorbs floating point error accumulated in cached radii.
	radiusTolerance = 1e-5
)

// SplitMode selects how an overflowing sphere is divided in two.
type SplitMode int

const (
	// LinearHyperplane promotes the child farthest from the center and the
	// child farthest from that one, then assigns by nearest seed.
	LinearHyperplane SplitMode = iota
	// LinearBalanced uses linear promotion with alternating assignment.
	LinearBalanced
	// Hyperplane promotes the farthest pair of children, then assigns by
	// nearest seed.
	Hyperplane
	// Balanced uses quadratic promotion with alternating assignment.
	Balanced
)

var splitModeNames = [...]string{
	LinearHyperplane: "linear_hyperplane",
	LinearBalanced:   "linear_balanced",
	Hyperplane:       "hyperplane",
	Balanced:         "balanced",
}

// SplitModes lists every supported split mode.
func SplitModes() []SplitMode {
	return []SplitMode{LinearHyperplane, LinearBalanced, Hyperplane, Balanced}
}

func (m SplitMode) valid() bool { return m >= LinearHyperplane && m <= Balanced }

func (m SplitMode) linear() bool { return m == LinearHyperplane || m == LinearBalanced }

func (m SplitMode) String() string {
	if !m.valid() {
		return fmt.Sprintf("SplitMode(%d)", int(m))
	}
	return splitModeNames[m]
}

// ParseSplitMode resolves a split mode name. Dashes and case are ignored.
func ParseSplitMode(name string) (SplitMode, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range splitModeNames {
		if n == key {
			return SplitMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSplitMode, name)
}

// MarshalText implements encoding.TextMarshaler.
func (m SplitMode) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSplitMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *SplitMode) UnmarshalText(text []byte) error {
	mode, err := ParseSplitMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Option configures a Tree.
type Option func(*options)

type options struct {
	minCapacity int
	maxCapacity int
	splitMode   SplitMode
	logger      *slog.Logger
	rand        *rand.Rand
	equal       any
}

// WithCapacity sets the fan-out bounds. Every non-root sphere keeps between
// min and max children.
func WithCapacity(min, max int) Option {
	return func(o *options) {
		o.minCapacity = min
		o.maxCapacity = max
	}
}

// WithSplitMode sets the split strategy.
func WithSplitMode(mode SplitMode) Option {
	return func(o *options) { o.splitMode = mode }
}

// WithLogger sets the logger used for structural events. Nothing is logged
// by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEqual sets the equality used by Remove to match a stored element. The
// element type of eq must match the tree's. Remove still locates candidates
// by distance to its argument, so an equality on keys only needs an argument
// at the stored position; use Tree.RemoveFunc otherwise.
func WithEqual[E any](eq EqualFunc[E]) Option {
	return func(o *options) { o.equal = eq }
}

// WithRand sets the source of the default random eviction score.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

// CheckCapacity reports whether min and max describe a usable fan-out: a
// sphere of max+1 children must split into two halves of at least min.
func CheckCapacity(min, max int) error {
	switch {
	case min < 1:
		return fmt.Errorf("%w: min capacity %d < 1", ErrInvalidCapacity, min)
	case max < 2:
		return fmt.Errorf("%w: max capacity %d < 2", ErrInvalidCapacity, max)
	case 2*min > max+1:
		return fmt.Errorf("%w: min capacity %d too large for max capacity %d", ErrInvalidCapacity, min, max)
	}
	return nil
}
