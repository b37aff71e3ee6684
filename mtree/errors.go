package mtree

import "errors"

var (
	// ErrInvalidCapacity is returned when the fan-out bounds cannot produce a
	// well formed tree.
	ErrInvalidCapacity = errors.New("mtree: invalid capacity")

	// ErrNilDistance is returned when no distance function is supplied.
	ErrNilDistance = errors.New("mtree: distance function is nil")

	// ErrUnknownSplitMode is returned for an unsupported split strategy.
	ErrUnknownSplitMode = errors.New("mtree: unknown split mode")

	// ErrConcurrentModification is reported by an iterator whose tree was
	// mutated through any path other than the iterator itself.
	ErrConcurrentModification = errors.New("mtree: tree modified during iteration")

	// ErrInvariant wraps every violation reported by Validate.
	ErrInvariant = errors.New("mtree: invariant violated")
)
