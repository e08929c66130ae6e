package fleet

import "errors"

var (
	// ErrNoProvider is returned when no fleet backend is configured.
	ErrNoProvider = errors.New("fleet: no provider configured")

	// ErrScaleSetNotFound is returned when the scale set does not exist.
	ErrScaleSetNotFound = errors.New("fleet: scale set not found")

	// ErrNodeNotFound is returned when a node is not a member of the scale set.
	ErrNodeNotFound = errors.New("fleet: node not found")
)
