package network

import "errors"

var (
	// ErrInvalidTopology covers unknown bus references, missing slack and unreachable nodes.
	ErrInvalidTopology = errors.New("network: invalid topology")

	// ErrUnsupported is returned for bus types and phases the solver does not model.
	ErrUnsupported = errors.New("network: unsupported configuration")

	// ErrNotValidated is returned when derived state is requested before Validate.
	ErrNotValidated = errors.New("network: not validated")
)
