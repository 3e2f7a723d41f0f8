package knowmesh

import "errors"

var (
	// ErrPathRequired indicates Open was given neither a path nor InMemory.
	ErrPathRequired = errors.New("database path is required")

	// ErrClosed indicates the mesh has been closed.
	ErrClosed = errors.New("mesh is closed")
)
