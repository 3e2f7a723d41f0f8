package fs

import "errors"

var (
	// ErrNotDirectory is returned when the source root is not a directory.
	ErrNotDirectory = errors.New("source root is not a directory")

	// ErrHandlerRequired is returned by Watch without a handler.
	ErrHandlerRequired = errors.New("watch handler required")
)
