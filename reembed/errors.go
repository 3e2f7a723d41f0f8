package reembed

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrNetworkRequired is returned when a synaptic network is not provided.
	ErrNetworkRequired = errors.New("synaptic network required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmptyContent is returned for a node with nothing to embed.
	ErrEmptyContent = errors.New("node content is empty")

	// ErrInvalidConfig is returned for out-of-range settings.
	ErrInvalidConfig = errors.New("invalid reembed configuration")
)
