package ingestion

import "errors"

var (
	// ErrNetworkRequired is returned when a synaptic network is not provided.
	ErrNetworkRequired = errors.New("synaptic network required")

	// ErrEmbeddingCacheRequired is returned when an embedding cache is not provided.
	ErrEmbeddingCacheRequired = errors.New("embedding cache required")

	// ErrCheckpointRepositoryRequired is returned by Sync when no checkpoint
	// repository is configured.
	ErrCheckpointRepositoryRequired = errors.New("checkpoint repository required")

	// ErrSourceRequired is returned by Sync when the source is nil.
	ErrSourceRequired = errors.New("content source required")
)
