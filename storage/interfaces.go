package storage

import (
	"context"

	"github.com/poiesic/knowmesh/core"
)

// EmbeddingCacheRepository persists memoized embeddings.
type EmbeddingCacheRepository interface {
	// PutEntries upserts cache entries by key.
	PutEntries(ctx context.Context, entries ...core.CacheEntry) error

	// DeleteEntries removes entries by key. Missing keys are ignored.
	DeleteEntries(ctx context.Context, keys ...string) error

	// LoadEntries calls fn for every persisted entry. Returns an error
	// wrapping ErrCorrupted if any entry cannot be decoded.
	LoadEntries(ctx context.Context, fn func(core.CacheEntry) error) error

	// ClearEntries drops every persisted entry.
	ClearEntries(ctx context.Context) error
}

// GraphRepository persists the nodes and edges of the synaptic network.
type GraphRepository interface {
	// PutNodes upserts nodes by ID.
	PutNodes(ctx context.Context, nodes ...core.Node) error

	// GetNode retrieves a single node. Returns ErrNotFound if absent.
	GetNode(ctx context.Context, id string) (core.Node, error)

	// DeleteNode removes a node together with all of its incoming and
	// outgoing edges. Returns ErrNotFound if absent.
	DeleteNode(ctx context.Context, id string) error

	// PutEdges upserts edges by (SourceID, TargetID).
	PutEdges(ctx context.Context, edges ...core.Edge) error

	// IterateNodes calls fn for every persisted node in ID order.
	IterateNodes(ctx context.Context, fn func(core.Node) error) error

	// IterateEdges calls fn for every persisted edge.
	IterateEdges(ctx context.Context, fn func(core.Edge) error) error

	// CountNodes returns the number of persisted nodes.
	CountNodes(ctx context.Context) (int, error)

	// ClearGraph drops every node and edge.
	ClearGraph(ctx context.Context) error
}

// PatternRepository persists temporal work patterns.
type PatternRepository interface {
	PutPatterns(ctx context.Context, patterns ...core.TemporalPattern) error
	LoadPatterns(ctx context.Context) ([]core.TemporalPattern, error)
	ClearPatterns(ctx context.Context) error
}

// CheckpointRepository persists content-source sync progress.
type CheckpointRepository interface {
	// SaveCheckpoint persists the checkpoint for its source.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for a source.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, source string) (*core.Checkpoint, error)
}

// MetaRepository persists store-wide metadata.
type MetaRepository interface {
	// SchemaVersion returns the persisted schema version and whether one
	// has been written.
	SchemaVersion(ctx context.Context) (uint32, bool, error)

	// SetSchemaVersion records the schema version.
	SetSchemaVersion(ctx context.Context, version uint32) error
}

// Repositories bundles every repository backed by one store.
type Repositories struct {
	Cache       EmbeddingCacheRepository
	Graph       GraphRepository
	Patterns    PatternRepository
	Checkpoints CheckpointRepository
	Meta        MetaRepository
}
