package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
)

// EmbeddingCacheRepository implements storage.EmbeddingCacheRepository for BadgerDB.
type EmbeddingCacheRepository struct {
	backend *Backend
}

var _ storage.EmbeddingCacheRepository = (*EmbeddingCacheRepository)(nil)

// NewEmbeddingCacheRepository creates a new EmbeddingCacheRepository.
func NewEmbeddingCacheRepository(backend *Backend) *EmbeddingCacheRepository {
	return &EmbeddingCacheRepository{backend: backend}
}

// PutEntries upserts cache entries by key.
func (r *EmbeddingCacheRepository) PutEntries(ctx context.Context, entries ...core.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.backend.Batch(ctx, func(wb *badger.WriteBatch) error {
		for _, entry := range entries {
			if err := wb.Set(makeEmbeddingKey(entry.Key), storage.MarshalCacheEntry(entry)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEntries removes entries by key.
func (r *EmbeddingCacheRepository) DeleteEntries(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.backend.Batch(ctx, func(wb *badger.WriteBatch) error {
		for _, key := range keys {
			if err := wb.Delete(makeEmbeddingKey(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadEntries streams every persisted entry to fn.
func (r *EmbeddingCacheRepository) LoadEntries(ctx context.Context, fn func(core.CacheEntry) error) error {
	return r.backend.scan(ctx, []byte(embeddingPrefix), false, func(_, val []byte) error {
		entry, err := storage.UnmarshalCacheEntry(val)
		if err != nil {
			return err
		}
		return fn(entry)
	})
}

// ClearEntries drops every persisted entry.
func (r *EmbeddingCacheRepository) ClearEntries(ctx context.Context) error {
	return r.backend.DropPrefix([]byte(embeddingPrefix))
}
