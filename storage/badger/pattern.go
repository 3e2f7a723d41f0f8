package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
)

// PatternRepository implements storage.PatternRepository for BadgerDB.
type PatternRepository struct {
	backend *Backend
}

var _ storage.PatternRepository = (*PatternRepository)(nil)

// NewPatternRepository creates a new PatternRepository.
func NewPatternRepository(backend *Backend) *PatternRepository {
	return &PatternRepository{backend: backend}
}

// PutPatterns upserts patterns by (slot, weekday).
func (r *PatternRepository) PutPatterns(ctx context.Context, patterns ...core.TemporalPattern) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, p := range patterns {
			if err := tx.Set(makePatternKey(p.Key().String()), storage.MarshalPattern(p)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// LoadPatterns returns every persisted pattern.
func (r *PatternRepository) LoadPatterns(ctx context.Context) ([]core.TemporalPattern, error) {
	var patterns []core.TemporalPattern
	err := r.backend.scan(ctx, []byte(patternPrefix), false, func(_, val []byte) error {
		p, err := storage.UnmarshalPattern(val)
		if err != nil {
			return err
		}
		patterns = append(patterns, p)
		return nil
	})
	return patterns, err
}

// ClearPatterns drops every persisted pattern.
func (r *PatternRepository) ClearPatterns(ctx context.Context) error {
	return r.backend.DropPrefix([]byte(patternPrefix))
}
