package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/knowmesh/storage"
)

// MetaRepository implements storage.MetaRepository for BadgerDB.
type MetaRepository struct {
	backend *Backend
}

var _ storage.MetaRepository = (*MetaRepository)(nil)

// NewMetaRepository creates a new MetaRepository.
func NewMetaRepository(backend *Backend) *MetaRepository {
	return &MetaRepository{backend: backend}
}

// SchemaVersion returns the persisted schema version.
func (r *MetaRepository) SchemaVersion(ctx context.Context) (uint32, bool, error) {
	var version uint32
	found := true
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		version, err = get(tx, []byte(schemaVersionKey), storage.UnmarshalVersion)
		if errors.Is(err, storage.ErrNotFound) {
			found = false
			return nil
		}
		return err
	}, false)
	return version, found, err
}

// SetSchemaVersion records the schema version.
func (r *MetaRepository) SetSchemaVersion(ctx context.Context, version uint32) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(schemaVersionKey), storage.MarshalVersion(version)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
