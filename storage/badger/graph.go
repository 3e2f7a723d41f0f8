package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
)

// GraphRepository implements storage.GraphRepository for BadgerDB.
//
// Every edge is stored under edge:source\x00target with an empty reverse
// index entry under edgein:target\x00source.
type GraphRepository struct {
	backend *Backend
}

var _ storage.GraphRepository = (*GraphRepository)(nil)

// NewGraphRepository creates a new GraphRepository.
func NewGraphRepository(backend *Backend) *GraphRepository {
	return &GraphRepository{backend: backend}
}

// PutNodes upserts nodes by ID.
func (r *GraphRepository) PutNodes(ctx context.Context, nodes ...core.Node) error {
	for i := range nodes {
		if err := core.ValidateNode(&nodes[i]); err != nil {
			return err
		}
	}
	return r.backend.Batch(ctx, func(wb *badger.WriteBatch) error {
		for _, node := range nodes {
			if err := wb.Set(makeNodeKey(node.ID), storage.MarshalNode(node)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNode retrieves a single node.
func (r *GraphRepository) GetNode(ctx context.Context, id string) (core.Node, error) {
	var node core.Node
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		node, err = get(tx, makeNodeKey(id), storage.UnmarshalNode)
		return err
	}, false)
	return node, err
}

// DeleteNode removes a node and every edge touching it in one transaction.
func (r *GraphRepository) DeleteNode(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeNodeKey(id)
		if _, err := tx.Get(key); err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		var doomed [][]byte
		collect := func(prefix []byte, edgeKey, indexKey func(other string) []byte) {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)
			defer iter.Close()
			for iter.Rewind(); iter.Valid(); iter.Next() {
				other := string(iter.Item().Key()[len(prefix):])
				doomed = append(doomed, edgeKey(other), indexKey(other))
			}
		}

		// Outgoing: edge:id\x00other + edgein:other\x00id
		collect(makePartialEdgeKey(id),
			func(other string) []byte { return makeEdgeKey(id, other) },
			func(other string) []byte { return makeEdgeInKey(other, id) })
		// Incoming: edge:other\x00id + edgein:id\x00other
		collect(makePartialEdgeInKey(id),
			func(other string) []byte { return makeEdgeKey(other, id) },
			func(other string) []byte { return makeEdgeInKey(id, other) })

		for _, k := range doomed {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// PutEdges upserts edges by (SourceID, TargetID).
func (r *GraphRepository) PutEdges(ctx context.Context, edges ...core.Edge) error {
	for _, e := range edges {
		if e.SourceID == "" || e.TargetID == "" {
			return fmt.Errorf("%w: edge endpoints must be set", core.ErrInvalidNode)
		}
	}
	return r.backend.Batch(ctx, func(wb *badger.WriteBatch) error {
		for _, e := range edges {
			if err := wb.Set(makeEdgeKey(e.SourceID, e.TargetID), storage.MarshalEdge(e)); err != nil {
				return err
			}
			if err := wb.Set(makeEdgeInKey(e.TargetID, e.SourceID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// IterateNodes streams every persisted node to fn.
func (r *GraphRepository) IterateNodes(ctx context.Context, fn func(core.Node) error) error {
	return r.backend.scan(ctx, []byte(nodePrefix), false, func(_, val []byte) error {
		node, err := storage.UnmarshalNode(val)
		if err != nil {
			return err
		}
		return fn(node)
	})
}

// IterateEdges streams every persisted edge to fn.
func (r *GraphRepository) IterateEdges(ctx context.Context, fn func(core.Edge) error) error {
	return r.backend.scan(ctx, []byte(edgePrefix), false, func(key, val []byte) error {
		source, target, err := splitPair(key)
		if err != nil {
			return fmt.Errorf("%w: %w", storage.ErrCorrupted, err)
		}
		edge, err := storage.UnmarshalEdge(val)
		if err != nil {
			return err
		}
		if edge.SourceID != source || edge.TargetID != target {
			return fmt.Errorf("%w: edge %s->%s stored under %s->%s", storage.ErrCorrupted, edge.SourceID, edge.TargetID, source, target)
		}
		return fn(edge)
	})
}

// CountNodes returns the number of persisted nodes.
func (r *GraphRepository) CountNodes(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.scan(ctx, []byte(nodePrefix), true, func(_, _ []byte) error {
		count++
		return nil
	})
	return count, err
}

// ClearGraph drops every node and edge.
func (r *GraphRepository) ClearGraph(ctx context.Context) error {
	return r.backend.DropPrefix([]byte(nodePrefix), []byte(edgePrefix), []byte(edgeInPrefix))
}
