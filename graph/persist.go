package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
)

// Load replaces the in-memory graph with the persisted one. Edges whose
// endpoints are missing are dropped. An unreadable snapshot is discarded and
// the network starts empty; that is logged, not returned.
func (n *Network) Load(ctx context.Context) error {
	if n.repo == nil {
		return nil
	}

	nodes := make(map[string]core.Node)
	var edges []core.Edge
	err := n.repo.IterateNodes(ctx, func(node core.Node) error {
		nodes[node.ID] = node
		return nil
	})
	if err == nil {
		err = n.repo.IterateEdges(ctx, func(edge core.Edge) error {
			edges = append(edges, edge)
			return nil
		})
	}
	if errors.Is(err, storage.ErrCorrupted) {
		n.logger.Warn("graph snapshot unreadable, rebuilding from scratch", "err", err)
		if err := n.repo.ClearGraph(ctx); err != nil {
			n.logger.Warn("failed to clear corrupted graph", "err", err)
		}
		n.reset(nil, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	n.reset(nodes, edges)
	n.logger.Info("graph loaded", "nodes", len(nodes), "edges", n.EdgeCount())
	return nil
}

func (n *Network) reset(nodes map[string]core.Node, edges []core.Edge) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if nodes == nil {
		nodes = make(map[string]core.Node)
	}
	n.nodes = nodes
	n.out = make(map[string]map[string]core.Edge)
	n.in = make(map[string]map[string]struct{})
	n.edges = 0
	n.dirtyNodes = make(map[string]struct{})
	n.dirtyEdges = make(map[pair]struct{})
	n.removed = make(map[string]struct{})

	for _, e := range edges {
		_, okSource := nodes[e.SourceID]
		_, okTarget := nodes[e.TargetID]
		if !okSource || !okTarget || e.SourceID == e.TargetID {
			continue
		}
		e.Weight = clamp(e.Weight)
		if n.out[e.SourceID] == nil {
			n.out[e.SourceID] = make(map[string]core.Edge)
		}
		if n.in[e.TargetID] == nil {
			n.in[e.TargetID] = make(map[string]struct{})
		}
		n.out[e.SourceID][e.TargetID] = e
		n.in[e.TargetID][e.SourceID] = struct{}{}
		n.edges++
	}
	n.metrics.Nodes.Set(float64(len(n.nodes)))
	n.metrics.Edges.Set(float64(n.edges))
}

// Flush persists nodes and edges changed since the last flush and deletes
// removed nodes. On failure the pending work is kept for the next attempt.
func (n *Network) Flush(ctx context.Context) error {
	if n.repo == nil {
		return nil
	}
	n.flushMu.Lock()
	defer n.flushMu.Unlock()

	n.mu.Lock()
	removed := make([]string, 0, len(n.removed))
	for id := range n.removed {
		removed = append(removed, id)
	}
	nodes := make([]core.Node, 0, len(n.dirtyNodes))
	for id := range n.dirtyNodes {
		if node, ok := n.nodes[id]; ok {
			nodes = append(nodes, node.Clone())
		}
	}
	edges := make([]core.Edge, 0, len(n.dirtyEdges))
	for p := range n.dirtyEdges {
		if edge, ok := n.out[p.source][p.target]; ok {
			edges = append(edges, edge)
		}
	}
	n.removed = make(map[string]struct{})
	n.dirtyNodes = make(map[string]struct{})
	n.dirtyEdges = make(map[pair]struct{})
	n.mu.Unlock()

	if len(removed) == 0 && len(nodes) == 0 && len(edges) == 0 {
		return nil
	}

	err := n.flush(ctx, removed, nodes, edges)
	if err != nil {
		n.requeue(removed, nodes, edges)
		n.logger.Warn("failed to flush graph", "nodes", len(nodes), "edges", len(edges), "removed", len(removed), "err", err)
		return err
	}
	n.logger.Debug("graph flushed", "nodes", len(nodes), "edges", len(edges), "removed", len(removed))
	return nil
}

func (n *Network) flush(ctx context.Context, removed []string, nodes []core.Node, edges []core.Edge) error {
	for _, id := range removed {
		if err := n.repo.DeleteNode(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	if err := n.repo.PutNodes(ctx, nodes...); err != nil {
		return err
	}
	return n.repo.PutEdges(ctx, edges...)
}

func (n *Network) requeue(removed []string, nodes []core.Node, edges []core.Edge) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range removed {
		n.removed[id] = struct{}{}
	}
	for _, node := range nodes {
		if _, ok := n.nodes[node.ID]; ok {
			n.dirtyNodes[node.ID] = struct{}{}
		}
	}
	for _, e := range edges {
		if _, ok := n.out[e.SourceID][e.TargetID]; ok {
			n.dirtyEdges[pair{e.SourceID, e.TargetID}] = struct{}{}
		}
	}
}

// Close flushes pending changes.
func (n *Network) Close(ctx context.Context) error {
	return n.Flush(ctx)
}
