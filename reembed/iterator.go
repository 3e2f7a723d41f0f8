// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"cmp"
	"context"
	"slices"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/graph"
)

const (
	// DefaultBatchSize is the default number of nodes to embed per call
	DefaultBatchSize = 100
)

// NodeIterator walks a snapshot of the network's nodes in batches.
type NodeIterator struct {
	network   *graph.Network
	batchSize int
	keep      func(core.Node) bool
}

// NewNodeIterator creates a node iterator. keep, when non-nil, selects the
// nodes to visit.
func NewNodeIterator(network *graph.Network, batchSize int, keep func(core.Node) bool) *NodeIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &NodeIterator{
		network:   network,
		batchSize: batchSize,
		keep:      keep,
	}
}

// Nodes returns the selected nodes ordered by id.
func (it *NodeIterator) Nodes() []core.Node {
	nodes := it.network.Nodes()
	if it.keep != nil {
		nodes = slices.DeleteFunc(nodes, func(n core.Node) bool { return !it.keep(n) })
	}
	slices.SortFunc(nodes, func(a, b core.Node) int { return cmp.Compare(a.ID, b.ID) })
	return nodes
}

// ForEach calls fn for each batch of selected nodes. Iteration stops on the
// first error from fn. Context cancellation is checked between batches.
func (it *NodeIterator) ForEach(ctx context.Context, fn func([]core.Node) error) error {
	return it.forEach(ctx, it.Nodes(), fn)
}

func (it *NodeIterator) forEach(ctx context.Context, nodes []core.Node, fn func([]core.Node) error) error {
	for batch := range slices.Chunk(nodes, it.batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return ctx.Err()
}
