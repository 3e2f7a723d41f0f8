package graph

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/storage"
)

const stripeCount = 64

type pair struct {
	source, target string
}

// Network is the synaptic network. Nodes and edges are held as values and
// every accessor returns copies.
type Network struct {
	cfg     Config
	repo    storage.GraphRepository
	clock   clockwork.Clock
	metrics *metrics.Collector
	logger  *slog.Logger

	// stripes serialize mutations per node id. Lock order: stripe, then mu.
	stripes [stripeCount]sync.Mutex

	mu    sync.RWMutex
	nodes map[string]core.Node
	out   map[string]map[string]core.Edge // source -> target -> edge
	in    map[string]map[string]struct{}  // target -> sources
	edges int

	dirtyNodes map[string]struct{}
	dirtyEdges map[pair]struct{}
	removed    map[string]struct{}
	flushMu    sync.Mutex
}

// New creates an empty network.
func New(opts ...Option) (*Network, error) {
	n := &Network{
		cfg:        DefaultConfig(),
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.NewCollector(""),
		logger:     slog.Default().With("component", "synaptic-network"),
		nodes:      make(map[string]core.Node),
		out:        make(map[string]map[string]core.Edge),
		in:         make(map[string]map[string]struct{}),
		dirtyNodes: make(map[string]struct{}),
		dirtyEdges: make(map[pair]struct{}),
		removed:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Config returns the network tunables.
func (n *Network) Config() Config {
	return n.cfg
}

func (n *Network) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &n.stripes[h.Sum32()%stripeCount]
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

// UpsertNode inserts or replaces a node. Existing edges are kept.
func (n *Network) UpsertNode(ctx context.Context, node core.Node) error {
	if err := core.ValidateNode(&node); err != nil {
		return err
	}
	node = node.Clone()
	now := n.clock.Now()
	node.UpdatedAt = now
	if node.IndexedAt.IsZero() {
		node.IndexedAt = now
	}

	lock := n.stripe(node.ID)
	lock.Lock()
	defer lock.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[node.ID] = node
	n.dirtyNodes[node.ID] = struct{}{}
	n.metrics.Nodes.Set(float64(len(n.nodes)))
	return nil
}

// UpdateVector replaces a node's embedding. The node's vector is never
// observed half-written.
func (n *Network) UpdateVector(ctx context.Context, id string, vector []float32, model string, degraded bool) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidNode, core.ErrEmptyVector)
	}
	lock := n.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	node, ok := n.nodes[id]
	if !ok {
		return notFound(id)
	}
	node.Vector = slices.Clone(vector)
	node.Model = model
	node.Degraded = degraded
	node.UpdatedAt = n.clock.Now()
	n.nodes[id] = node
	n.dirtyNodes[id] = struct{}{}
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (n *Network) RemoveNode(ctx context.Context, id string) error {
	lock := n.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[id]; !ok {
		return notFound(id)
	}
	delete(n.nodes, id)
	delete(n.dirtyNodes, id)
	n.removed[id] = struct{}{}

	for target := range n.out[id] {
		delete(n.in[target], id)
		delete(n.dirtyEdges, pair{id, target})
		n.edges--
	}
	delete(n.out, id)
	for source := range n.in[id] {
		delete(n.out[source], id)
		delete(n.dirtyEdges, pair{source, id})
		n.edges--
	}
	delete(n.in, id)

	n.metrics.Nodes.Set(float64(len(n.nodes)))
	n.metrics.Edges.Set(float64(n.edges))
	return nil
}

// Node returns a copy of the node.
func (n *Network) Node(id string) (core.Node, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok {
		return core.Node{}, notFound(id)
	}
	return node.Clone(), nil
}

// HasNode reports whether the node exists.
func (n *Network) HasNode(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.nodes[id]
	return ok
}

// Nodes returns copies of every node ordered by id.
func (n *Network) Nodes() []core.Node {
	n.mu.RLock()
	out := make([]core.Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		out = append(out, node.Clone())
	}
	n.mu.RUnlock()

	slices.SortFunc(out, func(a, b core.Node) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// NodeCount returns the number of nodes.
func (n *Network) NodeCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// EdgeCount returns the number of edges, including fully decayed ones.
func (n *Network) EdgeCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.edges
}
