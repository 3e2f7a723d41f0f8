package graph

import (
	"cmp"
	"slices"
	"strings"
)

// Prediction is a neighbour ranked by effective edge weight.
type Prediction struct {
	NodeID string
	Weight float64
	State  string
}

// PredictNextNodes ranks the outgoing neighbours of nodeID whose effective
// weight reaches PredictThreshold. When tags are given only neighbours
// carrying one of them are returned.
func (n *Network) PredictNextNodes(nodeID string, tags ...string) ([]Prediction, error) {
	return n.predict(nodeID, n.cfg.PredictThreshold, n.cfg.MaxPredictions, tags)
}

// Related returns up to limit neighbours of nodeID whose edge is established
// or strong, strongest first.
func (n *Network) Related(nodeID string, limit int) []Prediction {
	out, err := n.predict(nodeID, n.cfg.EstablishedThreshold, limit, nil)
	if err != nil {
		return nil
	}
	return out
}

func (n *Network) predict(nodeID string, threshold float64, limit int, tags []string) ([]Prediction, error) {
	now := n.clock.Now()
	n.mu.RLock()
	if _, ok := n.nodes[nodeID]; !ok {
		n.mu.RUnlock()
		return nil, notFound(nodeID)
	}
	var out []Prediction
	for target, edge := range n.out[nodeID] {
		w := n.effective(edge, now)
		if w < threshold || w == 0 {
			continue
		}
		if node, ok := n.nodes[target]; !ok || !node.HasTag(tags...) {
			continue
		}
		out = append(out, Prediction{
			NodeID: target,
			Weight: w,
			State:  n.classify(w).String(),
		})
	}
	n.mu.RUnlock()

	sortPredictions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortPredictions(p []Prediction) {
	slices.SortFunc(p, func(a, b Prediction) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return strings.Compare(a.NodeID, b.NodeID)
	})
}

// Neighbors returns the ids connected to nodeID in either direction by an
// edge with non-zero effective weight.
func (n *Network) Neighbors(nodeID string) []string {
	now := n.clock.Now()
	n.mu.RLock()
	defer n.mu.RUnlock()

	seen := make(map[string]struct{})
	for target, edge := range n.out[nodeID] {
		if n.effective(edge, now) > 0 {
			seen[target] = struct{}{}
		}
	}
	for source := range n.in[nodeID] {
		if n.effective(n.out[source][nodeID], now) > 0 {
			seen[source] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
