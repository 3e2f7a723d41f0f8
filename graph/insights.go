package graph

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"

	"github.com/poiesic/knowmesh/core"
)

// GenerateNetworkInsights reports hub nodes, islands and merge candidates,
// ranked by score.
func (n *Network) GenerateNetworkInsights(ctx context.Context) ([]core.Insight, error) {
	now := n.clock.Now()

	type hub struct {
		id      string
		degree  float64
		targets int
	}
	var (
		hubs    []hub
		islands []string
		merges  []core.MergeCandidate
	)

	n.mu.RLock()
	for id := range n.nodes {
		degree, targets := 0.0, 0
		connected := false
		for target, edge := range n.out[id] {
			w := n.effective(edge, now)
			degree += w
			if w > 0 {
				targets++
			}
			if w >= n.cfg.EstablishedThreshold {
				connected = true
			}
			if id < target && w > n.cfg.StrongThreshold {
				if back, ok := n.out[target][id]; ok {
					if bw := n.effective(back, now); bw > n.cfg.StrongThreshold {
						merges = append(merges, core.MergeCandidate{NodeA: id, NodeB: target, Weight: math.Min(w, bw)})
					}
				}
			}
		}
		if degree >= n.cfg.HubMinDegree {
			hubs = append(hubs, hub{id: id, degree: degree, targets: targets})
		}
		if !connected {
			for source := range n.in[id] {
				if n.effective(n.out[source][id], now) >= n.cfg.EstablishedThreshold {
					connected = true
					break
				}
			}
		}
		if !connected {
			islands = append(islands, id)
		}
	}
	nodeCount := len(n.nodes)
	n.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var insights []core.Insight
	add := func(detail core.InsightDetail, confidence, value float64) error {
		insight, err := core.NewInsight(detail, confidence, value, now)
		if err != nil {
			return err
		}
		insights = append(insights, insight)
		return nil
	}

	slices.SortFunc(hubs, func(a, b hub) int {
		if c := cmp.Compare(b.degree, a.degree); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	for _, h := range hubs[:min(len(hubs), n.cfg.MaxHubs)] {
		confidence := math.Min(1, h.degree/(2*n.cfg.HubMinDegree))
		if err := add(core.Hub{NodeID: h.id, WeightedDegree: h.degree, Connections: h.targets}, confidence, 0.6); err != nil {
			return nil, err
		}
	}

	if nodeCount >= 2 {
		slices.Sort(islands)
		for _, id := range islands[:min(len(islands), n.cfg.MaxIslands)] {
			if err := add(core.Island{NodeID: id}, 0.7, 0.4); err != nil {
				return nil, err
			}
		}
	}

	slices.SortFunc(merges, func(a, b core.MergeCandidate) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return strings.Compare(a.NodeA+a.NodeB, b.NodeA+b.NodeB)
	})
	for _, m := range merges {
		if err := add(m, m.Weight, 0.5); err != nil {
			return nil, err
		}
	}

	slices.SortStableFunc(insights, func(a, b core.Insight) int {
		return cmp.Compare(b.Score(), a.Score())
	})
	return insights, nil
}
