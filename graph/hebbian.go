package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/poiesic/knowmesh/core"
)

const day = 24 * time.Hour

// Decay returns w after elapsed idle time at factor per day. Decaying for t1
// and then t2 equals decaying once for t1+t2.
func Decay(w, factor float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || w == 0 {
		return w
	}
	return w * math.Pow(factor, float64(elapsed)/float64(day))
}

// Hebbian returns the weight after one co-activation of the given quality.
func (c Config) Hebbian(w, quality float64) float64 {
	delta := c.LearningRate * quality * (1 - w)
	if w < c.SurpriseThreshold {
		delta *= c.SurpriseBoost
	}
	return clamp(w + delta)
}

func clamp(w float64) float64 {
	return math.Max(0, math.Min(1, w))
}

func (n *Network) effective(e core.Edge, now time.Time) float64 {
	return Decay(e.Weight, n.cfg.DecayPerDay, now.Sub(e.LastReinforced))
}

// ReinforcePath strengthens the edge between each consecutive pair of nodes
// in path. Every node must exist. Repeated ids are skipped.
func (n *Network) ReinforcePath(ctx context.Context, path []string, quality float64) error {
	if math.IsNaN(quality) || quality < 0 || quality > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidQuality, quality)
	}
	if err := n.requireNodes(path...); err != nil {
		return err
	}
	if quality == 0 {
		return nil
	}
	for i := 1; i < len(path); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		source, target := path[i-1], path[i]
		if source == target {
			continue
		}
		err := n.applyEdge(source, target, func(w float64) float64 {
			return n.cfg.Hebbian(w, quality)
		}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

// AdjustWeight adds delta to the effective weight of source->target, clamped
// to [0,1]. A missing edge starts at zero; a non-positive delta leaves it
// missing.
func (n *Network) AdjustWeight(ctx context.Context, source, target string, delta float64) error {
	if source == target {
		return nil
	}
	if err := n.requireNodes(source, target); err != nil {
		return err
	}
	return n.applyEdge(source, target, func(w float64) float64 {
		return clamp(w + delta)
	}, delta > 0)
}

func (n *Network) requireNodes(ids ...string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, id := range ids {
		if _, ok := n.nodes[id]; !ok {
			return notFound(id)
		}
	}
	return nil
}

// applyEdge rewrites one edge under its source's stripe. The new weight is
// computed from the decayed weight and stamped with the current time. Only a
// reinforcement creates a missing edge.
func (n *Network) applyEdge(source, target string, update func(float64) float64, reinforcement bool) error {
	lock := n.stripe(source)
	lock.Lock()
	defer lock.Unlock()

	now := n.clock.Now()
	n.mu.RLock()
	edge, exists := n.out[source][target]
	n.mu.RUnlock()

	if !exists {
		if !reinforcement {
			return nil
		}
		edge = core.Edge{SourceID: source, TargetID: target}
	}
	edge.Weight = update(n.effective(edge, now))
	edge.LastReinforced = now
	if reinforcement {
		edge.Reinforcements++
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	// Either node may have been removed while unlocked.
	if _, ok := n.nodes[source]; !ok {
		return notFound(source)
	}
	if _, ok := n.nodes[target]; !ok {
		return notFound(target)
	}
	targets, ok := n.out[source]
	if !ok {
		targets = make(map[string]core.Edge)
		n.out[source] = targets
	}
	if _, ok := targets[target]; !ok {
		n.edges++
	}
	targets[target] = edge
	sources, ok := n.in[target]
	if !ok {
		sources = make(map[string]struct{})
		n.in[target] = sources
	}
	sources[source] = struct{}{}
	n.dirtyEdges[pair{source, target}] = struct{}{}

	if reinforcement {
		n.metrics.Reinforcements.Inc()
	}
	n.metrics.Edges.Set(float64(n.edges))
	return nil
}

// Edge returns source->target with its weight decayed to now.
func (n *Network) Edge(source, target string) (core.Edge, bool) {
	now := n.clock.Now()
	n.mu.RLock()
	defer n.mu.RUnlock()
	edge, ok := n.out[source][target]
	if !ok {
		return core.Edge{}, false
	}
	edge.Weight = n.effective(edge, now)
	return edge, true
}

// Weight returns the effective weight of source->target, zero if absent.
func (n *Network) Weight(source, target string) float64 {
	edge, _ := n.Edge(source, target)
	return edge.Weight
}

// EdgeState classifies source->target by its effective weight.
func (n *Network) EdgeState(source, target string) core.EdgeState {
	return n.classify(n.Weight(source, target))
}

// Edges returns every edge with its weight decayed to now.
func (n *Network) Edges() []core.Edge {
	now := n.clock.Now()
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]core.Edge, 0, n.edges)
	for _, targets := range n.out {
		for _, edge := range targets {
			edge.Weight = n.effective(edge, now)
			out = append(out, edge)
		}
	}
	return out
}
