package search

import (
	"math"
	"time"

	"github.com/poiesic/knowmesh/core"
)

// temporalScore rates freshness: 1.0 falling linearly to 0.5 across the fresh
// window, then halving every half-life, floored.
func (c Config) temporalScore(modified, now time.Time) float64 {
	age := now.Sub(modified)
	if modified.IsZero() {
		return c.TemporalFloor
	}
	if age <= 0 {
		return 1
	}
	if age <= c.FreshWindow {
		return 1 - 0.5*float64(age)/float64(c.FreshWindow)
	}
	halvings := float64(age-c.FreshWindow) / float64(c.HalfLife)
	return math.Max(c.TemporalFloor, 0.5*math.Pow(0.5, halvings))
}

// scoringContext is the per-query input shared by every worker.
type scoringContext struct {
	query   []float32
	active  map[string]struct{} // active node ids
	recent  [][]float32         // recent query embeddings
	filters core.Filters
	minRel  float64
	now     time.Time
}

// contextScore averages two signals: the share of active files among the
// node's neighbours and the mean positive similarity to recent queries.
func contextScore(node core.Node, neighbors []string, sc *scoringContext) float64 {
	var overlap, recent float64
	if len(sc.active) > 0 {
		hits := 0
		for _, id := range neighbors {
			if _, ok := sc.active[id]; ok {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(sc.active))
	}
	if len(sc.recent) > 0 {
		var sum float64
		for _, q := range sc.recent {
			if sim, err := core.CosineSimilarity(node.Vector, q); err == nil {
				sum += math.Max(0, sim)
			}
		}
		recent = sum / float64(len(sc.recent))
	}
	return 0.5*overlap + 0.5*recent
}

func (c Config) combine(semantic, context, temporal float64) float64 {
	return c.SemanticWeight*semantic + c.ContextWeight*context + c.TemporalWeight*temporal
}

// lastModified prefers the source timestamp and falls back to index time.
func lastModified(n core.Node) time.Time {
	if !n.LastModified.IsZero() {
		return n.LastModified
	}
	return n.IndexedAt
}
