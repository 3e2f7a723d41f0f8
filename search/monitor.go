package search

import "github.com/poiesic/knowmesh/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterQueryEnhancement(enhanced string, intent Intent)
	AfterQueryEmbedding(degraded bool)
	AfterScoring(candidates, scored, skipped int, partial bool)
	CacheHit(enhanced string)
	Finish(results []core.SearchResult, insights []core.Insight)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                 {}
func (n *noopMonitor) AfterQueryEnhancement(_ string, _ Intent)       {}
func (n *noopMonitor) AfterQueryEmbedding(_ bool)                     {}
func (n *noopMonitor) AfterScoring(_, _, _ int, _ bool)               {}
func (n *noopMonitor) CacheHit(_ string)                              {}
func (n *noopMonitor) Finish(_ []core.SearchResult, _ []core.Insight) {}
