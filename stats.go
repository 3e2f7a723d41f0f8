package knowmesh

import (
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
)

// Stats is a snapshot of the whole mesh.
type Stats struct {
	Network        graph.Stats
	Cache          embedcache.Stats
	Patterns       int
	Preloads       int
	Accuracy       float64
	AccuracyByKind map[core.InsightKind]float64
}

// Stats collects statistics from every service.
func (m *Mesh) Stats() Stats {
	return Stats{
		Network:        m.network.Stats(),
		Cache:          m.cache.Stats(),
		Patterns:       len(m.predict.Patterns()),
		Preloads:       m.predict.Preloads(),
		Accuracy:       m.predict.Accuracy(),
		AccuracyByKind: m.predict.AccuracyByKind(),
	}
}
