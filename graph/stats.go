package graph

import "github.com/poiesic/knowmesh/core"

// Stats summarizes the network.
type Stats struct {
	Nodes   int
	Edges   int
	ByState map[string]int
}

func (n *Network) classify(w float64) core.EdgeState {
	return core.ClassifyWeight(w, n.cfg.EstablishedThreshold, n.cfg.StrongThreshold)
}

// Stats counts nodes and edges, classifying edges by effective weight.
func (n *Network) Stats() Stats {
	edges := n.Edges()
	s := Stats{
		Nodes:   n.NodeCount(),
		Edges:   len(edges),
		ByState: make(map[string]int, 4),
	}
	for _, e := range edges {
		s.ByState[n.classify(e.Weight).String()]++
	}
	return s
}
