package api

import (
	"time"

	"github.com/poiesic/knowmesh"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/search"
)

type filtersDTO struct {
	Tags           []string  `json:"tags,omitempty"`
	PathPrefix     string    `json:"path_prefix,omitempty"`
	ModifiedAfter  time.Time `json:"modified_after,omitzero"`
	ModifiedBefore time.Time `json:"modified_before,omitzero"`
	MinRelevance   float64   `json:"min_relevance,omitempty"`
	MaxResults     int       `json:"max_results,omitempty"`
}

func (f filtersDTO) filters() core.Filters {
	return core.Filters{
		Tags:           f.Tags,
		PathPrefix:     f.PathPrefix,
		ModifiedAfter:  f.ModifiedAfter,
		ModifiedBefore: f.ModifiedBefore,
		MinRelevance:   f.MinRelevance,
		MaxResults:     f.MaxResults,
	}
}

type searchContextDTO struct {
	ActiveFiles   []string `json:"active_files,omitempty"`
	RecentQueries []string `json:"recent_queries,omitempty"`
	Intent        string   `json:"intent,omitempty"`
}

type searchRequest struct {
	Query   string           `json:"query"`
	Filters filtersDTO       `json:"filters"`
	Context searchContextDTO `json:"context"`
}

type highlightDTO struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type relatedDTO struct {
	NodeID string  `json:"node_id"`
	Weight float64 `json:"weight"`
}

type resultDTO struct {
	NodeID        string         `json:"node_id"`
	Path          string         `json:"path,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Snippet       string         `json:"snippet"`
	Highlights    []highlightDTO `json:"highlights,omitempty"`
	SemanticScore float64        `json:"semantic_score"`
	ContextScore  float64        `json:"context_score"`
	TemporalScore float64        `json:"temporal_score"`
	CombinedScore float64        `json:"combined_score"`
	Related       []relatedDTO   `json:"related,omitempty"`
}

func newResultDTO(r core.SearchResult) resultDTO {
	out := resultDTO{
		NodeID:        r.NodeID,
		Path:          r.Path,
		Tags:          r.Tags,
		Snippet:       r.Snippet,
		SemanticScore: r.SemanticScore,
		ContextScore:  r.ContextScore,
		TemporalScore: r.TemporalScore,
		CombinedScore: r.CombinedScore,
	}
	for _, h := range r.Highlights {
		out.Highlights = append(out.Highlights, highlightDTO{Start: h.Start, End: h.End})
	}
	for _, rel := range r.Related {
		out.Related = append(out.Related, relatedDTO{NodeID: rel.NodeID, Weight: rel.Weight})
	}
	return out
}

type searchResponse struct {
	Query         string       `json:"query"`
	EnhancedQuery string       `json:"enhanced_query"`
	Intent        string       `json:"intent,omitempty"`
	Results       []resultDTO  `json:"results"`
	Insights      []insightDTO `json:"insights"`
	Degraded      bool         `json:"degraded"`
	Partial       bool         `json:"partial"`
	Cached        bool         `json:"cached"`
}

func newSearchResponse(resp search.Response) searchResponse {
	out := searchResponse{
		Query:         resp.Query,
		EnhancedQuery: resp.EnhancedQuery,
		Intent:        string(resp.Intent),
		Results:       make([]resultDTO, 0, len(resp.Results)),
		Insights:      newInsightDTOs(resp.Insights),
		Degraded:      resp.Degraded,
		Partial:       resp.Partial,
		Cached:        resp.Cached,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, newResultDTO(r))
	}
	return out
}

type insightDTO struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Summary        string    `json:"summary"`
	Nodes          []string  `json:"nodes,omitempty"`
	Confidence     float64   `json:"confidence"`
	EstimatedValue float64   `json:"estimated_value"`
	Score          float64   `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
	Detail         any       `json:"detail"`
}

func newInsightDTOs(insights []core.Insight) []insightDTO {
	out := make([]insightDTO, 0, len(insights))
	for _, in := range insights {
		out = append(out, insightDTO{
			ID:             in.ID,
			Kind:           string(in.Kind()),
			Summary:        in.Detail.Summary(),
			Nodes:          in.Detail.Nodes(),
			Confidence:     in.Confidence,
			EstimatedValue: in.EstimatedValue,
			Score:          in.Score(),
			CreatedAt:      in.CreatedAt,
			Detail:         in.Detail,
		})
	}
	return out
}

type feedbackRequest struct {
	Query   string `json:"query"`
	NodeID  string `json:"node_id"`
	Outcome string `json:"outcome"`
}

type workContextDTO struct {
	Task        string    `json:"task"`
	Project     string    `json:"project,omitempty"`
	ActiveFiles []string  `json:"active_files"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

type manifestDTO struct {
	SourceID          string    `json:"source_id"`
	NodeIDs           []string  `json:"node_ids"`
	Priority          float64   `json:"priority"`
	EstimatedLoadTime string    `json:"estimated_load_time"`
	CacheKey          string    `json:"cache_key"`
	CreatedAt         time.Time `json:"created_at"`
	ValidUntil        time.Time `json:"valid_until"`
}

func newManifestDTO(m core.PreloadManifest) manifestDTO {
	ids := m.NodeIDs
	if ids == nil {
		ids = []string{}
	}
	return manifestDTO{
		SourceID:          m.SourceID,
		NodeIDs:           ids,
		Priority:          m.Priority,
		EstimatedLoadTime: m.EstimatedLoadTime.String(),
		CacheKey:          m.CacheKey,
		CreatedAt:         m.CreatedAt,
		ValidUntil:        m.ValidUntil,
	}
}

type predictionDTO struct {
	NodeID string  `json:"node_id"`
	Weight float64 `json:"weight"`
	State  string  `json:"state"`
}

func newPredictionDTOs(preds []graph.Prediction) []predictionDTO {
	out := make([]predictionDTO, 0, len(preds))
	for _, p := range preds {
		out = append(out, predictionDTO{NodeID: p.NodeID, Weight: p.Weight, State: p.State})
	}
	return out
}

type documentDTO struct {
	ID           string    `json:"id,omitempty"`
	Path         string    `json:"path,omitempty"`
	Content      string    `json:"content"`
	LastModified time.Time `json:"last_modified,omitzero"`
	Tags         []string  `json:"tags,omitempty"`
}

type indexRequest struct {
	Documents []documentDTO `json:"documents"`
}

type nodeDTO struct {
	ID           string    `json:"id"`
	Path         string    `json:"path,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Model        string    `json:"model"`
	Degraded     bool      `json:"degraded"`
	Dimensions   int       `json:"dimensions"`
	LastModified time.Time `json:"last_modified,omitzero"`
	IndexedAt    time.Time `json:"indexed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newNodeDTO(n core.Node) nodeDTO {
	return nodeDTO{
		ID:           n.ID,
		Path:         n.Path,
		Tags:         n.Tags,
		Model:        n.Model,
		Degraded:     n.Degraded,
		Dimensions:   len(n.Vector),
		LastModified: n.LastModified,
		IndexedAt:    n.IndexedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

type statsDTO struct {
	Nodes          int                `json:"nodes"`
	Edges          int                `json:"edges"`
	EdgesByState   map[string]int     `json:"edges_by_state"`
	CacheEntries   int                `json:"cache_entries"`
	CacheHitRate   float64            `json:"cache_hit_rate"`
	CacheFallbacks uint64             `json:"cache_fallbacks"`
	ProviderCalls  uint64             `json:"provider_calls"`
	Tokens         uint64             `json:"tokens"`
	Cost           float64            `json:"cost"`
	Patterns       int                `json:"patterns"`
	Preloads       int                `json:"preloads"`
	Accuracy       float64            `json:"accuracy"`
	AccuracyByKind map[string]float64 `json:"accuracy_by_kind"`
}

func newStatsDTO(s knowmesh.Stats) statsDTO {
	byKind := make(map[string]float64, len(s.AccuracyByKind))
	for k, v := range s.AccuracyByKind {
		byKind[string(k)] = v
	}
	return statsDTO{
		Nodes:          s.Network.Nodes,
		Edges:          s.Network.Edges,
		EdgesByState:   s.Network.ByState,
		CacheEntries:   s.Cache.Entries,
		CacheHitRate:   s.Cache.HitRate(),
		CacheFallbacks: s.Cache.Fallbacks,
		ProviderCalls:  s.Cache.ProviderCalls,
		Tokens:         s.Cache.Tokens,
		Cost:           s.Cache.Cost,
		Patterns:       s.Patterns,
		Preloads:       s.Preloads,
		Accuracy:       s.Accuracy,
		AccuracyByKind: byKind,
	}
}
