package core

import (
	"slices"
	"strings"
	"time"
)

// Node is one indexed knowledge unit (a file or document) carrying a single
// embedding vector. Nodes are values: the network stores and returns copies,
// so a caller can never mutate a node held by its owning map.
type Node struct {
	ID           string
	Path         string
	Content      string
	Vector       []float32 // Always fully populated once the node is indexed
	Model        string    // Embedding model that produced Vector
	Degraded     bool      // Vector is a fallback and carries no semantic meaning
	Tags         []string
	LastModified time.Time
	IndexedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	n.Vector = slices.Clone(n.Vector)
	n.Tags = slices.Clone(n.Tags)
	return n
}

// HasTag reports whether the node carries any of the given tags.
// An empty tag list matches every node.
func (n Node) HasTag(tags ...string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if slices.Contains(n.Tags, tag) {
			return true
		}
	}
	return false
}

// Edge is a weighted directed relation between two nodes reflecting observed
// co-relevance. Weight is stored as of LastReinforced; readers apply decay
// for the time elapsed since then.
type Edge struct {
	SourceID       string
	TargetID       string
	Weight         float64
	LastReinforced time.Time
	Reinforcements uint64
}

// EdgeState classifies an edge by its effective weight.
type EdgeState int

const (
	EdgeStateNone EdgeState = iota
	EdgeStateWeak
	EdgeStateEstablished
	EdgeStateStrong
)

func (s EdgeState) String() string {
	switch s {
	case EdgeStateWeak:
		return "weak"
	case EdgeStateEstablished:
		return "established"
	case EdgeStateStrong:
		return "strong"
	default:
		return "none"
	}
}

// ClassifyWeight maps a weight onto the edge state machine:
// none (0), weak (0 < w < established), established, strong (> strong).
func ClassifyWeight(w, established, strong float64) EdgeState {
	switch {
	case w <= 0:
		return EdgeStateNone
	case w < established:
		return EdgeStateWeak
	case w > strong:
		return EdgeStateStrong
	default:
		return EdgeStateEstablished
	}
}

// CacheEntry is a memoized embedding. Key is derived from the normalized
// text and the model name.
type CacheEntry struct {
	Key       string
	Model     string
	Vector    []float32
	Tokens    int
	Timestamp time.Time
	Version   uint32
}

// TimeSlot buckets the hour of day.
type TimeSlot string

const (
	SlotNight     TimeSlot = "night"
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
)

// SlotFor returns the time slot containing t.
func SlotFor(t time.Time) TimeSlot {
	switch h := t.Hour(); {
	case h < 6:
		return SlotNight
	case h < 12:
		return SlotMorning
	case h < 18:
		return SlotAfternoon
	default:
		return SlotEvening
	}
}

// PatternKey identifies a temporal pattern.
type PatternKey struct {
	Slot TimeSlot
	Day  time.Weekday
}

// PatternKeyFor returns the pattern key for the moment t.
func PatternKeyFor(t time.Time) PatternKey {
	return PatternKey{Slot: SlotFor(t), Day: t.Weekday()}
}

// String renders the key as "slot:day".
func (k PatternKey) String() string {
	return string(k.Slot) + ":" + k.Day.String()
}

// TemporalPattern correlates a time slot with the tasks and files historically
// worked on during it. Tasks and Files are deduplicated.
type TemporalPattern struct {
	Slot       TimeSlot
	Day        time.Weekday
	Frequency  uint64
	Tasks      []string
	Files      []string
	Confidence float64
	LastSeen   time.Time
}

// Key returns the pattern's key.
func (p TemporalPattern) Key() PatternKey {
	return PatternKey{Slot: p.Slot, Day: p.Day}
}

// Clone returns a deep copy of the pattern.
func (p TemporalPattern) Clone() TemporalPattern {
	p.Tasks = slices.Clone(p.Tasks)
	p.Files = slices.Clone(p.Files)
	return p
}

// WorkContext describes what the user is currently doing.
type WorkContext struct {
	Task        string    `validate:"max=512"`
	Project     string    `validate:"max=256"`
	ActiveFiles []string  `validate:"dive,required"`
	Timestamp   time.Time // Zero means "now"
}

// SameFocus reports whether two contexts describe the same task, project and
// active-file set. Active files are compared as sets.
func (w WorkContext) SameFocus(other WorkContext) bool {
	if w.Task != other.Task || w.Project != other.Project {
		return false
	}
	return sameSet(w.ActiveFiles, other.ActiveFiles)
}

func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, v := range a {
		as[v] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, v := range b {
		bs[v] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range as {
		if _, ok := bs[v]; !ok {
			return false
		}
	}
	return true
}

// SearchContext carries the caller's contextual hints for a search.
type SearchContext struct {
	ActiveFiles   []string
	RecentQueries []string
	Intent        string // Optional explicit intent; detected from the query when empty
}

// Filters narrow a search. Zero values mean "no constraint".
type Filters struct {
	Tags           []string // Any-of
	PathPrefix     string
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
	MinRelevance   float64 // Overrides the engine default when > 0
	MaxResults     int     // Overrides the engine default when > 0
}

// Match reports whether the node satisfies the metadata filters.
func (f Filters) Match(n Node) bool {
	if !n.HasTag(f.Tags...) {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(n.Path, f.PathPrefix) {
		return false
	}
	if !f.ModifiedAfter.IsZero() && n.LastModified.Before(f.ModifiedAfter) {
		return false
	}
	if !f.ModifiedBefore.IsZero() && n.LastModified.After(f.ModifiedBefore) {
		return false
	}
	return true
}

// Highlight marks a matched query term inside a snippet as a byte range.
type Highlight struct {
	Start int
	End   int
}

// RelatedNode is a strongly connected neighbour attached to a search result.
type RelatedNode struct {
	NodeID string
	Weight float64
}

// SearchResult is one ranked hit. It is computed per call and never persisted.
type SearchResult struct {
	NodeID        string
	Path          string
	Tags          []string
	Snippet       string
	Highlights    []Highlight
	SemanticScore float64
	ContextScore  float64
	TemporalScore float64
	CombinedScore float64
	Related       []RelatedNode
}

// PreloadManifest is a prioritized set of node ids slated for background
// warm-loading ahead of an explicit request.
type PreloadManifest struct {
	SourceID          string        `validate:"required"`
	NodeIDs           []string      `validate:"dive,required"`
	Priority          float64       `validate:"gte=0,lte=1"`
	EstimatedLoadTime time.Duration `validate:"gte=0"`
	CacheKey          string        `validate:"required"`
	CreatedAt         time.Time
	ValidUntil        time.Time `validate:"required,gtfield=CreatedAt"`
}

// Valid reports whether the manifest is still within its validity window.
func (m PreloadManifest) Valid(now time.Time) bool {
	return now.Before(m.ValidUntil)
}

// SourceDocument is one entry of a content source's change feed.
type SourceDocument struct {
	ID           string
	Path         string
	Content      string
	LastModified time.Time
	Tags         []string
}

// Checkpoint records how far a content source has been synchronized.
type Checkpoint struct {
	Source    string
	Since     time.Time
	UpdatedAt time.Time
}
