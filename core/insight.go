// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsightKind tags the variant carried by an Insight.
type InsightKind string

const (
	InsightBroadenQuery     InsightKind = "broaden_query"
	InsightClarifyQuery     InsightKind = "clarify_query"
	InsightDegradedResults  InsightKind = "degraded_results"
	InsightContextExpansion InsightKind = "context_expansion"
	InsightMissingLink      InsightKind = "missing_link"
	InsightTimeBased        InsightKind = "time_based"
	InsightHub              InsightKind = "hub"
	InsightIsland           InsightKind = "island"
	InsightMergeCandidate   InsightKind = "merge_candidate"
)

// InsightDetail is the kind-specific payload of an Insight.
type InsightDetail interface {
	Kind() InsightKind
	// Nodes returns the node ids the insight refers to, if any.
	Nodes() []string
	Summary() string
}

// BroadenQuery suggests broadening a query that matched nothing.
type BroadenQuery struct {
	Query string `validate:"required"`
}

func (BroadenQuery) Kind() InsightKind { return InsightBroadenQuery }
func (BroadenQuery) Nodes() []string   { return nil }
func (d BroadenQuery) Summary() string {
	return fmt.Sprintf("no results for %q; try fewer or more general terms", d.Query)
}

// ClarifyQuery suggests clarifying an empty or weakly matching query.
type ClarifyQuery struct {
	Query    string
	TopScore float64 `validate:"gte=-1,lte=1"`
}

func (ClarifyQuery) Kind() InsightKind { return InsightClarifyQuery }
func (ClarifyQuery) Nodes() []string   { return nil }
func (d ClarifyQuery) Summary() string {
	if d.Query == "" {
		return "the query is empty; describe what you are looking for"
	}
	return fmt.Sprintf("best match for %q scored %.2f; add detail to the query", d.Query, d.TopScore)
}

// DegradedResults reports that ranking used a fallback query embedding.
type DegradedResults struct {
	Reason string `validate:"required"`
}

func (DegradedResults) Kind() InsightKind { return InsightDegradedResults }
func (DegradedResults) Nodes() []string   { return nil }
func (d DegradedResults) Summary() string {
	return "results ranked without semantic embeddings: " + d.Reason
}

// ContextExpansion points at a node relevant to the current task that is not
// yet among the active files.
type ContextExpansion struct {
	NodeID    string  `validate:"required"`
	Task      string  `validate:"required"`
	Relevance float64 `validate:"gte=0,lte=1"`
}

func (ContextExpansion) Kind() InsightKind { return InsightContextExpansion }
func (d ContextExpansion) Nodes() []string  { return []string{d.NodeID} }
func (d ContextExpansion) Summary() string {
	return fmt.Sprintf("%s looks relevant to %q (%.2f)", d.NodeID, d.Task, d.Relevance)
}

// MissingLink flags two co-active nodes whose connection is still weak.
type MissingLink struct {
	SourceID string  `validate:"required"`
	TargetID string  `validate:"required,nefield=SourceID"`
	Weight   float64 `validate:"gte=0,lte=1"`
}

func (MissingLink) Kind() InsightKind { return InsightMissingLink }
func (d MissingLink) Nodes() []string  { return []string{d.SourceID, d.TargetID} }
func (d MissingLink) Summary() string {
	return fmt.Sprintf("%s and %s are used together but weakly linked (%.2f)", d.SourceID, d.TargetID, d.Weight)
}

// TimeBased suggests work historically associated with the current time slot.
type TimeBased struct {
	Slot      TimeSlot `validate:"required"`
	Day       time.Weekday
	Tasks     []string `validate:"required_without=Files"`
	Files     []string `validate:"required_without=Tasks"`
	Frequency uint64   `validate:"gte=1"`
}

func (TimeBased) Kind() InsightKind { return InsightTimeBased }
func (d TimeBased) Nodes() []string  { return d.Files }
func (d TimeBased) Summary() string {
	return fmt.Sprintf("on %s %s you usually work on %d task(s) and %d file(s)",
		d.Day, d.Slot, len(d.Tasks), len(d.Files))
}

// Hub identifies a node with high weighted out-degree.
type Hub struct {
	NodeID         string  `validate:"required"`
	WeightedDegree float64 `validate:"gt=0"`
	Connections    int     `validate:"gte=1"`
}

func (Hub) Kind() InsightKind { return InsightHub }
func (d Hub) Nodes() []string  { return []string{d.NodeID} }
func (d Hub) Summary() string {
	return fmt.Sprintf("%s is a hub with %d connections (degree %.2f)", d.NodeID, d.Connections, d.WeightedDegree)
}

// Island identifies a node with no established connection.
type Island struct {
	NodeID string `validate:"required"`
}

func (Island) Kind() InsightKind { return InsightIsland }
func (d Island) Nodes() []string  { return []string{d.NodeID} }
func (d Island) Summary() string {
	return fmt.Sprintf("%s is not connected to anything yet", d.NodeID)
}

// MergeCandidate identifies two nodes so strongly linked in both directions
// that they may belong together.
type MergeCandidate struct {
	NodeA  string  `validate:"required"`
	NodeB  string  `validate:"required,nefield=NodeA"`
	Weight float64 `validate:"gte=0,lte=1"`
}

func (MergeCandidate) Kind() InsightKind { return InsightMergeCandidate }
func (d MergeCandidate) Nodes() []string  { return []string{d.NodeA, d.NodeB} }
func (d MergeCandidate) Summary() string {
	return fmt.Sprintf("%s and %s are strongly linked both ways (%.2f)", d.NodeA, d.NodeB, d.Weight)
}

// Insight is a tagged variant: a validated detail plus ranking metadata.
// Insights are computed per call and never persisted.
type Insight struct {
	ID             string
	Detail         InsightDetail
	Confidence     float64
	EstimatedValue float64
	CreatedAt      time.Time
}

// NewInsight validates the detail and ranking fields and stamps an id.
func NewInsight(detail InsightDetail, confidence, estimatedValue float64, now time.Time) (Insight, error) {
	if detail == nil {
		return Insight{}, fmt.Errorf("%w: detail is nil", ErrInvalidInsight)
	}
	if err := validator().Struct(detail); err != nil {
		return Insight{}, fmt.Errorf("%w: %s: %w", ErrInvalidInsight, detail.Kind(), err)
	}
	if confidence < 0 || confidence > 1 {
		return Insight{}, fmt.Errorf("%w: confidence %.3f out of range", ErrInvalidInsight, confidence)
	}
	if estimatedValue < 0 || estimatedValue > 1 {
		return Insight{}, fmt.Errorf("%w: estimated value %.3f out of range", ErrInvalidInsight, estimatedValue)
	}
	return Insight{
		ID:             uuid.NewString(),
		Detail:         detail,
		Confidence:     confidence,
		EstimatedValue: estimatedValue,
		CreatedAt:      now,
	}, nil
}

// Kind returns the variant tag.
func (i Insight) Kind() InsightKind { return i.Detail.Kind() }

// Score ranks insights: confidence times estimated value.
func (i Insight) Score() float64 { return i.Confidence * i.EstimatedValue }
