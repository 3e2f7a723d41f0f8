package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/poiesic/knowmesh/core"
)

// Outcome is what the user did with a search result.
type Outcome string

const (
	OutcomeClicked    Outcome = "clicked"
	OutcomeOpened     Outcome = "opened"
	OutcomeHelpful    Outcome = "helpful"
	OutcomeIrrelevant Outcome = "irrelevant"
)

var outcomeSignals = map[Outcome]float64{
	OutcomeClicked:    0.1,
	OutcomeOpened:     0.3,
	OutcomeHelpful:    0.5,
	OutcomeIrrelevant: -0.2,
}

// Signal returns the reinforcement signal of the outcome.
func (o Outcome) Signal() (float64, error) {
	s, ok := outcomeSignals[o]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOutcome, string(o))
	}
	return s, nil
}

// ParseOutcome parses a case-insensitive outcome name.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if _, err := o.Signal(); err != nil {
		return "", err
	}
	return o, nil
}

// feedbackRecord remembers what a query returned, for feedback attribution.
type feedbackRecord struct {
	anchors []string // active node ids of the search context
	ranked  []string // result ids, best first
}

func feedbackKey(query string) string {
	return strings.ToLower(core.NormalizeText(query))
}

func (e *Engine) remember(query string, activeFiles []string, results []core.SearchResult) {
	rec := feedbackRecord{ranked: make([]string, len(results))}
	for i, r := range results {
		rec.ranked[i] = r.NodeID
	}
	for _, f := range activeFiles {
		if id, ok := e.resolve(f); ok {
			rec.anchors = append(rec.anchors, id)
		}
	}
	e.feedback.Set(feedbackKey(query), rec, cache.DefaultExpiration)
}

// anchorsFor returns the nodes whose edge to nodeID a feedback signal
// adjusts: the active files of the originating search or, lacking those,
// the best other result.
func (r feedbackRecord) anchorsFor(nodeID string) []string {
	var out []string
	for _, a := range r.anchors {
		if a != nodeID {
			out = append(out, a)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, id := range r.ranked {
		if id != nodeID {
			return []string{id}
		}
	}
	return nil
}

// RecordSearchFeedback turns an outcome on one result of a recent query into
// a reinforcement signal on the network. Positive signals reinforce the
// edges anchor->node with the signal as quality; negative ones lower them.
func (e *Engine) RecordSearchFeedback(ctx context.Context, query, nodeID string, outcome Outcome) error {
	signal, err := outcome.Signal()
	if err != nil {
		return err
	}
	v, ok := e.feedback.Get(feedbackKey(query))
	if !ok {
		return fmt.Errorf("%w: %q", ErrQueryNotFound, query)
	}
	rec := v.(feedbackRecord)

	anchors := rec.anchorsFor(nodeID)
	if len(anchors) == 0 {
		e.logger.Debug("no anchor for search feedback", "query", query, "node", nodeID)
		return nil
	}
	for _, anchor := range anchors {
		if signal > 0 {
			err = e.network.ReinforcePath(ctx, []string{anchor, nodeID}, signal)
		} else {
			err = e.network.AdjustWeight(ctx, anchor, nodeID, signal)
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s feedback: %w", outcome, err)
		}
	}
	e.metrics.FeedbackSignals.WithLabelValues(string(outcome)).Inc()
	e.results.flush()
	e.logger.Debug("search feedback applied", "node", nodeID, "outcome", outcome, "anchors", len(anchors))
	return nil
}
