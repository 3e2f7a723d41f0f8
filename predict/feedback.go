package predict

import (
	"fmt"
	"maps"
	"strings"

	"github.com/poiesic/knowmesh/core"
)

// Outcome is the user's verdict on an insight.
type Outcome string

const (
	OutcomeHelpful    Outcome = "helpful"
	OutcomeIrrelevant Outcome = "irrelevant"
	OutcomeHarmful    Outcome = "harmful"
)

// ParseOutcome maps a case-insensitive name to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case OutcomeHelpful, OutcomeIrrelevant, OutcomeHarmful:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
}

// Adjust applies the outcome to a smoothed accuracy value.
func (o Outcome) Adjust(accuracy float64) (float64, error) {
	switch o {
	case OutcomeHelpful:
		return min(1, accuracy+0.1), nil
	case OutcomeIrrelevant:
		return accuracy * 0.9, nil
	case OutcomeHarmful:
		return max(0, accuracy-0.2), nil
	}
	return accuracy, fmt.Errorf("%w: %q", ErrUnknownOutcome, string(o))
}

// RecordPredictionFeedback updates the overall and per-kind accuracy with the
// verdict on a previously issued insight. Each insight takes one verdict.
func (e *Engine) RecordPredictionFeedback(insightID string, outcome Outcome) error {
	if _, err := outcome.Adjust(0); err != nil {
		return err
	}
	v, ok := e.issued.Get(insightID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInsightNotFound, insightID)
	}
	e.issued.Delete(insightID)
	kind := v.(core.InsightKind)

	e.accMu.Lock()
	e.accuracy, _ = outcome.Adjust(e.accuracy)
	perKind, seen := e.byKind[kind]
	if !seen {
		perKind = e.cfg.InitialAccuracy
	}
	e.byKind[kind], _ = outcome.Adjust(perKind)
	accuracy := e.accuracy
	e.accMu.Unlock()

	e.metrics.PredictionAccuracy.Set(accuracy)
	e.logger.Debug("prediction feedback", "insight", insightID, "kind", kind, "outcome", outcome, "accuracy", accuracy)
	return nil
}

// Accuracy returns the smoothed accuracy over all insights.
func (e *Engine) Accuracy() float64 {
	e.accMu.Lock()
	defer e.accMu.Unlock()
	return e.accuracy
}

// AccuracyByKind returns the smoothed accuracy per insight kind that has
// received feedback.
func (e *Engine) AccuracyByKind() map[core.InsightKind]float64 {
	e.accMu.Lock()
	defer e.accMu.Unlock()
	return maps.Clone(e.byKind)
}
