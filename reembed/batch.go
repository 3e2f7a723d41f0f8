package reembed

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/graph"
)

// DefaultTokenBudget bounds provider input when no TextPreparer is given.
const DefaultTokenBudget = 8191

// TextPreparer turns node content into provider input. The embedding cache
// is one, so re-embedded vectors match those produced at index time.
type TextPreparer interface {
	Prepare(text string) (string, error)
}

// tokenBudget normalizes whitespace and truncates to a token budget.
type tokenBudget struct {
	counter ai.TokenCounter
	budget  int
}

func (b tokenBudget) Prepare(text string) (string, error) {
	input := core.NormalizeText(text)
	if input == "" {
		return "", ErrEmptyContent
	}
	return b.counter.Truncate(input, b.budget), nil
}

// BatchProcessor re-embeds batches of nodes.
type BatchProcessor struct {
	network  *graph.Network
	embedder ai.Embedder
	backoff  Backoff
	preparer TextPreparer
}

// NewBatchProcessor creates a new batch processor. Content is normalized and
// truncated to DefaultTokenBudget approximate tokens unless WithPreparer
// replaces that.
func NewBatchProcessor(network *graph.Network, embedder ai.Embedder, backoff Backoff) *BatchProcessor {
	return &BatchProcessor{
		network:  network,
		embedder: embedder,
		backoff:  backoff,
		preparer: tokenBudget{counter: ai.ApproxTokenCounter{}, budget: DefaultTokenBudget},
	}
}

// WithPreparer replaces how content becomes provider input.
func (bp *BatchProcessor) WithPreparer(p TextPreparer) *BatchProcessor {
	if p != nil {
		bp.preparer = p
	}
	return bp
}

// Process embeds the batch and writes the normalized vectors back. Nothing
// is written unless every node in the batch got a vector of the same size.
func (bp *BatchProcessor) Process(ctx context.Context, nodes []core.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	texts := make([]string, len(nodes))
	for i, n := range nodes {
		text, err := bp.preparer.Prepare(n.Content)
		if err != nil {
			return fmt.Errorf("failed to prepare node %s: %w", n.ID, err)
		}
		texts[i] = text
	}

	var embeddings [][]float32
	err := bp.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.backoff.Attempts, err)
	}
	if len(embeddings) != len(nodes) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(nodes), len(embeddings))
	}
	for i, v := range embeddings {
		if len(v) == 0 || len(v) != len(embeddings[0]) {
			return fmt.Errorf("%w: node %s got %d dimensions", core.ErrInvalidDimension, nodes[i].ID, len(v))
		}
	}

	model := bp.embedder.Model()
	var errs []error
	for i, n := range nodes {
		err := bp.network.UpdateVector(ctx, n.ID, core.NormalizeVector(embeddings[i]), model, false)
		// Nodes removed since the snapshot are fine to lose.
		if err != nil && !errors.Is(err, graph.ErrNodeNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
