package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/knowmesh/embedcache"
)

// embeddingProcessor fills in node vectors through the embedding cache.
type embeddingProcessor struct {
	cache  *embedcache.Cache
	model  string
	logger *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

func newEmbeddingProcessor(cache *embedcache.Cache, model string, logger *slog.Logger) *embeddingProcessor {
	return &embeddingProcessor{
		cache:  cache,
		model:  model,
		logger: logger.With("processor", "embeddings"),
	}
}

func (ep *embeddingProcessor) process(ctx context.Context, batch []*pending) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.doc.Content
	}

	ep.logger.Debug("embedding documents", "documents", len(texts))
	embeddings, err := ep.cache.GetBatchEmbeddings(ctx, texts, ep.model)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(embeddings))
	}

	for i, e := range embeddings {
		batch[i].node.Vector = e.Vector
		batch[i].node.Model = e.Model
		batch[i].node.Degraded = e.Degraded
	}
	return nil
}
