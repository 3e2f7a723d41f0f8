package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the identifier of the embedding model. Vectors produced by
	// different models are never comparable.
	Model() string
}

// Tagger extracts short topical tags from a document.
// Implementations must be thread-safe for concurrent use.
type Tagger interface {
	// ExtractTags analyzes text and returns its most important topics, most
	// important first. Returns an empty slice if nothing stands out.
	ExtractTags(ctx context.Context, text string) ([]ExtractedTag, error)
}

// ExtractedTag is a topic identified in a document.
type ExtractedTag struct {
	// Name is lowercase, 1-3 words, singular form. Example: "rate limiting"
	Name string

	// Importance is a score from 1-10 indicating how central the topic is.
	Importance int
}

// TagNames returns the names of the tags, preserving order.
func TagNames(tags []ExtractedTag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Tagger returns the tag extraction service.
	Tagger() Tagger

	// Close releases resources held by the provider and its services.
	Close() error
}
