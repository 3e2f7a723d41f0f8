package mock

import "github.com/poiesic/knowmesh/ai"

// MockProvider is a test double for ai.AIProvider.
type MockProvider struct {
	embedder *MockEmbedder
	tagger   *MockTagger
}

// NewMockProvider creates a new mock provider with default mock services.
// Use GetMockEmbedder()/GetMockTagger() to access concrete types for test assertions.
func NewMockProvider() ai.AIProvider {
	return &MockProvider{
		embedder: NewMockEmbedder(),
		tagger:   NewMockTagger(),
	}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
func NewMockProviderWithServices(embedder *MockEmbedder, tagger *MockTagger) ai.AIProvider {
	return &MockProvider{
		embedder: embedder,
		tagger:   tagger,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Tagger returns the mock tagger.
func (p *MockProvider) Tagger() ai.Tagger {
	return p.tagger
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockTagger returns the underlying mock tagger for test assertions.
func (p *MockProvider) GetMockTagger() *MockTagger {
	return p.tagger
}
