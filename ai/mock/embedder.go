package mock

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/core"
)

// DefaultDimensions is the vector size produced by MockEmbedder.
const DefaultDimensions = 384

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields. Configure it
// before sharing it between goroutines.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName is returned by Model. Default: "mock-embedding".
	ModelName string

	// Dimensions of generated vectors. Default: DefaultDimensions.
	Dimensions int

	mu      sync.RWMutex
	vectors map[string][]float32
	err     error

	callCount  atomic.Int64
	textsCount atomic.Int64
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		ModelName:  "mock-embedding",
		Dimensions: DefaultDimensions,
	}
}

// WithEmbedTextFunc overrides EmbedText.
func (m *MockEmbedder) WithEmbedTextFunc(fn func(ctx context.Context, text string) ([]float32, error)) *MockEmbedder {
	m.EmbedTextFunc = fn
	return m
}

// WithVector pins the vector returned for an exact text.
func (m *MockEmbedder) WithVector(text string, vector []float32) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vectors == nil {
		m.vectors = make(map[string][]float32)
	}
	m.vectors[text] = vector
	return m
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *MockEmbedder) FailWith(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Model returns the configured model name.
func (m *MockEmbedder) Model() string {
	if m.ModelName == "" {
		return "mock-embedding"
	}
	return m.ModelName
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.callCount.Add(1)
	m.textsCount.Add(1)

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	return m.vectorFor(text), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.callCount.Add(1)
	m.textsCount.Add(int64(len(texts)))

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	if err := m.failure(ctx); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if m.EmbedTextFunc != nil {
			v, err := m.EmbedTextFunc(ctx, text)
			if err != nil {
				return nil, err
			}
			embeddings[i] = v
			continue
		}
		embeddings[i] = m.vectorFor(text)
	}
	return embeddings, nil
}

// CallCount returns the number of times any embedding method was called.
func (m *MockEmbedder) CallCount() int {
	return int(m.callCount.Load())
}

// TextsEmbedded returns the total number of texts sent to the embedder.
func (m *MockEmbedder) TextsEmbedded() int {
	return int(m.textsCount.Load())
}

// Reset clears call counts, pinned vectors, failures and custom functions.
func (m *MockEmbedder) Reset() {
	m.callCount.Store(0)
	m.textsCount.Store(0)
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
	m.mu.Lock()
	m.vectors = nil
	m.err = nil
	m.mu.Unlock()
}

func (m *MockEmbedder) failure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *MockEmbedder) vectorFor(text string) []float32 {
	m.mu.RLock()
	v, ok := m.vectors[text]
	m.mu.RUnlock()
	if ok {
		return append([]float32(nil), v...)
	}
	dim := m.Dimensions
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return generateDeterministicVector(text, dim)
}

// generateDeterministicVector creates a deterministic unit vector from text.
// It uses FNV hash to ensure the same text always produces the same vector.
func generateDeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%2000)/1000.0 - 1.0
	}
	return core.NormalizeVector(vector)
}
