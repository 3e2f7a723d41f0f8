package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/knowmesh/ai"
)

// MockTagger is a test double for ai.Tagger.
type MockTagger struct {
	// ExtractTagsFunc is called by ExtractTags if set.
	ExtractTagsFunc func(ctx context.Context, text string) ([]ai.ExtractedTag, error)

	callCount atomic.Int64
}

var _ ai.Tagger = (*MockTagger)(nil)

// NewMockTagger creates a mock tagger with default behavior.
func NewMockTagger() *MockTagger {
	return &MockTagger{}
}

// ExtractTags returns the first few distinct words longer than three
// characters, in descending importance.
func (m *MockTagger) ExtractTags(ctx context.Context, text string) ([]ai.ExtractedTag, error) {
	m.callCount.Add(1)

	if m.ExtractTagsFunc != nil {
		return m.ExtractTagsFunc(ctx, text)
	}

	tags := make([]ai.ExtractedTag, 0, 5)
	seen := make(map[string]struct{})
	importance := 10
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(tags) >= 5 {
			break
		}
		word = strings.Trim(word, ".,!?;:\"'()[]{}-")
		if len(word) <= 3 {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		tags = append(tags, ai.ExtractedTag{Name: word, Importance: importance})
		importance--
	}
	return tags, nil
}

// CallCount returns the number of times ExtractTags was called.
func (m *MockTagger) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom functions.
func (m *MockTagger) Reset() {
	m.callCount.Store(0)
	m.ExtractTagsFunc = nil
}
