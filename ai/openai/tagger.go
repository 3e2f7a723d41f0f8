package openai

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/knowmesh/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxTaggerInput bounds the document excerpt sent to the chat model.
const maxTaggerInput = 6000

// Tagger implements ai.Tagger using OpenAI-compatible chat APIs.
type Tagger struct {
	client        llms.Model
	minImportance int
	maxTags       int
	logger        *slog.Logger
}

var _ ai.Tagger = (*Tagger)(nil)

// tag matches the structure expected from the LLM.
type tag struct {
	Tag        string `json:"tag"`
	Importance int    `json:"importance"`
}

type analysis struct {
	Tags []tag `json:"tags"`
}

func newTagger(config *ai.Config) (*Tagger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.TaggerHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.TaggerModel),
	)
	if err != nil {
		return nil, err
	}

	return newTaggerWithModel(client, config.MinImportance, config.MaxTags), nil
}

func newTaggerWithModel(client llms.Model, minImportance, maxTags int) *Tagger {
	return &Tagger{
		client:        client,
		minImportance: minImportance,
		maxTags:       maxTags,
		logger:        slog.Default().With("component", "openai-tagger"),
	}
}

// NewTagger creates a new tagger using the provided configuration.
func NewTagger(config *ai.Config) (ai.Tagger, error) {
	return newTagger(config)
}

// ExtractTags asks the chat model for the document's topics, keeps those at
// or above the importance threshold and returns at most maxTags of them,
// most important first.
func (t *Tagger) ExtractTags(ctx context.Context, text string) ([]ai.ExtractedTag, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []ai.ExtractedTag{}, nil
	}
	if len(text) > maxTaggerInput {
		text = text[:maxTaggerInput]
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, buildSystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	// Small local models occasionally emit malformed JSON; retry a few times.
	var result analysis
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := t.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			t.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, err
		}
		if len(response.Choices) < 1 {
			t.logger.Debug("no choices returned from model")
			return []ai.ExtractedTag{}, nil
		}

		responseText := repairJSON(response.Choices[0].Content)
		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			t.logger.Warn("error parsing tagger response", "attempt", attempt+1, "response", responseText, "err", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		t.logger.Error("failed to parse tagger response after retries", "err", lastErr)
		return nil, lastErr
	}

	seen := make(map[string]struct{}, len(result.Tags))
	extracted := make([]ai.ExtractedTag, 0, len(result.Tags))
	for _, c := range result.Tags {
		name := normalizeTag(c.Tag)
		if name == "" || c.Importance < t.minImportance {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		extracted = append(extracted, ai.ExtractedTag{Name: name, Importance: c.Importance})
	}

	slices.SortStableFunc(extracted, func(a, b ai.ExtractedTag) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	if len(extracted) > t.maxTags {
		extracted = extracted[:t.maxTags]
	}

	t.logger.Debug("extracted tags", "total", len(result.Tags), "kept", len(extracted))
	return extracted, nil
}

// normalizeTag lowercases a tag, drops punctuation and collapses whitespace
// and underscores to single spaces.
func normalizeTag(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '_' || r == '-':
			return ' '
		case strings.ContainsRune(".,!?;:\"'()[]{}#", r):
			return -1
		}
		return r
	}, strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}
