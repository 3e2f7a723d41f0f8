package ai

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultTokenEncoding is the BPE encoding used by OpenAI embedding models.
const DefaultTokenEncoding = "cl100k_base"

// TokenCounter counts and truncates text by model tokens.
type TokenCounter interface {
	Count(text string) int
	// Truncate returns the longest prefix of text that fits in max tokens.
	Truncate(text string, max int) string
}

// NewTokenCounter returns a tiktoken-backed counter for the named encoding.
// If the encoding cannot be loaded (tiktoken fetches BPE ranks on first use)
// an approximate counter is returned instead.
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = DefaultTokenEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Default().With("component", "tokens").Warn("tiktoken encoding unavailable, using approximate counts",
			"encoding", encoding, "err", err)
		return ApproxTokenCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	return c.enc.Decode(tokens[:max])
}

// ApproxTokenCounter estimates one token per four bytes of text. Truncation
// never splits a UTF-8 sequence.
type ApproxTokenCounter struct{}

const approxBytesPerToken = 4

func (ApproxTokenCounter) Count(text string) int {
	return (len(text) + approxBytesPerToken - 1) / approxBytesPerToken
}

func (ApproxTokenCounter) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	limit := max * approxBytesPerToken
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
