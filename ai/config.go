// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"errors"
	"strings"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// TaggerHost is the base URL for the chat model used for auto-tagging.
	TaggerHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// TaggerModel is the chat model identifier used for tag extraction.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	TaggerModel string

	// APIToken authenticates against hosted services. Local servers ignore it.
	APIToken string

	// MinImportance is the minimum importance score (1-10) for extracted tags.
	// Default: 6
	MinImportance int

	// MaxTags caps the number of tags kept per document.
	// Default: 8
	MaxTags int

	// TokenEncoding names the tiktoken encoding used for budgeting input text.
	TokenEncoding string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithTaggerHost sets the tagger service host URL.
func WithTaggerHost(host string) ConfigOption {
	return func(c *Config) {
		c.TaggerHost = host
	}
}

// WithHost sets both embedding and tagger hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.TaggerHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithTaggerModel sets the tagger model identifier.
func WithTaggerModel(model string) ConfigOption {
	return func(c *Config) {
		c.TaggerModel = model
	}
}

// WithAPIToken sets the bearer token sent to the services.
func WithAPIToken(token string) ConfigOption {
	return func(c *Config) {
		c.APIToken = token
	}
}

// WithMinImportance sets the minimum importance threshold for tag extraction.
func WithMinImportance(min int) ConfigOption {
	return func(c *Config) {
		c.MinImportance = min
	}
}

// WithMaxTags caps the number of tags kept per document.
func WithMaxTags(max int) ConfigOption {
	return func(c *Config) {
		c.MaxTags = max
	}
}

// WithTokenEncoding names the tiktoken encoding used for budgeting.
func WithTokenEncoding(encoding string) ConfigOption {
	return func(c *Config) {
		c.TokenEncoding = encoding
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
// By default, both embedding and tagger use the same host.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:  defaultHost,
		TaggerHost:     defaultHost,
		EmbeddingModel: "embeddinggemma",
		TaggerModel:    "qwen2.5:3b",
		MinImportance:  6,
		MaxTags:        8,
		TokenEncoding:  DefaultTokenEncoding,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.TaggerHost = normalizeHost(c.TaggerHost)
	if c.TokenEncoding == "" {
		c.TokenEncoding = DefaultTokenEncoding
	}
	if c.APIToken == "" {
		// Local OpenAI-compatible services don't require authentication
		c.APIToken = "none"
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.TaggerHost == "" {
		return errors.New("ai config: TaggerHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.TaggerModel == "" {
		return errors.New("ai config: TaggerModel is required")
	}
	if c.MinImportance < 1 || c.MinImportance > 10 {
		return errors.New("ai config: MinImportance must be between 1 and 10")
	}
	if c.MaxTags < 1 {
		return errors.New("ai config: MaxTags must be positive")
	}
	return nil
}
