package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		EmbeddingHost:  "http://localhost:11434",
		TaggerHost:     "http://localhost:11434",
		EmbeddingModel: "embeddinggemma",
		TaggerModel:    "qwen2.5:3b",
		MinImportance:  6,
		MaxTags:        8,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.TaggerHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Equal(t, "qwen2.5:3b", cfg.TaggerModel)
	assert.Equal(t, 6, cfg.MinImportance)
	assert.Equal(t, 8, cfg.MaxTags)
	assert.Equal(t, DefaultTokenEncoding, cfg.TokenEncoding)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.TaggerHost)
		assert.Equal(t, 6, cfg.MinImportance)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.TaggerHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithTaggerHost("http://tag:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://tag:9090/v1", cfg.TaggerHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithHost("http://custom:8080/v1"),
			WithEmbeddingModel("custom-embed"),
			WithTaggerModel("custom-tagger"),
			WithMinImportance(7),
			WithMaxTags(3),
			WithAPIToken("secret"),
		)

		assert.Equal(t, "custom-embed", cfg.EmbeddingModel)
		assert.Equal(t, "custom-tagger", cfg.TaggerModel)
		assert.Equal(t, 7, cfg.MinImportance)
		assert.Equal(t, 3, cfg.MaxTags)
		assert.Equal(t, "secret", cfg.APIToken)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{"already has /v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing /v1", "http://localhost:11434", "http://localhost:11434/v1"},
		{"has trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"empty host", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host, TaggerHost: tt.host}

			cfg.Normalize()

			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
			assert.Equal(t, tt.expected, cfg.TaggerHost)
			assert.Equal(t, DefaultTokenEncoding, cfg.TokenEncoding)
			assert.Equal(t, "none", cfg.APIToken)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := validConfig()

		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://localhost:11434/v1", cfg.TaggerHost)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing embedding host", func(c *Config) { c.EmbeddingHost = "" }, "EmbeddingHost"},
		{"missing tagger host", func(c *Config) { c.TaggerHost = "" }, "TaggerHost"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"missing tagger model", func(c *Config) { c.TaggerModel = "" }, "TaggerModel"},
		{"min importance too low", func(c *Config) { c.MinImportance = 0 }, "MinImportance"},
		{"min importance too high", func(c *Config) { c.MinImportance = 11 }, "MinImportance"},
		{"no tags allowed", func(c *Config) { c.MaxTags = 0 }, "MaxTags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("min importance at boundaries", func(t *testing.T) {
		cfg := validConfig()
		cfg.MinImportance = 1
		assert.NoError(t, cfg.Validate())

		cfg.MinImportance = 10
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigValidate_Integration(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())
}

func TestTagNames(t *testing.T) {
	tags := []ExtractedTag{{Name: "go", Importance: 9}, {Name: "cache", Importance: 7}}
	assert.Equal(t, []string{"go", "cache"}, TagNames(tags))
	assert.Empty(t, TagNames(nil))
}
