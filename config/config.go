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


package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/ingestion"
	"github.com/poiesic/knowmesh/predict"
	"github.com/poiesic/knowmesh/search"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the file is read.
const (
	EnvDataDir  = "KNOWMESH_DATA_DIR"
	EnvAPIToken = "KNOWMESH_API_TOKEN"
)

// Config is the complete file layout.
type Config struct {
	DataDir  string `yaml:"data_dir" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	AI        AI        `yaml:"ai"`
	Cache     Cache     `yaml:"cache"`
	Graph     Graph     `yaml:"graph"`
	Search    Search    `yaml:"search"`
	Predict   Predict   `yaml:"predict"`
	Ingestion Ingestion `yaml:"ingestion"`
	Sources   []Source  `yaml:"sources" validate:"dive"`
	Server    Server    `yaml:"server"`
}

// AI configures the embedding and tagging services.
type AI struct {
	EmbeddingHost  string `yaml:"embedding_host" validate:"required"`
	EmbeddingModel string `yaml:"embedding_model" validate:"required"`
	TaggerHost     string `yaml:"tagger_host"`
	TaggerModel    string `yaml:"tagger_model"`
	APIToken       string `yaml:"api_token"`
	MinImportance  int    `yaml:"min_importance" validate:"gte=1,lte=10"`
	MaxTags        int    `yaml:"max_tags" validate:"gte=1"`
	TokenEncoding  string `yaml:"token_encoding"`
	AutoTag        bool   `yaml:"auto_tag"`
}

// Cache mirrors embedcache.Config.
type Cache struct {
	TTL               time.Duration `yaml:"ttl"`
	MaxEntries        int           `yaml:"max_entries"`
	Version           uint32        `yaml:"version"`
	TokenBudget       int           `yaml:"token_budget"`
	FallbackDimension int           `yaml:"fallback_dimension"`
	CostPer1KTokens   float64       `yaml:"cost_per_1k_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
	FlushThreshold    int           `yaml:"flush_threshold"`
}

// Graph mirrors graph.Config.
type Graph struct {
	LearningRate         float64 `yaml:"learning_rate"`
	DecayPerDay          float64 `yaml:"decay_per_day"`
	SurpriseThreshold    float64 `yaml:"surprise_threshold"`
	SurpriseBoost        float64 `yaml:"surprise_boost"`
	EstablishedThreshold float64 `yaml:"established_threshold"`
	StrongThreshold      float64 `yaml:"strong_threshold"`
	PredictThreshold     float64 `yaml:"predict_threshold"`
	MaxPredictions       int     `yaml:"max_predictions"`
	HubMinDegree         float64 `yaml:"hub_min_degree"`
	MaxHubs              int     `yaml:"max_hubs"`
	MaxIslands           int     `yaml:"max_islands"`
}

// Search mirrors search.Config.
type Search struct {
	MinRelevance   float64       `yaml:"min_relevance"`
	MaxResults     int           `yaml:"max_results"`
	SemanticWeight float64       `yaml:"semantic_weight"`
	ContextWeight  float64       `yaml:"context_weight"`
	TemporalWeight float64       `yaml:"temporal_weight"`
	FreshWindow    time.Duration `yaml:"fresh_window"`
	HalfLife       time.Duration `yaml:"half_life"`
	TemporalFloor  float64       `yaml:"temporal_floor"`
	ClarifyBelow   float64       `yaml:"clarify_below"`
	MaxRelated     int           `yaml:"max_related"`
	SnippetLength  int           `yaml:"snippet_length"`
	QueryCacheSize int           `yaml:"query_cache_size"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl"`
	FeedbackTTL    time.Duration `yaml:"feedback_ttl"`
	Timeout        time.Duration `yaml:"timeout"`
	Workers        int           `yaml:"workers"`
}

// Predict mirrors predict.Config.
type Predict struct {
	ConfidenceStep      float64       `yaml:"confidence_step"`
	MinPatternFrequency uint64        `yaml:"min_pattern_frequency"`
	ExpansionRelevance  float64       `yaml:"expansion_relevance"`
	MaxExpansions       int           `yaml:"max_expansions"`
	MaxMissingLinks     int           `yaml:"max_missing_links"`
	MaxInsights         int           `yaml:"max_insights"`
	Debounce            time.Duration `yaml:"debounce"`
	PreloadValidity     time.Duration `yaml:"preload_validity"`
	PreloadPerNode      time.Duration `yaml:"preload_per_node"`
	PreloadWorkers      int           `yaml:"preload_workers"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	PurgeInterval       time.Duration `yaml:"purge_interval"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	InitialAccuracy     float64       `yaml:"initial_accuracy"`
	FeedbackRetention   time.Duration `yaml:"feedback_retention"`
}

// Ingestion sizes the indexing pipeline.
type Ingestion struct {
	PoolSize  int `yaml:"pool_size" validate:"gte=1"`
	BatchSize int `yaml:"batch_size" validate:"gte=1"`
}

// Source is one watched directory.
type Source struct {
	Path        string        `yaml:"path" validate:"required"`
	Extensions  []string      `yaml:"extensions" validate:"dive,startswith=."`
	MaxFileSize int64         `yaml:"max_file_size" validate:"gte=0"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Server configures the HTTP API.
type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	aiCfg := ai.DefaultConfig()
	cache := embedcache.DefaultConfig()
	g := graph.DefaultConfig()
	s := search.DefaultConfig()
	p := predict.DefaultConfig()

	dataDir := ".knowmesh"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".knowmesh")
	}

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		AI: AI{
			EmbeddingHost:  aiCfg.EmbeddingHost,
			EmbeddingModel: aiCfg.EmbeddingModel,
			TaggerHost:     aiCfg.TaggerHost,
			TaggerModel:    aiCfg.TaggerModel,
			MinImportance:  aiCfg.MinImportance,
			MaxTags:        aiCfg.MaxTags,
			TokenEncoding:  aiCfg.TokenEncoding,
		},
		Cache: Cache{
			TTL:               cache.TTL,
			MaxEntries:        cache.MaxEntries,
			Version:           cache.Version,
			TokenBudget:       cache.TokenBudget,
			FallbackDimension: cache.FallbackDimension,
			CostPer1KTokens:   cache.CostPer1KTokens,
			RequestsPerSecond: cache.RequestsPerSecond,
			Burst:             cache.Burst,
			BreakerFailures:   cache.BreakerFailures,
			BreakerTimeout:    cache.BreakerTimeout,
			FlushThreshold:    cache.FlushThreshold,
		},
		Graph: Graph{
			LearningRate:         g.LearningRate,
			DecayPerDay:          g.DecayPerDay,
			SurpriseThreshold:    g.SurpriseThreshold,
			SurpriseBoost:        g.SurpriseBoost,
			EstablishedThreshold: g.EstablishedThreshold,
			StrongThreshold:      g.StrongThreshold,
			PredictThreshold:     g.PredictThreshold,
			MaxPredictions:       g.MaxPredictions,
			HubMinDegree:         g.HubMinDegree,
			MaxHubs:              g.MaxHubs,
			MaxIslands:           g.MaxIslands,
		},
		Search: Search{
			MinRelevance:   s.MinRelevance,
			MaxResults:     s.MaxResults,
			SemanticWeight: s.SemanticWeight,
			ContextWeight:  s.ContextWeight,
			TemporalWeight: s.TemporalWeight,
			FreshWindow:    s.FreshWindow,
			HalfLife:       s.HalfLife,
			TemporalFloor:  s.TemporalFloor,
			ClarifyBelow:   s.ClarifyBelow,
			MaxRelated:     s.MaxRelated,
			SnippetLength:  s.SnippetLength,
			QueryCacheSize: s.QueryCacheSize,
			QueryCacheTTL:  s.QueryCacheTTL,
			FeedbackTTL:    s.FeedbackTTL,
			Timeout:        s.Timeout,
			Workers:        s.Workers,
		},
		Predict: Predict{
			ConfidenceStep:      p.ConfidenceStep,
			MinPatternFrequency: p.MinPatternFrequency,
			ExpansionRelevance:  p.ExpansionRelevance,
			MaxExpansions:       p.MaxExpansions,
			MaxMissingLinks:     p.MaxMissingLinks,
			MaxInsights:         p.MaxInsights,
			Debounce:            p.Debounce,
			PreloadValidity:     p.PreloadValidity,
			PreloadPerNode:      p.PreloadPerNode,
			PreloadWorkers:      p.PreloadWorkers,
			RefreshInterval:     p.RefreshInterval,
			PurgeInterval:       p.PurgeInterval,
			FlushInterval:       p.FlushInterval,
			InitialAccuracy:     p.InitialAccuracy,
			FeedbackRetention:   p.FeedbackRetention,
		},
		Ingestion: Ingestion{
			PoolSize:  ingestion.DefaultPoolSize(),
			BatchSize: ingestion.DefaultBatchSize,
		},
		Server: Server{
			Addr:            "127.0.0.1:7474",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) && strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %w", ErrUnknownKey, err)
		}
		return err
	}
	c.DataDir = expandHome(c.DataDir)
	for i := range c.Sources {
		c.Sources[i].Path = expandHome(c.Sources[i].Path)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = expandHome(v)
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.AI.APIToken = v
	}
}

// Write encodes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Validate checks every section, including the tunables owned by the
// service packages.
func (c *Config) Validate() error {
	v := playground.New(playground.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	checks := []error{
		c.CacheConfig().Validate(),
		c.GraphConfig().Validate(),
		c.SearchConfig().Validate(),
		c.PredictConfig().Validate(),
	}
	if err := errors.Join(checks...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DatabasePath is where the badger files live.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "db")
}

// AIConfig converts the ai section.
func (c *Config) AIConfig() *ai.Config {
	taggerHost := c.AI.TaggerHost
	if taggerHost == "" {
		taggerHost = c.AI.EmbeddingHost
	}
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithTaggerHost(taggerHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithTaggerModel(c.AI.TaggerModel),
		ai.WithAPIToken(c.AI.APIToken),
		ai.WithMinImportance(c.AI.MinImportance),
		ai.WithMaxTags(c.AI.MaxTags),
		ai.WithTokenEncoding(c.AI.TokenEncoding),
	)
}

// CacheConfig converts the cache section.
func (c *Config) CacheConfig() embedcache.Config {
	return embedcache.Config{
		TTL:               c.Cache.TTL,
		MaxEntries:        c.Cache.MaxEntries,
		Version:           c.Cache.Version,
		TokenBudget:       c.Cache.TokenBudget,
		FallbackDimension: c.Cache.FallbackDimension,
		CostPer1KTokens:   c.Cache.CostPer1KTokens,
		RequestsPerSecond: c.Cache.RequestsPerSecond,
		Burst:             c.Cache.Burst,
		BreakerFailures:   c.Cache.BreakerFailures,
		BreakerTimeout:    c.Cache.BreakerTimeout,
		FlushThreshold:    c.Cache.FlushThreshold,
	}
}

// GraphConfig converts the graph section.
func (c *Config) GraphConfig() graph.Config {
	return graph.Config{
		LearningRate:         c.Graph.LearningRate,
		DecayPerDay:          c.Graph.DecayPerDay,
		SurpriseThreshold:    c.Graph.SurpriseThreshold,
		SurpriseBoost:        c.Graph.SurpriseBoost,
		EstablishedThreshold: c.Graph.EstablishedThreshold,
		StrongThreshold:      c.Graph.StrongThreshold,
		PredictThreshold:     c.Graph.PredictThreshold,
		MaxPredictions:       c.Graph.MaxPredictions,
		HubMinDegree:         c.Graph.HubMinDegree,
		MaxHubs:              c.Graph.MaxHubs,
		MaxIslands:           c.Graph.MaxIslands,
	}
}

// SearchConfig converts the search section.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		MinRelevance:   c.Search.MinRelevance,
		MaxResults:     c.Search.MaxResults,
		SemanticWeight: c.Search.SemanticWeight,
		ContextWeight:  c.Search.ContextWeight,
		TemporalWeight: c.Search.TemporalWeight,
		FreshWindow:    c.Search.FreshWindow,
		HalfLife:       c.Search.HalfLife,
		TemporalFloor:  c.Search.TemporalFloor,
		ClarifyBelow:   c.Search.ClarifyBelow,
		MaxRelated:     c.Search.MaxRelated,
		SnippetLength:  c.Search.SnippetLength,
		QueryCacheSize: c.Search.QueryCacheSize,
		QueryCacheTTL:  c.Search.QueryCacheTTL,
		FeedbackTTL:    c.Search.FeedbackTTL,
		Timeout:        c.Search.Timeout,
		Workers:        c.Search.Workers,
	}
}

// PredictConfig converts the predict section.
func (c *Config) PredictConfig() predict.Config {
	return predict.Config{
		ConfidenceStep:      c.Predict.ConfidenceStep,
		MinPatternFrequency: c.Predict.MinPatternFrequency,
		ExpansionRelevance:  c.Predict.ExpansionRelevance,
		MaxExpansions:       c.Predict.MaxExpansions,
		MaxMissingLinks:     c.Predict.MaxMissingLinks,
		MaxInsights:         c.Predict.MaxInsights,
		Debounce:            c.Predict.Debounce,
		PreloadValidity:     c.Predict.PreloadValidity,
		PreloadPerNode:      c.Predict.PreloadPerNode,
		PreloadWorkers:      c.Predict.PreloadWorkers,
		RefreshInterval:     c.Predict.RefreshInterval,
		PurgeInterval:       c.Predict.PurgeInterval,
		FlushInterval:       c.Predict.FlushInterval,
		InitialAccuracy:     c.Predict.InitialAccuracy,
		FeedbackRetention:   c.Predict.FeedbackRetention,
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
