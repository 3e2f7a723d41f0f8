package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/predict"
	"github.com/poiesic/knowmesh/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, graph.DefaultConfig(), cfg.GraphConfig())
	assert.Equal(t, search.DefaultConfig(), cfg.SearchConfig())
	assert.Equal(t, predict.DefaultConfig(), cfg.PredictConfig())
	assert.Equal(t, embedcache.DefaultConfig(), cfg.CacheConfig())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(cfg.DataDir, "db"), cfg.DatabasePath())
}

func TestParse_OverridesOnlyGivenKeys(t *testing.T) {
	input := `
data_dir: /var/lib/knowmesh
log_level: debug
ai:
  embedding_model: nomic-embed-text
  auto_tag: true
graph:
  learning_rate: 0.25
search:
  max_results: 20
  query_cache_ttl: 90s
predict:
  debounce: 250ms
sources:
  - path: /srv/notes
    extensions: [.md, .txt]
    debounce: 1s
`
	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/knowmesh", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nomic-embed-text", cfg.AI.EmbeddingModel)
	assert.True(t, cfg.AI.AutoTag)

	g := cfg.GraphConfig()
	assert.Equal(t, 0.25, g.LearningRate)
	assert.Equal(t, 0.98, g.DecayPerDay, "untouched keys keep their defaults")

	assert.Equal(t, 20, cfg.SearchConfig().MaxResults)
	assert.Equal(t, 90*time.Second, cfg.SearchConfig().QueryCacheTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.PredictConfig().Debounce)

	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, []string{".md", ".txt"}, cfg.Sources[0].Extensions)
	assert.Equal(t, time.Second, cfg.Sources[0].Debounce)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Graph, cfg.Graph)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "unknown key",
			input:   "graph:\n  learnin_rate: 0.2\n",
			wantErr: ErrUnknownKey,
		},
		{
			name:    "bad log level",
			input:   "log_level: loud\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "graph thresholds out of order",
			input:   "graph:\n  established_threshold: 0.8\n  strong_threshold: 0.5\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "search weights",
			input:   "search:\n  semantic_weight: 0.9\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "source without path",
			input:   "sources:\n  - extensions: [.md]\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "extension without dot",
			input:   "sources:\n  - path: /tmp\n    extensions: [md]\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "min importance",
			input:   "ai:\n  min_importance: 11\n",
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse(strings.NewReader("graph: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o600))

	t.Setenv(EnvAPIToken, "secret")
	t.Setenv(EnvDataDir, dir)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.AI.APIToken)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoad_NoPath(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWrite_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Graph.LearningRate = 0.4
	cfg.Sources = []Source{{Path: "/srv/notes", Extensions: []string{".md"}}}

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	assert.Contains(t, buf.String(), "learning_rate: 0.4")

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestAIConfig_TaggerHostFallsBack(t *testing.T) {
	cfg := Default()
	cfg.AI.EmbeddingHost = "http://gpu:8080"
	cfg.AI.TaggerHost = ""

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://gpu:8080/v1", aiCfg.TaggerHost)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "notes"), expandHome("~/notes"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
