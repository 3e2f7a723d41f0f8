package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCacheRepository(t *testing.T) {
	repos, backend := newTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	entries := []core.CacheEntry{
		{Key: "k1", Model: "m", Vector: []float32{1, 2}, Tokens: 3, Timestamp: now, Version: 1},
		{Key: "k2", Model: "m", Vector: []float32{3, 4}, Tokens: 5, Timestamp: now, Version: 1},
	}
	require.NoError(t, repos.Cache.PutEntries(ctx, entries...))

	load := func() map[string]core.CacheEntry {
		got := map[string]core.CacheEntry{}
		require.NoError(t, repos.Cache.LoadEntries(ctx, func(e core.CacheEntry) error {
			got[e.Key] = e
			return nil
		}))
		return got
	}

	got := load()
	assert.Equal(t, entries[0], got["k1"])
	assert.Equal(t, entries[1], got["k2"])

	require.NoError(t, repos.Cache.DeleteEntries(ctx, "k1", "unknown"))
	assert.Len(t, load(), 1)

	t.Run("corrupt entry", func(t *testing.T) {
		require.NoError(t, backend.Batch(ctx, func(wb *badger.WriteBatch) error {
			return wb.Set(makeEmbeddingKey("bad"), []byte{1, 2, 3})
		}))
		err := repos.Cache.LoadEntries(ctx, func(core.CacheEntry) error { return nil })
		assert.ErrorIs(t, err, storage.ErrCorrupted)

		require.NoError(t, repos.Cache.ClearEntries(ctx))
		assert.Empty(t, load())
	})
}

func TestPatternRepository(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := core.TemporalPattern{Slot: core.SlotMorning, Day: time.Monday, Frequency: 1, Tasks: []string{"auth"}, Confidence: 0.1, LastSeen: now}
	require.NoError(t, repos.Patterns.PutPatterns(ctx, p))

	p.Frequency = 2
	require.NoError(t, repos.Patterns.PutPatterns(ctx, p))

	patterns, err := repos.Patterns.LoadPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, uint64(2), patterns[0].Frequency)

	require.NoError(t, repos.Patterns.ClearPatterns(ctx))
	patterns, err = repos.Patterns.LoadPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestCheckpointRepository(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	cp, err := repos.Checkpoints.LoadCheckpoint(ctx, "fs:/notes")
	require.NoError(t, err)
	assert.Nil(t, cp)

	since := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repos.Checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Source: "fs:/notes", Since: since}))

	cp, err = repos.Checkpoints.LoadCheckpoint(ctx, "fs:/notes")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, since.Equal(cp.Since))
	assert.False(t, cp.UpdatedAt.IsZero())
}

func TestMetaRepository(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	_, found, err := repos.Meta.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repos.Meta.SetSchemaVersion(ctx, 3))
	v, found, err := repos.Meta.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(3), v)
}
