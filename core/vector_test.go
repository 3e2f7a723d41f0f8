package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0.0},
		{-0.3, 0.7, 0.2},
		{0.001, -5, 12},
		FallbackVector("alpha", 3),
	}

	t.Run("self similarity is one", func(t *testing.T) {
		for _, a := range vectors {
			sim, err := CosineSimilarity(a, a)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, sim, 1e-6)
		}
	})

	t.Run("symmetric and bounded", func(t *testing.T) {
		for _, a := range vectors {
			for _, b := range vectors {
				ab, err := CosineSimilarity(a, b)
				require.NoError(t, err)
				ba, err := CosineSimilarity(b, a)
				require.NoError(t, err)
				assert.Equal(t, ab, ba)
				assert.GreaterOrEqual(t, ab, -1.0)
				assert.LessOrEqual(t, ab, 1.0)
			}
		}
	})

	t.Run("opposite vectors", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{1, 2}, []float32{-1, -2})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, sim, 1e-9)
	})

	t.Run("zero vector", func(t *testing.T) {
		sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2})
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim)
	})

	t.Run("dimension mismatch fails fast", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2})
		assert.ErrorIs(t, err, ErrInvalidDimension)
	})

	t.Run("empty vector", func(t *testing.T) {
		_, err := CosineSimilarity(nil, []float32{1})
		assert.ErrorIs(t, err, ErrEmptyVector)
	})
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestFallbackVector(t *testing.T) {
	a := FallbackVector("some content", 768)
	b := FallbackVector("some content", 768)
	c := FallbackVector("other content", 768)

	require.Len(t, a, 768)
	assert.Equal(t, a, b, "fallback vectors must be deterministic")
	assert.NotEqual(t, a, c)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)

	assert.Nil(t, FallbackVector("x", 0))
}
