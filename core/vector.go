package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-crypt/x/blake2b"
)

// CosineSimilarity computes the cosine similarity between two vectors.
// The result is clamped to [-1, 1]. Vectors of different dimensions are
// never truncated or padded: the comparison fails with ErrInvalidDimension.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrInvalidDimension, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return math.Max(-1, math.Min(1, dot/denom)), nil
}

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	result := make([]float32, len(v))
	var magnitude float64
	for _, val := range v {
		magnitude += float64(val) * float64(val)
	}
	if magnitude == 0 {
		return result
	}
	magnitude = math.Sqrt(magnitude)
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}

// FallbackVector derives a deterministic unit vector of the given dimension
// from a hash of the text. It has the shape of a real embedding but carries
// no semantic meaning; callers must flag anything built on it as degraded.
func FallbackVector(text string, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	vector := make([]float32, dim)
	var block []byte
	var counter [8]byte
	for i := 0; i < dim; i++ {
		if i%16 == 0 {
			h, _ := blake2b.New(64, nil)
			binary.LittleEndian.PutUint64(counter[:], uint64(i/16))
			h.Write(counter[:])
			h.Write([]byte(text))
			block = h.Sum(nil)
		}
		word := binary.LittleEndian.Uint32(block[(i%16)*4:])
		// Map to [-1, 1)
		vector[i] = float32(word)/float32(math.MaxUint32)*2 - 1
	}
	return NormalizeVector(vector)
}
