package core

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// NormalizeText canonicalizes text before hashing or embedding: it collapses
// runs of whitespace into single spaces and trims the ends.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// CacheKey returns the embedding cache key for normalized text and a model.
func CacheKey(normalizedText, model string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(normalizedText))
	return hex.EncodeToString(h.Sum(nil))
}

// NodeIDFromPath derives a stable node id from a source path.
func NodeIDFromPath(path string) string {
	h, _ := blake2b.New(12, nil)
	h.Write([]byte(path))
	return hex.EncodeToString(h.Sum(nil))
}
