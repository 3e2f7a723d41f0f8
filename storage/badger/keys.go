package badger

import (
	"bytes"
	"fmt"
)

// Key prefixes for different data types
const (
	embeddingPrefix  = "emb:"
	nodePrefix       = "node:"
	edgePrefix       = "edge:"
	edgeInPrefix     = "edgein:"
	patternPrefix    = "pat:"
	checkpointPrefix = "chkpt:"
	schemaVersionKey = "meta:schema"
)

// keySep separates the two node ids of an edge key. Node ids never contain it.
const keySep = 0x00

func makeEmbeddingKey(cacheKey string) []byte {
	return []byte(embeddingPrefix + cacheKey)
}

func makeNodeKey(id string) []byte {
	return []byte(nodePrefix + id)
}

// makeEdgeKey generates the primary key of an edge.
// Format: prefix:source\x00target
func makeEdgeKey(source, target string) []byte {
	return joinKey(edgePrefix, source, target)
}

// makeEdgeInKey generates the reverse index entry of an edge so incoming
// edges can be found by target.
// Format: prefix:target\x00source
func makeEdgeInKey(target, source string) []byte {
	return joinKey(edgeInPrefix, target, source)
}

// makePartialEdgeKey generates the prefix shared by every outgoing edge of source.
func makePartialEdgeKey(source string) []byte {
	return append([]byte(edgePrefix+source), keySep)
}

// makePartialEdgeInKey generates the prefix shared by every incoming edge of target.
func makePartialEdgeInKey(target string) []byte {
	return append([]byte(edgeInPrefix+target), keySep)
}

func joinKey(prefix, a, b string) []byte {
	buf := make([]byte, 0, len(prefix)+len(a)+1+len(b))
	buf = append(buf, prefix...)
	buf = append(buf, a...)
	buf = append(buf, keySep)
	return append(buf, b...)
}

// splitPair splits "a\x00b" into its halves.
func splitPair(key []byte) (string, string, error) {
	a, b, ok := bytes.Cut(key, []byte{keySep})
	if !ok {
		return "", "", fmt.Errorf("malformed edge key %q", key)
	}
	return string(a), string(b), nil
}

func makePatternKey(key string) []byte {
	return []byte(patternPrefix + key)
}

// makeCheckpointKey generates a key for source checkpoints.
func makeCheckpointKey(source string) []byte {
	return []byte(checkpointPrefix + source)
}
