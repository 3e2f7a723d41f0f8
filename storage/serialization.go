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


package storage

import (
	"fmt"

	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/knowmesh/core"
)

type codec[T any] interface {
	Size(v T) int
	Marshal(v T, bs []byte) int
	Unmarshal(bs []byte) (T, int, error)
}

func marshal[T any](c codec[T], v T) []byte {
	buf := make([]byte, c.Size(v))
	c.Marshal(v, buf)
	return buf
}

func unmarshal[T any](c codec[T], data []byte, what string) (T, error) {
	v, n, err := c.Unmarshal(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("%d trailing bytes", len(data)-n)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %w", ErrCorrupted, what, err)
	}
	return v, nil
}

// MarshalNode serializes a Node to bytes.
func MarshalNode(node core.Node) []byte { return marshal[core.Node](core.NodeMUS, node) }

// UnmarshalNode deserializes a Node. Failures wrap ErrCorrupted.
func UnmarshalNode(data []byte) (core.Node, error) { return unmarshal[core.Node](core.NodeMUS, data, "node") }

// MarshalEdge serializes an Edge to bytes.
func MarshalEdge(edge core.Edge) []byte { return marshal[core.Edge](core.EdgeMUS, edge) }

// UnmarshalEdge deserializes an Edge. Failures wrap ErrCorrupted.
func UnmarshalEdge(data []byte) (core.Edge, error) { return unmarshal[core.Edge](core.EdgeMUS, data, "edge") }

// MarshalCacheEntry serializes a CacheEntry to bytes.
func MarshalCacheEntry(entry core.CacheEntry) []byte { return marshal[core.CacheEntry](core.CacheEntryMUS, entry) }

// UnmarshalCacheEntry deserializes a CacheEntry. Failures wrap ErrCorrupted.
func UnmarshalCacheEntry(data []byte) (core.CacheEntry, error) {
	return unmarshal[core.CacheEntry](core.CacheEntryMUS, data, "cache entry")
}

// MarshalPattern serializes a TemporalPattern to bytes.
func MarshalPattern(p core.TemporalPattern) []byte { return marshal[core.TemporalPattern](core.TemporalPatternMUS, p) }

// UnmarshalPattern deserializes a TemporalPattern. Failures wrap ErrCorrupted.
func UnmarshalPattern(data []byte) (core.TemporalPattern, error) {
	return unmarshal[core.TemporalPattern](core.TemporalPatternMUS, data, "temporal pattern")
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	return marshal[core.Checkpoint](core.CheckpointMUS, *checkpoint)
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	checkpoint, err := unmarshal[core.Checkpoint](core.CheckpointMUS, data, "checkpoint")
	if err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

// MarshalVersion serializes a schema version.
func MarshalVersion(v uint32) []byte {
	buf := make([]byte, varint.Uint32.Size(v))
	varint.Uint32.Marshal(v, buf)
	return buf
}

// UnmarshalVersion deserializes a schema version.
func UnmarshalVersion(data []byte) (uint32, error) {
	v, _, err := varint.Uint32.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: schema version: %w", ErrCorrupted, err)
	}
	return v, nil
}
