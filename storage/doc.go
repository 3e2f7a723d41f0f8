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


// Package storage provides the storage abstraction layer for knowmesh.
//
// This package defines repository interfaces that decouple persistence from
// the in-memory services that own the live state (the embedding cache, the
// synaptic network and the predictive engine). Services load their state at
// startup, mutate it in memory and flush dirty values back through these
// repositories.
//
// # Architecture
//
//   - EmbeddingCacheRepository: persisted embedding cache entries
//   - GraphRepository: nodes and weighted edges of the network
//   - PatternRepository: temporal work patterns
//   - CheckpointRepository: content-source sync progress
//   - MetaRepository: persisted schema version
//
// The storage/badger package implements all of them on a single BadgerDB
// instance:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	repos := badger.NewRepositories(backend)
//
// Use in tests with in-memory storage:
//
//	repos, backend, err := badger.NewMemoryRepositories()
//
// # Corruption
//
// A persisted value that cannot be decoded, or a store written with a
// different schema version, surfaces as ErrCorrupted. Callers treat it as a
// signal to discard the affected state and rebuild rather than as a fatal
// error.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
