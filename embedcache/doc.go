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


// Package embedcache memoizes text embeddings.
//
// A Cache sits in front of one or more ai.Embedder providers. Lookups are
// keyed by a hash of the normalized, token-budgeted text and the model name.
// Entries expire after a TTL, are invalidated by a version bump and are
// evicted oldest-first beyond a size bound.
//
// When the provider fails (or its circuit breaker is open) the cache returns
// a deterministic vector derived from the content hash, flagged Degraded.
// Fallback vectors are never cached, so the next lookup retries the provider.
//
// State lives in memory and is persisted through a
// storage.EmbeddingCacheRepository: Load at startup, Flush periodically and
// when enough entries are dirty, Close at shutdown.
package embedcache
