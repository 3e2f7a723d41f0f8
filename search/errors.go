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


package search

import "errors"

var (
	// ErrEmbeddingCacheRequired is returned when an embedding cache is not provided.
	ErrEmbeddingCacheRequired = errors.New("embedding cache required")

	// ErrNetworkRequired is returned when a synaptic network is not provided.
	ErrNetworkRequired = errors.New("synaptic network required")

	// ErrUnknownOutcome is returned for feedback outcomes with no signal.
	ErrUnknownOutcome = errors.New("unknown feedback outcome")

	// ErrQueryNotFound is returned for feedback on a query that was not
	// searched recently.
	ErrQueryNotFound = errors.New("query not found")

	// ErrInvalidConfig is returned when engine tunables are out of range.
	ErrInvalidConfig = errors.New("invalid search configuration")
)
