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


package embedcache

import "errors"

var (
	// ErrEmbedderRequired is returned when no embedding provider is configured.
	ErrEmbedderRequired = errors.New("embedding provider is required")

	// ErrUnknownModel is returned when a caller asks for a model no provider serves.
	ErrUnknownModel = errors.New("unknown embedding model")

	// ErrProviderUnavailable marks a failed provider call. It is recovered
	// with a fallback vector and never returned by GetEmbedding.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyText is returned when there is nothing to embed.
	ErrEmptyText = errors.New("text is empty")

	// ErrInvalidConfig is returned for out-of-range tunables.
	ErrInvalidConfig = errors.New("invalid embedding cache configuration")
)
