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


// Package mock provides test double implementations of AI service interfaces.
//
// The mocks let tests run without external AI services and give controlled,
// deterministic behavior.
//
// # Usage in Tests
//
//	// Deterministic vectors derived from the text
//	embedder := mock.NewMockEmbedder()
//	v, err := embedder.EmbedText(ctx, "test")
//
//	// Pin a vector, or simulate an outage
//	embedder.WithVector("query", []float32{1, 0, 0})
//	embedder.FailWith(errors.New("connection refused"))
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockTagger: Tags a document with its first distinct longer words
//   - MockProvider: Aggregates mock embedder and tagger
package mock
