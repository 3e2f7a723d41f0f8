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


// Package search ranks nodes of the synaptic network against a query.
//
// The Engine combines three signals into a single score:
//   - Semantic similarity between the enhanced query and node embeddings
//   - Context overlap with the caller's active files and recent queries
//   - Temporal freshness of the node's content
//
// Ranked result sets are cached per enhanced query and filter set. Feedback
// on results is translated into reinforcement of the network.
package search
