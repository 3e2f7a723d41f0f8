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


// Package ingestion turns source documents into network nodes.
//
// The Pipeline embeds document content through the embedding cache,
// optionally tags it with an LLM, and upserts the result into the synaptic
// network. Sync pulls a ContentSource's change feed and records a
// per-source checkpoint so later runs only see newer documents.
//
// Tagging runs concurrently on a worker pool. Tagging failures are logged
// and never fail an index run.
package ingestion
