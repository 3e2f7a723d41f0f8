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


// Package graph implements the synaptic network: a weighted directed graph
// of nodes whose edges are strengthened by usage feedback and decay with
// time.
//
// Edge weights follow a Hebbian update,
//
//	w' = w + rate * quality * (1 - w)
//
// which never leaves [0,1]. Co-activations of nodes that were barely linked
// are boosted. Decay is applied lazily when an edge is read, as
// w * factor^days since the edge was last reinforced, so idle edges are
// never rewritten.
//
// Mutations are serialized per source node; reads proceed in parallel.
package graph
