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


// Package knowmesh wires the embedding cache, synaptic network, search
// engine and predictive engine into one Mesh with a defined lifecycle:
// Open loads persisted state and starts the background tasks, Close stops
// them and flushes everything.
//
//	mesh, err := knowmesh.Open(ctx,
//	    knowmesh.WithPath("~/.knowmesh/db"),
//	    knowmesh.WithAIConfig(ai.NewConfig(ai.WithHost("http://localhost:11434"))),
//	)
//	if err != nil {
//	    return err
//	}
//	defer mesh.Close(ctx)
//
//	resp, err := mesh.Search(ctx, "rate limiting", core.Filters{}, core.SearchContext{})
package knowmesh
