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


package ingestion

import (
	"context"

	"github.com/poiesic/knowmesh/core"
)

// pending is one document on its way to becoming a node.
type pending struct {
	doc    core.SourceDocument
	node   core.Node
	tagged bool
}

// processor is one enrichment step applied to a batch in place.
type processor interface {
	process(ctx context.Context, batch []*pending) error
}
