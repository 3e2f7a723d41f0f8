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


package core

import (
	"fmt"
	"sync"

	playground "github.com/go-playground/validator/v10"
)

// validator returns the shared struct validator. Validate instances cache
// struct metadata and are safe for concurrent use.
var validator = sync.OnceValue(func() *playground.Validate {
	return playground.New(playground.WithRequiredStructEnabled())
})

// ValidateNode validates a Node according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - Vector must not be empty (nodes are never partially embedded)
//   - Model must not be empty
func ValidateNode(node *Node) error {
	if node == nil {
		return fmt.Errorf("%w: node is nil", ErrInvalidNode)
	}
	if node.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidNode, ErrEmptyNodeID)
	}
	if len(node.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidNode, ErrEmptyVector)
	}
	if node.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidNode)
	}
	return nil
}

// ValidateWorkContext validates a WorkContext.
func ValidateWorkContext(wc WorkContext) error {
	if err := validator().Struct(wc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkContext, err)
	}
	return nil
}

// ValidateManifest validates a PreloadManifest.
func ValidateManifest(m PreloadManifest) error {
	if err := validator().Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return nil
}
