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

import "errors"

// Domain validation errors
var (
	// ErrInvalidDimension indicates two vectors of different dimensions were compared.
	ErrInvalidDimension = errors.New("embedding dimension mismatch")

	// ErrEmptyVector indicates a zero-length vector where one is required.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrInvalidNode indicates a Node failed validation.
	ErrInvalidNode = errors.New("invalid node")

	// ErrEmptyNodeID indicates the node ID is empty.
	ErrEmptyNodeID = errors.New("node id cannot be empty")

	// ErrInvalidInsight indicates an Insight failed validation at construction.
	ErrInvalidInsight = errors.New("invalid insight")

	// ErrInvalidManifest indicates a PreloadManifest failed validation.
	ErrInvalidManifest = errors.New("invalid preload manifest")

	// ErrInvalidWorkContext indicates a WorkContext failed validation.
	ErrInvalidWorkContext = errors.New("invalid work context")
)
