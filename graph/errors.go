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


package graph

import "errors"

var (
	// ErrNodeNotFound is returned when an operation names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidQuality is returned when a reinforcement quality is outside [0,1].
	ErrInvalidQuality = errors.New("quality must be within [0,1]")

	// ErrInvalidConfig is returned when network tunables are out of range.
	ErrInvalidConfig = errors.New("invalid network configuration")
)
