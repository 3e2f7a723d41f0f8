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


// Package predict forecasts what the user will need next.
//
// The Engine follows the user's work context, learns which tasks and files
// recur in each time slot of the week, and turns that together with the
// synaptic network into ranked proactive insights and preload manifests.
// Background refresh and cleanup run on a gocron scheduler driven by an
// injectable clock.
package predict
