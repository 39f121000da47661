// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Engram Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package embedder turns text into fixed-dimension float32 vectors.
//
// The service degrades gracefully without one: the Noop implementation
// reports dimension 0, which downstream components read as "skip the
// semantic lane".
package embedder

import "context"

// Embedder is the single capability the memory engine needs from an
// embedding model. A single instance is safe for concurrent Embed calls.
type Embedder interface {
	// Embed returns the vector for text. Implementations must return
	// vectors of exactly Dimension() length, or empty when disabled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension is the vector length, 0 when embeddings are disabled.
	Dimension() int

	// Model identifies the underlying model, for diagnostics.
	Model() string
}

// Noop is the disabled-embeddings fallback. It returns empty vectors
// and dimension 0.
type Noop struct{}

var _ Embedder = (*Noop)(nil)

// NewNoop creates the no-op embedder.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Embed(context.Context, string) ([]float32, error) { return nil, nil }

func (*Noop) Dimension() int { return 0 }

func (*Noop) Model() string { return "none" }

// Enabled reports whether e can produce usable vectors.
func Enabled(e Embedder) bool {
	return e != nil && e.Dimension() > 0
}
