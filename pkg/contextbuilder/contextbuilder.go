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

// Package contextbuilder assembles a token-budgeted context block from
// the memories most relevant to a prompt.
//
// Candidates come from three lanes: FTS search, vector search (when an
// embedder is configured), and priority recall. A memory seen from
// multiple lanes keeps its highest score.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/engram-ai/engram/pkg/embedder"
	"github.com/engram-ai/engram/pkg/memory"
)

const (
	searchLaneLimit   = 50
	priorityLaneLimit = 30
)

// Result is the assembled context plus packing metadata.
type Result struct {
	Context      string  `json:"context"`
	MemoriesUsed int     `json:"memories_used"`
	TokenCount   int     `json:"token_count"`
	Truncated    bool    `json:"truncated"`
	MemoryIDs    []int64 `json:"memory_ids"`
}

// Request parameterizes one build.
type Request struct {
	Prompt        string
	MaxTokens     int
	Namespace     string
	MinImportance int
}

// Builder composes Store queries; it holds no state of its own.
type Builder struct {
	store *memory.Store
	emb   embedder.Embedder
}

// New creates a Builder. emb may be nil; the semantic lane is then skipped.
func New(store *memory.Store, emb embedder.Embedder) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("contextbuilder: store is required")
	}
	return &Builder{store: store, emb: emb}, nil
}

// EstimateTokens approximates token count at ~4 chars per token.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// FormatEntry renders one memory as a compact context line.
func FormatEntry(e *memory.Entry) string {
	line := fmt.Sprintf("[%s|imp:%d] %s", e.Type, e.Importance, e.Content)
	if len(e.Tags) > 0 {
		line += "\n  tags: " + strings.Join(e.Tags, ", ")
	}
	return line
}

type candidate struct {
	entry *memory.Entry
	score float64
}

// Build gathers, scores, ranks, and packs candidates under the token
// budget. An empty candidate pool yields an empty Result, not an error.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2000
	}
	if req.Namespace == "" {
		req.Namespace = "default"
	}
	if req.MinImportance <= 0 {
		req.MinImportance = 3
	}

	candidates := map[int64]candidate{}
	prompt := strings.TrimSpace(req.Prompt)

	if prompt != "" {
		fts, err := b.store.SearchText(ctx, prompt, req.Namespace, searchLaneLimit)
		if err != nil {
			return nil, fmt.Errorf("context fts lane: %w", err)
		}
		mergeSearchResults(candidates, fts)

		if embedder.Enabled(b.emb) {
			vec, err := b.emb.Embed(ctx, prompt)
			if err != nil {
				// Semantic lane is best-effort; keyword lanes still serve.
				slog.Warn("Context embed failed, skipping semantic lane", "error", err)
			} else if len(vec) > 0 {
				sem, err := b.store.SearchVector(ctx, vec, req.Namespace, searchLaneLimit)
				if err != nil {
					return nil, fmt.Errorf("context semantic lane: %w", err)
				}
				mergeSearchResults(candidates, sem)
			}
		}
	}

	// Priority recall always runs so high-importance memories surface
	// even for unrelated prompts.
	priority, err := b.store.GetPriority(ctx, req.Namespace, priorityLaneLimit, req.MinImportance)
	if err != nil {
		return nil, fmt.Errorf("context priority lane: %w", err)
	}
	for _, e := range priority {
		score := float64(e.Importance) / 10.0
		if existing, ok := candidates[e.ID]; !ok || score > existing.score {
			candidates[e.ID] = candidate{entry: e, score: score}
		}
	}

	ranked := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	// Pack greedily: stop at the first entry that would overflow the
	// budget, but never return empty-handed when candidates exist.
	type selected struct {
		entry     *memory.Entry
		formatted string
	}
	var picks []selected
	totalTokens := 0
	headerTokens := 0

	for _, c := range ranked {
		formatted := FormatEntry(c.entry)
		entryTokens := EstimateTokens(formatted + "\n")
		if len(picks) > 0 {
			header := renderHeader(len(picks), totalTokens)
			headerTokens = EstimateTokens(header)
			if totalTokens+entryTokens+headerTokens > req.MaxTokens {
				break
			}
		}
		totalTokens += entryTokens
		picks = append(picks, selected{entry: c.entry, formatted: formatted})
	}

	if len(picks) == 0 {
		return &Result{MemoryIDs: []int64{}}, nil
	}

	header := renderHeader(len(picks), totalTokens)
	lines := make([]string, len(picks))
	ids := make([]int64, len(picks))
	for i, p := range picks {
		lines[i] = p.formatted
		ids[i] = p.entry.ID
	}

	return &Result{
		Context:      header + strings.Join(lines, "\n"),
		MemoriesUsed: len(picks),
		TokenCount:   EstimateTokens(header) + totalTokens,
		Truncated:    len(picks) < len(ranked),
		MemoryIDs:    ids,
	}, nil
}

func renderHeader(count, tokens int) string {
	return fmt.Sprintf("## Relevant Context (%d memories, ~%d tokens)\n\n", count, tokens)
}

// mergeSearchResults folds search hits into the candidate pool.
// Vector scores clamp to [0,1]; FTS rank normalizes as 1/(1+|rank|).
// The final lane score blends 60% relevance with 40% importance.
func mergeSearchResults(candidates map[int64]candidate, results []memory.SearchResult) {
	for _, r := range results {
		var norm float64
		if r.MatchType == memory.MatchSemantic {
			norm = clamp01(r.Score)
		} else {
			norm = clamp01(1.0 / (1.0 + abs(r.Score)))
		}
		combined := 0.6*norm + 0.4*float64(r.Memory.Importance)/10.0

		if existing, ok := candidates[r.Memory.ID]; !ok || combined > existing.score {
			candidates[r.Memory.ID] = candidate{entry: r.Memory, score: combined}
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
