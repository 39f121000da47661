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

package contextbuilder_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/contextbuilder"
	"github.com/engram-ai/engram/pkg/memory"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "engram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, nil }
func (f *fixedEmbedder) Dimension() int                                   { return len(f.vec) }
func (f *fixedEmbedder) Model() string                                    { return "fixed" }

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, contextbuilder.EstimateTokens(""))
	assert.Equal(t, 1, contextbuilder.EstimateTokens("ab"))
	assert.Equal(t, 25, contextbuilder.EstimateTokens(strings.Repeat("x", 100)))
}

func TestFormatEntry(t *testing.T) {
	e := &memory.Entry{Type: memory.TypeFact, Importance: 7, Content: "the sky is blue"}
	assert.Equal(t, "[fact|imp:7] the sky is blue", contextbuilder.FormatEntry(e))

	e.Tags = []string{"nature", "color"}
	assert.Equal(t, "[fact|imp:7] the sky is blue\n  tags: nature, color",
		contextbuilder.FormatEntry(e))
}

func TestBuildEmptyStore(t *testing.T) {
	b, err := contextbuilder.New(newTestStore(t), nil)
	require.NoError(t, err)

	res, err := b.Build(context.Background(), contextbuilder.Request{Prompt: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Context)
	assert.Zero(t, res.MemoriesUsed)
	assert.Zero(t, res.TokenCount)
	assert.False(t, res.Truncated)
}

func TestBuildIncludesRelevantMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Store(ctx, &memory.Entry{
		Content:    "User prefers Python for scripting",
		Type:       memory.TypePreference,
		Importance: 8,
	})
	require.NoError(t, err)
	_, _, err = store.Store(ctx, &memory.Entry{
		Content:    "Completely unrelated trivia about llamas",
		Importance: 2,
	})
	require.NoError(t, err)

	b, err := contextbuilder.New(store, nil)
	require.NoError(t, err)
	res, err := b.Build(ctx, contextbuilder.Request{Prompt: "Python scripting", MaxTokens: 500})
	require.NoError(t, err)

	assert.Contains(t, res.Context, "## Relevant Context")
	assert.Contains(t, res.Context, "Python")
	assert.Contains(t, res.Context, "[preference|imp:8]")
	assert.GreaterOrEqual(t, res.MemoriesUsed, 1)
	assert.NotEmpty(t, res.MemoryIDs)
}

func TestBuildPriorityLaneWithoutPromptMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Store(ctx, &memory.Entry{
		Content:    "Always run the linter before pushing",
		Importance: 9,
	})
	require.NoError(t, err)

	b, err := contextbuilder.New(store, nil)
	require.NoError(t, err)
	res, err := b.Build(ctx, contextbuilder.Request{Prompt: "zzz unrelated zzz", MaxTokens: 500})
	require.NoError(t, err)

	assert.Equal(t, 1, res.MemoriesUsed, "priority recall surfaces important memories")
	assert.Contains(t, res.Context, "linter")
}

func TestBuildTokenBudget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, _, err := store.Store(ctx, &memory.Entry{
			Content:    strings.Repeat("padding words here ", 10) + string(rune('a'+i)),
			Importance: 8,
		})
		require.NoError(t, err)
	}

	b, err := contextbuilder.New(store, nil)
	require.NoError(t, err)
	res, err := b.Build(ctx, contextbuilder.Request{Prompt: "padding", MaxTokens: 100})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.GreaterOrEqual(t, res.MemoriesUsed, 1, "at least one entry when candidates exist")
	assert.LessOrEqual(t, res.TokenCount, 120, "header margin tolerated")
}

func TestBuildSemanticLane(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Store(ctx, &memory.Entry{
		Content:    "semantic only entry about deployments",
		Importance: 5,
		Embedding:  []float32{1, 0, 0},
	})
	require.NoError(t, err)

	b, err := contextbuilder.New(store, &fixedEmbedder{vec: []float32{1, 0, 0}})
	require.NoError(t, err)

	// The prompt shares no keywords; only the semantic lane can find it.
	res, err := b.Build(ctx, contextbuilder.Request{
		Prompt: "shipping code to production", MaxTokens: 500, MinImportance: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MemoriesUsed)
	assert.Contains(t, res.Context, "deployments")
}

func TestBuildNoEmbedderSkipsSemanticLane(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Store(ctx, &memory.Entry{
		Content:   "only reachable semantically",
		Embedding: []float32{1, 0},
	})
	require.NoError(t, err)

	b, err := contextbuilder.New(store, nil)
	require.NoError(t, err)
	res, err := b.Build(ctx, contextbuilder.Request{
		Prompt: "unrelated words entirely", MaxTokens: 500, MinImportance: 7,
	})
	require.NoError(t, err)
	assert.Zero(t, res.MemoriesUsed, "no embedder, no semantic lane")
}
