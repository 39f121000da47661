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

package memory_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/memory"
)

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"punctuation only", "!@#$%", ""},
		{"single word", "python", `"python"`},
		{"two words", "python sqlite", `"python" OR "sqlite"`},
		{"strips punctuation", `SELECT * FROM "users";`, `"SELECT" OR "FROM" OR "users"`},
		{"unicode kept", "café rústico", `"café" OR "rústico"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, memory.SanitizeFTSQuery(tt.in))
		})
	}
}

func TestSanitizeFTSQueryCapsWords(t *testing.T) {
	words := make([]string, 20)
	for i := range words {
		words[i] = "word" + string(rune('a'+i))
	}
	out := memory.SanitizeFTSQuery(strings.Join(words, " "))
	assert.Equal(t, 10, strings.Count(out, " OR ")+1)
}

func TestSearchTextEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, _, err := store.Store(ctx, &memory.Entry{Content: "some indexed content"})
	require.NoError(t, err)

	for _, q := range []string{"", "   ", "!@#$%"} {
		results, err := store.SearchText(ctx, q, "", 10)
		require.NoError(t, err)
		assert.Empty(t, results, "query %q", q)
	}
}

func TestSearchTextEmptyCorpus(t *testing.T) {
	store := newTestStore(t)
	results, err := store.SearchText(context.Background(), "anything", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchTextNamespaceFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Store(ctx, &memory.Entry{Content: "golang tips for work", Namespace: "work"})
	require.NoError(t, err)
	_, _, err = store.Store(ctx, &memory.Entry{Content: "golang tips for home", Namespace: "home"})
	require.NoError(t, err)

	results, err := store.SearchText(ctx, "golang", "work", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "work", results[0].Memory.Namespace)
}

func TestSearchTextMatchesTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Store(ctx, &memory.Entry{
		Content: "completely unrelated body",
		Tags:    []string{"kubernetes"},
	})
	require.NoError(t, err)

	results, err := store.SearchText(ctx, "kubernetes", "", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1, "tags are indexed into FTS")
}

func TestSearchTextSkipsExpiredViaFTS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	_, _, err := store.Store(ctx, &memory.Entry{
		Content:   "deployment checklist from last quarter",
		CreatedAt: past.Add(-time.Hour),
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, _, err = store.Store(ctx, &memory.Entry{
		Content: "deployment runs through the release workflow",
	})
	require.NoError(t, err)

	results, err := store.SearchText(ctx, "deployment", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "deployment runs through the release workflow", results[0].Memory.Content)
	// The live row must come from the indexed lane, not the fallback.
	assert.Equal(t, memory.MatchFTS, results[0].MatchType)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestComputeDecay(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	fresh := memory.ComputeDecay(now, 5, 0, memory.DefaultDecayRate, now)
	assert.InDelta(t, 1.0, fresh, 1e-9)

	oldLow := memory.ComputeDecay(now.Add(-1000*time.Hour), 1, 0, memory.DefaultDecayRate, now)
	oldHigh := memory.ComputeDecay(now.Add(-1000*time.Hour), 10, 0, memory.DefaultDecayRate, now)
	assert.Less(t, oldLow, oldHigh, "importance slows decay")

	rarely := memory.ComputeDecay(now.Add(-1000*time.Hour), 5, 0, memory.DefaultDecayRate, now)
	often := memory.ComputeDecay(now.Add(-1000*time.Hour), 5, 50, memory.DefaultDecayRate, now)
	assert.Less(t, rarely, often, "access count slows decay")

	future := memory.ComputeDecay(now.Add(time.Hour), 5, 0, memory.DefaultDecayRate, now)
	assert.InDelta(t, 1.0, future, 1e-9, "clock skew clamps to fresh")
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	assert.Equal(t, vec, memory.DecodeEmbedding(memory.EncodeEmbedding(vec)))
	assert.Nil(t, memory.EncodeEmbedding(nil))
	assert.Nil(t, memory.DecodeEmbedding(nil))
	assert.Nil(t, memory.DecodeEmbedding([]byte{1, 2, 3}), "misaligned blob")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, memory.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, memory.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, memory.CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2}), "dimension mismatch")
	assert.Zero(t, memory.CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero norm")
}

func TestParseType(t *testing.T) {
	typ, err := memory.ParseType("preference")
	require.NoError(t, err)
	assert.Equal(t, memory.TypePreference, typ)

	typ, err = memory.ParseType("")
	require.NoError(t, err)
	assert.Equal(t, memory.TypeFact, typ)

	_, err = memory.ParseType("bogus")
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
}
