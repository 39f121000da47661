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
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/memory"
)

func storeMemory(t *testing.T, store *memory.Store, content string) int64 {
	t.Helper()
	id, _, err := store.Store(context.Background(), &memory.Entry{Content: content})
	require.NoError(t, err)
	return id
}

func TestLinkAndUnlink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storeMemory(t, store, "memory A content")
	b := storeMemory(t, store, "memory B content")

	linkID, err := store.Link(ctx, a, b, memory.RelationCausedBy, nil)
	require.NoError(t, err)
	assert.NotZero(t, linkID)

	_, err = store.Link(ctx, a, b, memory.RelationCausedBy, nil)
	assert.ErrorIs(t, err, memory.ErrDuplicate)

	// Different relation on the same pair is a new edge.
	_, err = store.Link(ctx, a, b, memory.RelationRelated, nil)
	require.NoError(t, err)

	ok, err := store.Unlink(ctx, linkID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Unlink(ctx, linkID)
	require.NoError(t, err)
	assert.False(t, ok, "unlink is idempotent")
}

func TestLinkMissingEndpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storeMemory(t, store, "only endpoint present")
	_, err := store.Link(ctx, a, 999, memory.RelationRelated, nil)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestLinksDirection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storeMemory(t, store, "memory A content")
	b := storeMemory(t, store, "memory B content")
	c := storeMemory(t, store, "memory C content")

	_, err := store.Link(ctx, a, b, memory.RelationRelated, nil)
	require.NoError(t, err)
	_, err = store.Link(ctx, c, a, memory.RelationDependsOn, nil)
	require.NoError(t, err)

	out, err := store.Links(ctx, a, memory.DirectionOutgoing, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b, out[0].TargetID)
	assert.Equal(t, "memory B content", out[0].Content)

	in, err := store.Links(ctx, a, memory.DirectionIncoming, "")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c, in[0].SourceID)

	both, err := store.Links(ctx, a, memory.DirectionBoth, "")
	require.NoError(t, err)
	assert.Len(t, both, 2)

	filtered, err := store.Links(ctx, a, memory.DirectionBoth, memory.RelationDependsOn)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)
}

func TestDeleteCascadesLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storeMemory(t, store, "memory A content")
	b := storeMemory(t, store, "memory B content")
	_, err := store.Link(ctx, a, b, memory.RelationRelated, nil)
	require.NoError(t, err)

	ok, err := store.Delete(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)

	links, err := store.Links(ctx, b, memory.DirectionBoth, "")
	require.NoError(t, err)
	assert.Empty(t, links, "deleting an endpoint removes its links")
}

func TestGraphCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storeMemory(t, store, "memory A content")
	b := storeMemory(t, store, "memory B content")
	c := storeMemory(t, store, "memory C content")

	for _, pair := range [][2]int64{{a, b}, {b, c}, {c, a}} {
		_, err := store.Link(ctx, pair[0], pair[1], memory.RelationRelated, nil)
		require.NoError(t, err)
	}

	graph, err := store.GraphTraverse(ctx, a, 5, "")
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 3)
	assert.Len(t, graph.Edges, 3)

	seen := map[int64]bool{}
	for _, n := range graph.Nodes {
		assert.False(t, seen[n.ID], "no node appears twice")
		seen[n.ID] = true
	}
	for _, e := range graph.Edges {
		assert.True(t, seen[e.SourceID] && seen[e.TargetID],
			"edges connect only returned nodes")
	}
}

func TestGraphDepthOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storeMemory(t, store, "root memory content")
	b := storeMemory(t, store, "neighbor memory content")
	c := storeMemory(t, store, "distant memory content")

	_, err := store.Link(ctx, a, b, memory.RelationRelated, nil)
	require.NoError(t, err)
	_, err = store.Link(ctx, b, c, memory.RelationRelated, nil)
	require.NoError(t, err)

	graph, err := store.GraphTraverse(ctx, a, 1, "")
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 2, "root and immediate neighbors only")
	for _, n := range graph.Nodes {
		assert.LessOrEqual(t, n.Depth, 1)
	}
}

func TestGraphDepthClamped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Chain of 8; depth 20 must clamp to 5.
	ids := make([]int64, 8)
	for i := range ids {
		ids[i] = storeMemory(t, store, "chain memory content number "+string(rune('A'+i)))
	}
	for i := 0; i < len(ids)-1; i++ {
		_, err := store.Link(ctx, ids[i], ids[i+1], memory.RelationRelated, nil)
		require.NoError(t, err)
	}

	graph, err := store.GraphTraverse(ctx, ids[0], 20, "")
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 6, "root plus five levels")
	for _, n := range graph.Nodes {
		assert.LessOrEqual(t, n.Depth, 5)
	}
}

func TestGraphTruncatesContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	id := storeMemory(t, store, string(long))

	graph, err := store.GraphTraverse(ctx, id, 1, "")
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	assert.Len(t, graph.Nodes[0].Content, 200)
}

func TestGraphTruncatesOnRuneBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 300 two-byte runes; a byte-wise cut at 200 would split one.
	id := storeMemory(t, store, strings.Repeat("é", 300))

	graph, err := store.GraphTraverse(ctx, id, 1, "")
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)

	content := graph.Nodes[0].Content
	assert.True(t, utf8.ValidString(content))
	assert.Equal(t, 200, utf8.RuneCountInString(content))
}

func TestGraphRootNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GraphTraverse(context.Background(), 42, 3, "")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}
