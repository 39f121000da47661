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

package session_test

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveCheckpointMintsSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp, err := store.SaveCheckpoint(ctx, session.SaveRequest{
		Project: "engram",
		Summary: "initial setup complete",
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^session_\d{8}_\d{6}_[0-9a-f]{6}$`), cp.SessionID)
	assert.Equal(t, 1, cp.CheckpointNum)
	assert.Equal(t, "initial setup complete", cp.Summary)
	assert.Empty(t, cp.KeyFacts)
}

func TestCheckpointNumbersIncrement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var sessionID string
	for i := 1; i <= 3; i++ {
		cp, err := store.SaveCheckpoint(ctx, session.SaveRequest{
			Project: "engram",
			Summary: "step",
		})
		require.NoError(t, err)
		assert.Equal(t, i, cp.CheckpointNum)
		if sessionID == "" {
			sessionID = cp.SessionID
		} else {
			assert.Equal(t, sessionID, cp.SessionID, "active session is reused")
		}
	}

	sessions, err := store.ListSessions(ctx, "engram", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].CheckpointCount)
	assert.Equal(t, session.StatusActive, sessions[0].Status)
}

func TestLoadCheckpointLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveCheckpoint(ctx, session.SaveRequest{Project: "p", Summary: "first"})
	require.NoError(t, err)
	saved, err := store.SaveCheckpoint(ctx, session.SaveRequest{
		Project:       "p",
		Summary:       "second",
		KeyFacts:      []string{"uses sqlite"},
		OpenTasks:     []string{"write docs"},
		FilesModified: []string{"main.go"},
	})
	require.NoError(t, err)

	cp, err := store.LoadCheckpoint(ctx, "p", "")
	require.NoError(t, err)
	assert.Equal(t, saved.CheckpointNum, cp.CheckpointNum)
	assert.Equal(t, "second", cp.Summary)
	assert.Equal(t, []string{"uses sqlite"}, cp.KeyFacts)
	assert.Equal(t, []string{"write docs"}, cp.OpenTasks)
	assert.Equal(t, []string{"main.go"}, cp.FilesModified)
	assert.Equal(t, "p", cp.Project)
}

func TestLoadCheckpointBySessionID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.SaveCheckpoint(ctx, session.SaveRequest{Project: "p", Summary: "one"})
	require.NoError(t, err)

	cp, err := store.LoadCheckpoint(ctx, "", first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, cp.SessionID)
}

func TestLoadCheckpointNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadCheckpoint(context.Background(), "nothing", "")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRecoverContext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	out, err := store.RecoverContext(ctx, "empty-project")
	require.NoError(t, err)
	assert.Equal(t, session.FreshStartMessage, out)

	_, err = store.SaveCheckpoint(ctx, session.SaveRequest{
		Project:       "engram",
		Summary:       "refactored the storage layer",
		KeyFacts:      []string{"WAL mode enabled"},
		OpenTasks:     []string{"add metrics"},
		FilesModified: []string{"store.go"},
	})
	require.NoError(t, err)

	out, err = store.RecoverContext(ctx, "engram")
	require.NoError(t, err)
	assert.Contains(t, out, "## Session Recovery")
	assert.Contains(t, out, "**Project:** engram")
	assert.Contains(t, out, "**Checkpoint #1**")
	assert.Contains(t, out, "refactored the storage layer")
	assert.Contains(t, out, "- WAL mode enabled")
	assert.Contains(t, out, "- [ ] add metrics")
	assert.Contains(t, out, "- store.go")
}

func TestEndSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveCheckpoint(ctx, session.SaveRequest{Project: "p", Summary: "work"})
	require.NoError(t, err)

	ok, err := store.EndSession(ctx, "p")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.EndSession(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok)

	// A new checkpoint after ending starts a fresh session.
	cp, err := store.SaveCheckpoint(ctx, session.SaveRequest{Project: "p", Summary: "more"})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.CheckpointNum)
}
