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

package autosave_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/autosave"
	"github.com/engram-ai/engram/pkg/session"
)

func newAutoSave(t *testing.T, project string) *autosave.AutoSave {
	t.Helper()
	sessions, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	a, err := autosave.New(sessions, project)
	require.NoError(t, err)
	return a
}

func TestDefaultConfig(t *testing.T) {
	cfg := autosave.DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 1800, cfg.IntervalSeconds)
	assert.Equal(t, 500, cfg.MessageThreshold)
	assert.InDelta(t, 85.0, cfg.RAMThresholdPct, 0.001)
	assert.True(t, cfg.OnSessionEnd)
}

func TestMessageThresholdTrigger(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	cfg := autosave.DefaultConfig()
	cfg.MessageThreshold = 3
	a.Configure(cfg)

	// Ticks 1-2: below threshold, no checkpoint.
	for i := int64(1); i <= 2; i++ {
		a.TrackStore(i)
		res, err := a.Tick(ctx, -1)
		require.NoError(t, err)
		assert.Nil(t, res, "tick %d", i)
	}

	a.TrackStore(3)
	res, err := a.Tick(ctx, -1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, autosave.TriggerMessage, res.Reason)
	assert.Equal(t, 3, res.TotalChanges)
	assert.Contains(t, res.Summary, "[autosave:message_threshold] 3 new memories (msgs: 3)")

	status := a.Status()
	assert.Zero(t, status.MessageCount, "counter resets after checkpoint")
	assert.Zero(t, status.TotalChanges, "delta resets after checkpoint")
	assert.Equal(t, 1, status.TotalCheckpoints)
	assert.Equal(t, autosave.TriggerMessage, status.LastTrigger)
}

func TestRAMTriggerTakesPriority(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	cfg := autosave.DefaultConfig()
	cfg.MessageThreshold = 1 // message trigger would also fire
	a.Configure(cfg)

	a.TrackStore(1)
	res, err := a.Tick(ctx, 92.5)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, autosave.TriggerRAM, res.Reason)
}

func TestDisabledNeverSaves(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	cfg := autosave.DefaultConfig()
	cfg.Enabled = false
	cfg.MessageThreshold = 1
	a.Configure(cfg)

	a.TrackStore(1)
	res, err := a.Tick(ctx, 99.0)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestNoActivityNoSave(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	// Empty delta and zero messages before the tick's own increment
	// still counts as activity: the tick itself is a message. Force the
	// empty case via Checkpoint instead.
	res, err := a.Checkpoint(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, autosave.TriggerManual, res.Reason)
	assert.Contains(t, res.Summary, "no changes")
}

func TestDeltaTracking(t *testing.T) {
	a := newAutoSave(t, "agent")

	a.TrackStore(1)
	a.TrackStore(0) // duplicate outcome, ignored
	a.TrackUpdate(2)
	a.TrackDelete(3)
	a.TrackLink(4)
	a.TrackLink(0) // ignored

	st := a.Status()
	assert.Equal(t, []int64{1}, st.Delta.StoredIDs)
	assert.Equal(t, []int64{2}, st.Delta.UpdatedIDs)
	assert.Equal(t, []int64{3}, st.Delta.DeletedIDs)
	assert.Equal(t, []int64{4}, st.Delta.LinkIDs)
	assert.Equal(t, 4, st.TotalChanges)
}

func TestCheckpointSummaryParts(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	a.TrackStore(1)
	a.TrackStore(2)
	a.TrackUpdate(3)
	a.TrackLink(4)

	res, err := a.Checkpoint(ctx, "end_of_task")
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "2 new memories")
	assert.Contains(t, res.Summary, "1 updated")
	assert.Contains(t, res.Summary, "1 new links")
	assert.NotContains(t, res.Summary, "deleted")
}

func TestRestore(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	_, err := a.Restore(ctx, "")
	assert.ErrorIs(t, err, session.ErrNotFound)

	a.TrackStore(1)
	saved, err := a.Checkpoint(ctx, "")
	require.NoError(t, err)

	cp, err := a.Restore(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, saved.SessionID, cp.SessionID)
	assert.Equal(t, saved.CheckpointNum, cp.CheckpointNum)

	cp, err = a.Restore(ctx, saved.SessionID)
	require.NoError(t, err)
	assert.Equal(t, saved.SessionID, cp.SessionID)
}

func TestCheckpointCountsAccumulate(t *testing.T) {
	a := newAutoSave(t, "agent")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a.TrackStore(int64(i + 1))
		_, err := a.Checkpoint(ctx, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, a.Status().TotalCheckpoints)
}
