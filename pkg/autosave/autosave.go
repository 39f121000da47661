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

// Package autosave implements trigger-based incremental checkpointing.
//
// One AutoSave instance serves one (tenant, project). Callers keep the
// delta current with the Track* methods and call Tick at exchange
// boundaries; the state machine decides when a checkpoint is due.
// Trigger elapsed time uses a monotonic clock; checkpoint timestamps
// are wall-clock UTC and come from the session store.
package autosave

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/engram-ai/engram/pkg/session"
)

// Trigger reasons, in evaluation priority order.
const (
	TriggerRAM        = "ram_threshold"
	TriggerMessage    = "message_threshold"
	TriggerTimer      = "timer"
	TriggerManual     = "manual"
	TriggerSessionEnd = "session_end"
)

// Config holds the trigger thresholds.
type Config struct {
	Enabled          bool    `json:"enabled"`
	IntervalSeconds  int     `json:"interval_seconds"`
	MessageThreshold int     `json:"message_threshold"`
	RAMThresholdPct  float64 `json:"ram_threshold_pct"`
	OnSessionEnd     bool    `json:"on_session_end"`
}

// DefaultConfig mirrors the agent-facing defaults: save every 30
// minutes, every 500 messages, or when RAM crosses 85%.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		IntervalSeconds:  1800,
		MessageThreshold: 500,
		RAMThresholdPct:  85.0,
		OnSessionEnd:     true,
	}
}

// Delta tracks memory and link changes since the last checkpoint.
type Delta struct {
	StoredIDs  []int64 `json:"stored_ids"`
	UpdatedIDs []int64 `json:"updated_ids"`
	DeletedIDs []int64 `json:"deleted_ids"`
	LinkIDs    []int64 `json:"link_ids"`
}

// TotalChanges is the number of tracked ids across all four lists.
func (d *Delta) TotalChanges() int {
	return len(d.StoredIDs) + len(d.UpdatedIDs) + len(d.DeletedIDs) + len(d.LinkIDs)
}

// IsEmpty reports whether nothing has been tracked.
func (d *Delta) IsEmpty() bool { return d.TotalChanges() == 0 }

func (d *Delta) reset() {
	d.StoredIDs = nil
	d.UpdatedIDs = nil
	d.DeletedIDs = nil
	d.LinkIDs = nil
}

func (d *Delta) snapshot() Delta {
	return Delta{
		StoredIDs:  append([]int64(nil), d.StoredIDs...),
		UpdatedIDs: append([]int64(nil), d.UpdatedIDs...),
		DeletedIDs: append([]int64(nil), d.DeletedIDs...),
		LinkIDs:    append([]int64(nil), d.LinkIDs...),
	}
}

// CheckpointResult reports one autosave checkpoint.
type CheckpointResult struct {
	SessionID     string `json:"session_id"`
	CheckpointNum int    `json:"checkpoint_num"`
	Summary       string `json:"summary"`
	Reason        string `json:"reason"`
	Delta         Delta  `json:"delta"`
	TotalChanges  int    `json:"total_changes"`
}

// Status is a point-in-time view of the state machine.
type Status struct {
	Enabled              bool    `json:"enabled"`
	Config               Config  `json:"config"`
	Delta                Delta   `json:"delta"`
	TotalChanges         int     `json:"total_changes"`
	MessageCount         int     `json:"message_count"`
	SecondsSinceLastSave float64 `json:"seconds_since_last_save"`
	TotalCheckpoints     int     `json:"total_checkpoints"`
	LastTrigger          string  `json:"last_trigger,omitempty"`
	Project              string  `json:"project,omitempty"`
}

// AutoSave is the per-(tenant, project) trigger state machine. All
// methods are safe for concurrent use.
type AutoSave struct {
	sessions *session.Store
	project  string

	mu               sync.Mutex
	config           Config
	delta            Delta
	messageCount     int
	lastSave         time.Time // monotonic reading, never persisted
	totalCheckpoints int
	lastTrigger      string
}

// New creates an AutoSave over the given session store.
func New(sessions *session.Store, project string) (*AutoSave, error) {
	if sessions == nil {
		return nil, fmt.Errorf("autosave: session store is required")
	}
	return &AutoSave{
		sessions: sessions,
		project:  project,
		config:   DefaultConfig(),
		lastSave: time.Now(),
	}, nil
}

// Configure applies a new configuration and returns the active one.
func (a *AutoSave) Configure(cfg Config) Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
	return a.config
}

// Config returns the active configuration.
func (a *AutoSave) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// TrackStore records a stored memory id. Duplicate outcomes (id 0) are
// ignored.
func (a *AutoSave) TrackStore(id int64) {
	if id == 0 {
		return
	}
	a.mu.Lock()
	a.delta.StoredIDs = append(a.delta.StoredIDs, id)
	a.mu.Unlock()
}

// TrackUpdate records an updated memory id.
func (a *AutoSave) TrackUpdate(id int64) {
	a.mu.Lock()
	a.delta.UpdatedIDs = append(a.delta.UpdatedIDs, id)
	a.mu.Unlock()
}

// TrackDelete records a deleted memory id.
func (a *AutoSave) TrackDelete(id int64) {
	a.mu.Lock()
	a.delta.DeletedIDs = append(a.delta.DeletedIDs, id)
	a.mu.Unlock()
}

// TrackLink records a created link id. Zero ids are ignored.
func (a *AutoSave) TrackLink(id int64) {
	if id == 0 {
		return
	}
	a.mu.Lock()
	a.delta.LinkIDs = append(a.delta.LinkIDs, id)
	a.mu.Unlock()
}

// TrackMessage bumps the message counter without trigger evaluation.
func (a *AutoSave) TrackMessage() {
	a.mu.Lock()
	a.messageCount++
	a.mu.Unlock()
}

// shouldSave evaluates the triggers in priority order. Caller holds mu.
// ramPct < 0 means "not reported".
func (a *AutoSave) shouldSave(ramPct float64) string {
	if !a.config.Enabled {
		return ""
	}
	if a.delta.IsEmpty() && a.messageCount == 0 {
		return ""
	}
	if ramPct >= 0 && ramPct >= a.config.RAMThresholdPct {
		return TriggerRAM
	}
	if a.messageCount >= a.config.MessageThreshold {
		return TriggerMessage
	}
	if time.Since(a.lastSave) >= time.Duration(a.config.IntervalSeconds)*time.Second {
		return TriggerTimer
	}
	return ""
}

// Tick records one message exchange and checkpoints if a trigger fires.
// Returns nil when no save was due. Pass ramPct < 0 when RAM usage is
// not being reported.
func (a *AutoSave) Tick(ctx context.Context, ramPct float64) (*CheckpointResult, error) {
	a.mu.Lock()
	a.messageCount++
	reason := a.shouldSave(ramPct)
	if reason == "" {
		a.mu.Unlock()
		return nil, nil
	}
	return a.checkpointLocked(ctx, reason)
}

// Checkpoint forces a checkpoint with the given reason (TriggerManual
// when empty), regardless of trigger state.
func (a *AutoSave) Checkpoint(ctx context.Context, reason string) (*CheckpointResult, error) {
	if reason == "" {
		reason = TriggerManual
	}
	a.mu.Lock()
	return a.checkpointLocked(ctx, reason)
}

// checkpointLocked writes the checkpoint and atomically resets the
// delta and message counter. Caller holds mu; it is released here.
func (a *AutoSave) checkpointLocked(ctx context.Context, reason string) (*CheckpointResult, error) {
	defer a.mu.Unlock()

	snap := a.delta.snapshot()
	messages := a.messageCount

	var parts []string
	if n := len(snap.StoredIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new memories", n))
	}
	if n := len(snap.UpdatedIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", n))
	}
	if n := len(snap.DeletedIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", n))
	}
	if n := len(snap.LinkIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new links", n))
	}
	changeSummary := "no changes"
	if len(parts) > 0 {
		changeSummary = strings.Join(parts, ", ")
	}
	summary := fmt.Sprintf("[autosave:%s] %s (msgs: %d)", reason, changeSummary, messages)

	cp, err := a.sessions.SaveCheckpoint(ctx, session.SaveRequest{
		Project: a.project,
		Summary: summary,
		KeyFacts: []string{
			fmt.Sprintf("trigger: %s", reason),
			fmt.Sprintf("delta: %d stored, %d updated, %d deleted, %d links",
				len(snap.StoredIDs), len(snap.UpdatedIDs), len(snap.DeletedIDs), len(snap.LinkIDs)),
			fmt.Sprintf("messages_since_last_save: %d", messages),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("autosave checkpoint: %w", err)
	}

	a.delta.reset()
	a.messageCount = 0
	a.lastSave = time.Now()
	a.totalCheckpoints++
	a.lastTrigger = reason

	return &CheckpointResult{
		SessionID:     cp.SessionID,
		CheckpointNum: cp.CheckpointNum,
		Summary:       summary,
		Reason:        reason,
		Delta:         snap,
		TotalChanges:  snap.TotalChanges(),
	}, nil
}

// Restore loads the latest checkpoint for the project, or a specific
// session when sessionID is given.
func (a *AutoSave) Restore(ctx context.Context, sessionID string) (*session.Checkpoint, error) {
	if sessionID != "" {
		return a.sessions.LoadCheckpoint(ctx, "", sessionID)
	}
	return a.sessions.LoadCheckpoint(ctx, a.project, "")
}

// Status reports the live state of the machine.
func (a *AutoSave) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Enabled:              a.config.Enabled,
		Config:               a.config,
		Delta:                a.delta.snapshot(),
		TotalChanges:         a.delta.TotalChanges(),
		MessageCount:         a.messageCount,
		SecondsSinceLastSave: time.Since(a.lastSave).Seconds(),
		TotalCheckpoints:     a.totalCheckpoints,
		LastTrigger:          a.lastTrigger,
		Project:              a.project,
	}
}
