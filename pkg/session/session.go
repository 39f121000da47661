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

// Package session persists agent sessions as ordered, immutable
// checkpoints and renders recovery summaries from the latest one.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound means no checkpoint or session matched.
var ErrNotFound = errors.New("not found")

// FreshStartMessage is returned by RecoverContext when the tenant has
// no checkpoints at all.
const FreshStartMessage = "No previous session found. This is a fresh start."

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Status of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session groups checkpoints under one working window.
type Session struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"session_id"`
	Project         string     `json:"project,omitempty"`
	Summary         string     `json:"summary"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CheckpointCount int        `json:"checkpoint_count"`
}

// Checkpoint is an immutable numbered snapshot within a session.
type Checkpoint struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	CheckpointNum int       `json:"checkpoint_num"`
	Summary       string    `json:"summary"`
	KeyFacts      []string  `json:"key_facts"`
	OpenTasks     []string  `json:"open_tasks"`
	FilesModified []string  `json:"files_modified"`
	Project       string    `json:"project,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SaveRequest carries the fields of one checkpoint write.
type SaveRequest struct {
	Project       string
	Summary       string
	KeyFacts      []string
	OpenTasks     []string
	FilesModified []string
}

// Store maintains sessions and checkpoints in a SQLite file. Safe for
// concurrent use.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens (creating if necessary) the session database at path.
// The file may be shared with the memory store; tables are separate.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("session: store path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT UNIQUE NOT NULL,
			project TEXT,
			summary TEXT DEFAULT '',
			status TEXT DEFAULT 'active',
			started_at TEXT,
			ended_at TEXT,
			checkpoint_count INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			checkpoint_num INTEGER NOT NULL,
			summary TEXT NOT NULL,
			key_facts TEXT DEFAULT '[]',
			open_tasks TEXT DEFAULT '[]',
			files_modified TEXT DEFAULT '[]',
			created_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_status ON sessions(status, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_session ON checkpoints(session_id, checkpoint_num DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// generateSessionID mints session_<yyyymmdd_HHMMSS>_<6-hex>.
func (s *Store) generateSessionID() string {
	ts := s.now().Format("20060102_150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("session_%s_%s", ts, suffix)
}

// getOrCreateSession returns the most recent active session for the
// project, minting one when none exists.
func (s *Store) getOrCreateSession(ctx context.Context, project string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id FROM sessions
		WHERE status = 'active' AND (project = ? OR project IS NULL)
		ORDER BY started_at DESC LIMIT 1`, nullable(project)).Scan(&sessionID)
	if err == nil {
		return sessionID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find active session: %w", err)
	}

	sessionID = s.generateSessionID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, project, status, started_at)
		VALUES (?, ?, 'active', ?)`,
		sessionID, nullable(project), s.now().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// SaveCheckpoint writes the next checkpoint into the active session for
// the project, creating the session when needed, and refreshes the
// session's summary and count.
func (s *Store) SaveCheckpoint(ctx context.Context, req SaveRequest) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, err := s.getOrCreateSession(ctx, req.Project)
	if err != nil {
		return nil, err
	}

	var maxNum sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(checkpoint_num) FROM checkpoints WHERE session_id = ?`, sessionID).
		Scan(&maxNum); err != nil {
		return nil, fmt.Errorf("next checkpoint number: %w", err)
	}
	num := int(maxNum.Int64) + 1

	facts, _ := json.Marshal(emptyIfNil(req.KeyFacts))
	tasks, _ := json.Marshal(emptyIfNil(req.OpenTasks))
	files, _ := json.Marshal(emptyIfNil(req.FilesModified))
	createdAt := s.now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(session_id, checkpoint_num, summary, key_facts, open_tasks, files_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, num, req.Summary, string(facts), string(tasks), string(files),
		createdAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET checkpoint_count = ?, summary = ? WHERE session_id = ?`,
		num, req.Summary, sessionID); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	return &Checkpoint{
		ID:            id,
		SessionID:     sessionID,
		CheckpointNum: num,
		Summary:       req.Summary,
		KeyFacts:      emptyIfNil(req.KeyFacts),
		OpenTasks:     emptyIfNil(req.OpenTasks),
		FilesModified: emptyIfNil(req.FilesModified),
		Project:       req.Project,
		CreatedAt:     createdAt,
	}, nil
}

// LoadCheckpoint returns the most recent checkpoint, narrowed by
// sessionID when given, else by project, else globally.
func (s *Store) LoadCheckpoint(ctx context.Context, project, sessionID string) (*Checkpoint, error) {
	query := `
		SELECT c.id, c.session_id, c.checkpoint_num, c.summary,
			c.key_facts, c.open_tasks, c.files_modified, c.created_at, s.project
		FROM checkpoints c
		JOIN sessions s ON c.session_id = s.session_id`
	var args []any
	switch {
	case sessionID != "":
		query += ` WHERE c.session_id = ?`
		args = append(args, sessionID)
	case project != "":
		query += ` WHERE s.project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY c.created_at DESC, c.id DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// ListSessions returns sessions newest first, optionally by project.
func (s *Store) ListSessions(ctx context.Context, project string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, session_id, project, summary, status, started_at, ended_at, checkpoint_count
		FROM sessions`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var (
			sess            Session
			proj, ended     sql.NullString
			summary, status sql.NullString
			started         sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.SessionID, &proj, &summary, &status,
			&started, &ended, &sess.CheckpointCount); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sess.Project = proj.String
		sess.Summary = summary.String
		sess.Status = Status(status.String)
		sess.StartedAt = parseTime(started.String)
		if ended.Valid && ended.String != "" {
			t := parseTime(ended.String)
			sess.EndedAt = &t
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// EndSession marks the active session for the project as ended.
// Returns false when there was none.
func (s *Store) EndSession(ctx context.Context, project string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = ?
		WHERE status = 'active' AND (project = ? OR project IS NULL)`,
		s.now().Format(timeLayout), nullable(project))
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return n > 0, nil
}

// RecoverContext renders the latest checkpoint for the project as a
// markdown recovery block, or the canned fresh-start message.
func (s *Store) RecoverContext(ctx context.Context, project string) (string, error) {
	cp, err := s.LoadCheckpoint(ctx, project, "")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return FreshStartMessage, nil
		}
		return "", err
	}

	proj := cp.Project
	if proj == "" {
		proj = "General"
	}

	var b strings.Builder
	b.WriteString("## Session Recovery\n\n")
	fmt.Fprintf(&b, "**Last checkpoint:** %s\n", cp.CreatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "**Project:** %s\n", proj)
	fmt.Fprintf(&b, "**Checkpoint #%d**\n\n", cp.CheckpointNum)
	b.WriteString("### Summary\n")
	b.WriteString(cp.Summary)

	if len(cp.KeyFacts) > 0 {
		b.WriteString("\n\n### Key Facts")
		for _, f := range cp.KeyFacts {
			b.WriteString("\n- " + f)
		}
	}
	if len(cp.OpenTasks) > 0 {
		b.WriteString("\n\n### Open Tasks")
		for _, task := range cp.OpenTasks {
			b.WriteString("\n- [ ] " + task)
		}
	}
	if len(cp.FilesModified) > 0 {
		b.WriteString("\n\n### Files Modified")
		for _, f := range cp.FilesModified {
			b.WriteString("\n- " + f)
		}
	}
	return b.String(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(r rowScanner) (*Checkpoint, error) {
	var (
		cp                  Checkpoint
		facts, tasks, files sql.NullString
		created, project    sql.NullString
	)
	if err := r.Scan(&cp.ID, &cp.SessionID, &cp.CheckpointNum, &cp.Summary,
		&facts, &tasks, &files, &created, &project); err != nil {
		return nil, err
	}
	cp.KeyFacts = parseJSONList(facts.String)
	cp.OpenTasks = parseJSONList(tasks.String)
	cp.FilesModified = parseJSONList(files.String)
	cp.CreatedAt = parseTime(created.String)
	cp.Project = project.String
	return &cp, nil
}

func parseJSONList(s string) []string {
	out := []string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
