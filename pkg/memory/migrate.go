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

package memory

import (
	"database/sql"
	"fmt"
	"strings"
)

// migration is one schema step: a guard predicate plus DDL statements.
// Running migrate on an up-to-date database is a no-op for every step.
type migration struct {
	name   string
	needed func(db *sql.DB) (bool, error)
	ddl    []string
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	memory_type TEXT NOT NULL DEFAULT 'fact',
	importance INTEGER DEFAULT 5,
	namespace TEXT DEFAULT 'default',
	tags TEXT DEFAULT '[]',
	metadata TEXT DEFAULT '{}',
	content_hash TEXT UNIQUE,
	embedding BLOB,
	decay_score REAL DEFAULT 1.0,
	created_at TEXT,
	accessed_at TEXT,
	access_count INTEGER DEFAULT 0
)`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content, tags, namespace,
	content='memories',
	content_rowid='id'
)`

// The FTS index is maintained exclusively by these triggers so it can
// never drift from the row set inside a committed transaction.
var ftsTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content, tags, namespace)
		VALUES (new.id, new.content, new.tags, new.namespace);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content, tags, namespace)
		VALUES ('delete', old.id, old.content, old.tags, old.namespace);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content, tags, namespace)
		VALUES ('delete', old.id, old.content, old.tags, old.namespace);
		INSERT INTO memories_fts(rowid, content, tags, namespace)
		VALUES (new.id, new.content, new.tags, new.namespace);
	END`,
}

var migrations = []migration{
	{
		name: "base schema",
		needed: func(db *sql.DB) (bool, error) {
			exists, err := tableExists(db, "memories")
			return !exists, err
		},
		ddl: append([]string{
			baseSchema,
			ftsSchema,
			`CREATE INDEX IF NOT EXISTS idx_type ON memories(memory_type)`,
			`CREATE INDEX IF NOT EXISTS idx_importance ON memories(importance DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_namespace ON memories(namespace)`,
			`CREATE INDEX IF NOT EXISTS idx_hash ON memories(content_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_ns_importance ON memories(namespace, importance DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_priority ON memories(importance DESC, access_count DESC, accessed_at DESC)`,
		}, ftsTriggers...),
	},
	{
		name: "expires_at column",
		needed: func(db *sql.DB) (bool, error) {
			exists, err := columnExists(db, "memories", "expires_at")
			return !exists, err
		},
		ddl: []string{
			`ALTER TABLE memories ADD COLUMN expires_at TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_expires_at ON memories(expires_at)`,
		},
	},
	{
		name: "memory links",
		needed: func(db *sql.DB) (bool, error) {
			exists, err := tableExists(db, "memory_links")
			return !exists, err
		},
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS memory_links (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source_id INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				target_id INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				relation TEXT NOT NULL DEFAULT 'related',
				metadata TEXT DEFAULT '{}',
				created_at TEXT,
				UNIQUE(source_id, target_id, relation)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_link_source ON memory_links(source_id)`,
			`CREATE INDEX IF NOT EXISTS idx_link_target ON memory_links(target_id)`,
			`CREATE INDEX IF NOT EXISTS idx_link_relation ON memory_links(relation)`,
		},
	},
}

func migrate(db *sql.DB) error {
	for _, m := range migrations {
		run, err := m.needed(db)
		if err != nil {
			return fmt.Errorf("migration %q check: %w", m.name, err)
		}
		if !run {
			continue
		}
		for _, stmt := range m.ddl {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migration %q: %w", m.name, fts5Hint(err))
			}
		}
	}
	return nil
}

// fts5Hint explains the otherwise opaque sqlite error produced when the
// driver binary lacks the FTS5 extension.
func fts5Hint(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such module: fts5") {
		return fmt.Errorf("%w (sqlite driver built without FTS5 support; rebuild with -tags sqlite_fts5)", err)
	}
	return err
}

func tableExists(db *sql.DB, table string) (bool, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, table,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
