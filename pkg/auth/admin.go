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

// Package auth provides authentication for the memory service: an
// admin database of users and API keys, HS256 session tokens, and
// HTTP middleware resolving requests to a tenant identity.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// User is an account in the admin database. The user id doubles as
// the tenant id for storage isolation.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Tier         string     `json:"tier"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// APIKey is key metadata; the key itself is stored only as a hash.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"-"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// DefaultScopes are granted to new API keys unless overridden.
var DefaultScopes = []string{"memories:read", "memories:write"}

const adminSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT UNIQUE NOT NULL,
	password_hash TEXT,
	tier          TEXT NOT NULL DEFAULT 'free',
	created_at    TEXT NOT NULL,
	last_login_at TEXT
);

CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	key_hash     TEXT NOT NULL,
	key_prefix   TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT 'default',
	scopes       TEXT NOT NULL DEFAULT '["memories:read","memories:write"]',
	created_at   TEXT NOT NULL,
	last_used_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);
CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);
`

// AdminDB holds users and API keys, separate from any tenant store.
type AdminDB struct {
	db *sql.DB
}

// OpenAdminDB opens (creating if needed) the admin database at path.
func OpenAdminDB(path string) (*AdminDB, error) {
	if path == "" {
		return nil, fmt.Errorf("auth: admin database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create admin database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open admin database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(adminSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init admin schema: %w", err)
	}
	return &AdminDB{db: db}, nil
}

// Close releases the underlying database handle.
func (a *AdminDB) Close() error { return a.db.Close() }

// CreateUser inserts a new account. Tier defaults to "free".
func (a *AdminDB) CreateUser(ctx context.Context, id, email, passwordHash, tier string) (*User, error) {
	if tier == "" {
		tier = "free"
	}
	now := time.Now().UTC()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, tier, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, email, passwordHash, tier, now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &User{ID: id, Email: email, PasswordHash: passwordHash, Tier: tier, CreatedAt: now}, nil
}

// UserByEmail looks an account up by email.
func (a *AdminDB) UserByEmail(ctx context.Context, email string) (*User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, tier, created_at, last_login_at FROM users WHERE email = ?`,
		email))
}

// UserByID looks an account up by id.
func (a *AdminDB) UserByID(ctx context.Context, id string) (*User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, tier, created_at, last_login_at FROM users WHERE id = ?`,
		id))
}

// UpdateLastLogin stamps the account's last login time.
func (a *AdminDB) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdateUserTier changes an account's subscription tier.
func (a *AdminDB) UpdateUserTier(ctx context.Context, id, tier string) error {
	res, err := a.db.ExecContext(ctx, `UPDATE users SET tier = ? WHERE id = ?`, tier, id)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// StoreAPIKey persists a freshly generated key's metadata and hash.
func (a *AdminDB) StoreAPIKey(ctx context.Context, k *APIKey) error {
	if len(k.Scopes) == 0 {
		k.Scopes = DefaultScopes
	}
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, scopes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.KeyHash, k.KeyPrefix, k.Name, string(scopes),
		k.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// APIKeyByHash resolves a key hash to its record, or ErrKeyNotFound.
func (a *AdminDB) APIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	return a.scanAPIKey(a.db.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, key_prefix, name, scopes, created_at, last_used_at
		 FROM api_keys WHERE key_hash = ?`, keyHash))
}

// APIKeysForUser lists the user's keys, newest first.
func (a *AdminDB) APIKeysForUser(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, user_id, key_hash, key_prefix, name, scopes, created_at, last_used_at
		 FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := a.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CountAPIKeysForUser reports how many keys the user holds.
func (a *AdminDB) CountAPIKeysForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// TouchAPIKey stamps the key's last use.
func (a *AdminDB) TouchAPIKey(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes a key owned by the user.
func (a *AdminDB) DeleteAPIKey(ctx context.Context, id, userID string) error {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (a *AdminDB) scanUser(row rowScanner) (*User, error) {
	var u User
	var created string
	var lastLogin sql.NullString
	var pwHash sql.NullString
	err := row.Scan(&u.ID, &u.Email, &pwHash, &u.Tier, &created, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.PasswordHash = pwHash.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	if lastLogin.Valid {
		if t, err := time.Parse(time.RFC3339, lastLogin.String); err == nil {
			u.LastLoginAt = &t
		}
	}
	return &u, nil
}

func (a *AdminDB) scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	var scopes, created string
	var lastUsed sql.NullString
	err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &scopes, &created, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
		k.Scopes = DefaultScopes
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339, created)
	if lastUsed.Valid {
		if t, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
			k.LastUsedAt = &t
		}
	}
	return &k, nil
}
