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
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width UTC so stored timestamps compare
// lexicographically in chronological order inside SQL.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// notExpired is appended to every visibility-applying read. The bound
// parameter is the current time formatted with timeLayout.
const notExpired = "(expires_at IS NULL OR expires_at > ?)"

// notExpiredOn qualifies the visibility predicate for an aliased table.
func notExpiredOn(alias string) string {
	return "(" + alias + ".expires_at IS NULL OR " + alias + ".expires_at > ?)"
}

const entryColumns = `id, content, memory_type, importance, namespace, tags, metadata,
	content_hash, embedding, decay_score, created_at, accessed_at, access_count, expires_at`

// Store is a tenant-local memory store over a single SQLite file.
// Safe for concurrent use; writes are serialized on one connection.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore opens (creating if necessary) the database at path and runs
// pending migrations. WAL journaling and a 5 s busy timeout are set on
// every connection.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path must not be empty", ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single connection serializes writes and keeps the FTS triggers
	// and the row table inside one transaction boundary.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	slog.Debug("Memory store opened", "path", path)
	return &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Store inserts a new memory. If an entry with the same content hash
// already exists no row is created; the existing row's access_count is
// bumped, accessed_at refreshed, and importance raised to the max of
// old and new. The second return reports that duplicate outcome.
func (s *Store) Store(ctx context.Context, e *Entry) (int64, bool, error) {
	if e.Importance == 0 {
		e.Importance = 5
	}
	if e.Type == "" {
		e.Type = TypeFact
	}
	if e.Namespace == "" {
		e.Namespace = "default"
	}
	if e.DecayScore == 0 {
		e.DecayScore = 1.0
	}
	if err := e.Validate(); err != nil {
		return 0, false, err
	}
	if e.ContentHash == "" {
		e.ContentHash = ContentHash(e.Content)
	}

	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.AccessedAt.IsZero() {
		e.AccessedAt = now
	}

	tags, err := json.Marshal(nonNilTags(e.Tags))
	if err != nil {
		return 0, false, fmt.Errorf("%w: tags not serializable: %v", ErrInvalidInput, err)
	}
	meta, err := json.Marshal(nonNilMeta(e.Metadata))
	if err != nil {
		return 0, false, fmt.Errorf("%w: metadata not serializable: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories
			(content, memory_type, importance, namespace, tags, metadata,
			 content_hash, embedding, decay_score, created_at, accessed_at, access_count, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Content, string(e.Type), e.Importance, e.Namespace, string(tags), string(meta),
		e.ContentHash, EncodeEmbedding(e.Embedding), e.DecayScore,
		fmtTime(e.CreatedAt), fmtTime(e.AccessedAt), e.AccessCount, fmtTimePtr(e.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Duplicate content: merge into the existing row.
			_, uerr := s.db.ExecContext(ctx, `
				UPDATE memories
				SET access_count = access_count + 1,
					accessed_at  = ?,
					importance   = MAX(importance, ?)
				WHERE content_hash = ?`,
				fmtTime(now), e.Importance, e.ContentHash)
			if uerr != nil {
				return 0, false, storageErr("store duplicate merge", uerr)
			}
			return 0, true, nil
		}
		return 0, false, storageErr("store", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, storageErr("store", err)
	}
	e.ID = id
	return id, false, nil
}

// Get returns one memory and, as a side effect, bumps its access
// bookkeeping. Missing or expired rows return ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM memories WHERE id = ? AND `+notExpired,
		id, fmtTime(now))
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("memory %d: %w", id, ErrNotFound)
		}
		return nil, storageErr("get", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, accessed_at = ? WHERE id = ?`,
		fmtTime(now), id); err != nil {
		return nil, storageErr("get touch", err)
	}
	return entry, nil
}

// UpdatePatch is a field-level patch; nil fields are left unchanged.
type UpdatePatch struct {
	Content    *string
	Type       *Type
	Importance *int
	Namespace  *string
	Tags       *[]string
	Metadata   *map[string]any
	DecayScore *float64
}

// Update applies a partial update and returns the refreshed entry.
// Changing content recomputes the hash, which may collide with an
// existing row; that surfaces as ErrDuplicate.
func (s *Store) Update(ctx context.Context, id int64, p UpdatePatch) (*Entry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var sets []string
	var args []any

	if p.Content != nil {
		if *p.Content == "" {
			return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
		}
		sets = append(sets, "content = ?", "content_hash = ?")
		args = append(args, *p.Content, ContentHash(*p.Content))
	}
	if p.Type != nil {
		if _, err := ParseType(string(*p.Type)); err != nil {
			return nil, err
		}
		sets = append(sets, "memory_type = ?")
		args = append(args, string(*p.Type))
	}
	if p.Importance != nil {
		if *p.Importance < 1 || *p.Importance > 10 {
			return nil, fmt.Errorf("%w: importance %d out of range [1,10]", ErrInvalidInput, *p.Importance)
		}
		sets = append(sets, "importance = ?")
		args = append(args, *p.Importance)
	}
	if p.Namespace != nil {
		if *p.Namespace == "" {
			return nil, fmt.Errorf("%w: namespace must not be empty", ErrInvalidInput)
		}
		sets = append(sets, "namespace = ?")
		args = append(args, *p.Namespace)
	}
	if p.Tags != nil {
		tags, err := json.Marshal(nonNilTags(*p.Tags))
		if err != nil {
			return nil, fmt.Errorf("%w: tags not serializable: %v", ErrInvalidInput, err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tags))
	}
	if p.Metadata != nil {
		meta, err := json.Marshal(nonNilMeta(*p.Metadata))
		if err != nil {
			return nil, fmt.Errorf("%w: metadata not serializable: %v", ErrInvalidInput, err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(meta))
	}
	if p.DecayScore != nil {
		if *p.DecayScore < 0 || *p.DecayScore > 1 {
			return nil, fmt.Errorf("%w: decay_score out of range [0,1]", ErrInvalidInput)
		}
		sets = append(sets, "decay_score = ?")
		args = append(args, *p.DecayScore)
	}

	if len(sets) > 0 {
		args = append(args, id)
		s.mu.Lock()
		_, err := s.db.ExecContext(ctx,
			`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		s.mu.Unlock()
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("content hash collision: %w", ErrDuplicate)
			}
			return nil, storageErr("update", err)
		}
	}

	return s.Get(ctx, id)
}

// Delete removes a memory. Incident links cascade. Returns false when
// no row matched.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, storageErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete", err)
	}
	return n > 0, nil
}

// List returns memories matching the filter, ordered by importance then
// recency. Expired rows are excluded.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Entry, error) {
	clauses := []string{notExpired}
	args := []any{fmtTime(s.now())}

	if f.Namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.Type != "" {
		clauses = append(clauses, "memory_type = ?")
		args = append(args, string(f.Type))
	}
	if f.MinImportance > 0 {
		clauses = append(clauses, "importance >= ?")
		args = append(args, f.MinImportance)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY importance DESC, accessed_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SearchText runs an FTS query over (content, tags, namespace). The
// raw query is sanitized first; input with no usable words returns an
// empty result. If the FTS subsystem errors the store falls back to a
// substring match on the first word, tagged match_type "like".
func (s *Store) SearchText(ctx context.Context, query, namespace string, limit int) ([]SearchResult, error) {
	expr := SanitizeFTSQuery(query)
	if expr == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	now := fmtTime(s.now())

	clauses := []string{"memories_fts MATCH ?", notExpiredOn("m")}
	args := []any{expr, now}
	if namespace != "" {
		clauses = append(clauses, "m.namespace = ?")
		args = append(args, namespace)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("m")+`, rank AS score
		FROM memories m
		JOIN memories_fts fts ON m.id = fts.rowid
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY rank, m.importance DESC
		LIMIT ?`, args...)
	if err != nil {
		slog.Warn("FTS query failed, falling back to LIKE", "error", err)
		return s.searchLike(ctx, query, namespace, limit)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		entry, score, err := scanEntryWithScore(rows)
		if err != nil {
			return nil, storageErr("search_text", err)
		}
		if score < 0 {
			score = -score
		}
		results = append(results, SearchResult{Memory: entry, Score: score, MatchType: MatchFTS})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search_text", err)
	}
	return results, nil
}

func (s *Store) searchLike(ctx context.Context, query, namespace string, limit int) ([]SearchResult, error) {
	word := firstWord(query)
	if word == "" {
		return nil, nil
	}

	clauses := []string{"content LIKE ?", notExpired}
	args := []any{"%" + word + "%", fmtTime(s.now())}
	if namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, namespace)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY importance DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, storageErr("search_like", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, storageErr("search_like", err)
	}
	results := make([]SearchResult, len(entries))
	for i, e := range entries {
		results[i] = SearchResult{Memory: e, Score: 0, MatchType: MatchLike}
	}
	return results, nil
}

// SearchVector computes brute-force cosine similarity between the
// query vector and every stored embedding in the namespace, returning
// the top limit hits. Intentionally O(N·D): exactness over speed.
func (s *Store) SearchVector(ctx context.Context, vec []float32, namespace string, limit int) ([]SearchResult, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	clauses := []string{"embedding IS NOT NULL", notExpired}
	args := []any{fmtTime(s.now())}
	if namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, namespace)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, storageErr("search_vector", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, storageErr("search_vector", err)
	}

	results := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(vec, e.Embedding)
		results = append(results, SearchResult{Memory: e, Score: sim, MatchType: MatchSemantic})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetPriority returns the top memories for context injection. The
// default namespace is always visible alongside the requested one.
func (s *Store) GetPriority(ctx context.Context, namespace string, limit, minImportance int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	if minImportance <= 0 {
		minImportance = 7
	}

	clauses := []string{"importance >= ?", notExpired}
	args := []any{minImportance, fmtTime(s.now())}
	if namespace != "" {
		clauses = append(clauses, "(namespace = ? OR namespace = 'default')")
		args = append(args, namespace)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY importance DESC, access_count DESC, accessed_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, storageErr("get_priority", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Stats aggregates totals, a per-type breakdown, average importance,
// embedding coverage, and on-disk size.
func (s *Store) Stats(ctx context.Context, namespace string) (*Stats, error) {
	clauses := []string{notExpired}
	args := []any{fmtTime(s.now())}
	if namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, namespace)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	st := &Stats{ByType: map[Type]int{}}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(importance),
			COUNT(CASE WHEN embedding IS NOT NULL THEN 1 END)
		FROM memories `+where, args...).
		Scan(&st.TotalMemories, &avg, &st.WithEmbedding)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	st.AverageImportance = avg.Float64

	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_type, COUNT(*) FROM memories `+where+` GROUP BY memory_type`, args...)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, storageErr("stats", err)
		}
		st.ByType[Type(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("stats", err)
	}

	if st.TotalMemories > 0 {
		st.EmbeddingCoverage = float64(st.WithEmbedding) / float64(st.TotalMemories)
	}
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeMB = float64(info.Size()) / (1024 * 1024)
	}
	return st, nil
}

// CleanupExpired physically removes rows whose expires_at has passed.
func (s *Store) CleanupExpired(ctx context.Context, namespace string) (int64, error) {
	clauses := []string{"expires_at IS NOT NULL", "expires_at <= ?"}
	args := []any{fmtTime(s.now())}
	if namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, namespace)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, storageErr("cleanup_expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("cleanup_expired", err)
	}
	return n, nil
}

// Prune removes stale low-value memories: not accessed within the last
// days, below minImportance, and with fewer than 3 accesses.
func (s *Store) Prune(ctx context.Context, days, minImportance int, namespace string) (int64, error) {
	if days <= 0 {
		days = 30
	}
	if minImportance <= 0 {
		minImportance = 3
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	clauses := []string{"accessed_at < ?", "importance < ?", "access_count < 3"}
	args := []any{fmtTime(cutoff), minImportance}
	if namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, namespace)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, storageErr("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("prune", err)
	}
	return n, nil
}

// ListWithoutEmbeddings pages through memories missing an embedding,
// for the backfill path.
func (s *Store) ListWithoutEmbeddings(ctx context.Context, namespace string, limit, offset int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	clauses := []string{"embedding IS NULL", notExpired}
	args := []any{fmtTime(s.now())}
	if namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, namespace)
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memories
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY id
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, storageErr("list_without_embeddings", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// UpdateEmbedding attaches an embedding vector to an existing memory.
func (s *Store) UpdateEmbedding(ctx context.Context, id int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding = ? WHERE id = ?`, EncodeEmbedding(vec), id)
	if err != nil {
		return storageErr("update_embedding", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update_embedding", err)
	}
	if n == 0 {
		return fmt.Errorf("memory %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountMemories returns the total row count, expired rows included.
// Used by quota checks, which bound physical storage.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// CountNamespaces returns the number of distinct namespaces in use.
func (s *Store) CountNamespaces(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT namespace) FROM memories`).Scan(&n); err != nil {
		return 0, storageErr("count_namespaces", err)
	}
	return n, nil
}

// NamespaceExists reports whether any memory lives in the namespace.
func (s *Store) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE namespace = ? LIMIT 1`, namespace).Scan(&n); err != nil {
		return false, storageErr("namespace_exists", err)
	}
	return n > 0, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e          Entry
		typ        string
		tags, meta string
		hash       sql.NullString
		emb        []byte
		created    sql.NullString
		accessed   sql.NullString
		expires    sql.NullString
	)
	if err := r.Scan(&e.ID, &e.Content, &typ, &e.Importance, &e.Namespace, &tags, &meta,
		&hash, &emb, &e.DecayScore, &created, &accessed, &e.AccessCount, &expires); err != nil {
		return nil, err
	}
	fillEntry(&e, typ, tags, meta, hash, emb, created, accessed, expires)
	return &e, nil
}

func scanEntryWithScore(r rowScanner) (*Entry, float64, error) {
	var (
		e          Entry
		typ        string
		tags, meta string
		hash       sql.NullString
		emb        []byte
		created    sql.NullString
		accessed   sql.NullString
		expires    sql.NullString
		score      float64
	)
	if err := r.Scan(&e.ID, &e.Content, &typ, &e.Importance, &e.Namespace, &tags, &meta,
		&hash, &emb, &e.DecayScore, &created, &accessed, &e.AccessCount, &expires, &score); err != nil {
		return nil, 0, err
	}
	fillEntry(&e, typ, tags, meta, hash, emb, created, accessed, expires)
	return &e, score, nil
}

func fillEntry(e *Entry, typ, tags, meta string, hash sql.NullString, emb []byte,
	created, accessed, expires sql.NullString) {
	e.Type = Type(typ)
	if e.Namespace == "" {
		e.Namespace = "default"
	}
	e.Tags = []string{}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &e.Tags)
	}
	e.Metadata = map[string]any{}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	}
	e.ContentHash = hash.String
	e.Embedding = DecodeEmbedding(emb)
	e.CreatedAt = parseTime(created.String)
	e.AccessedAt = parseTime(accessed.String)
	if expires.Valid && expires.String != "" {
		t := parseTime(expires.String)
		e.ExpiresAt = &t
	}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func prefixColumns(alias string) string {
	cols := strings.Split(entryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime accepts the canonical layout plus the formats older
// database files may carry. Zero time on failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
