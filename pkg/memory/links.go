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
	"fmt"
	"strings"
)

// maxGraphDepth bounds BFS traversal regardless of caller input.
const maxGraphDepth = 5

// graphContentLimit truncates node content in graph results.
const graphContentLimit = 200

// Link creates a directed edge between two memories. Both endpoints
// must exist and be visible. A second call with the same (source,
// target, relation) returns ErrDuplicate.
func (s *Store) Link(ctx context.Context, source, target int64, relation Relation, metadata map[string]any) (int64, error) {
	if relation == "" {
		relation = RelationRelated
	}
	if _, err := ParseRelation(string(relation)); err != nil {
		return 0, err
	}
	for _, id := range []int64{source, target} {
		if ok, err := s.memoryExists(ctx, id); err != nil {
			return 0, err
		} else if !ok {
			return 0, fmt.Errorf("memory %d: %w", id, ErrNotFound)
		}
	}

	meta, err := json.Marshal(nonNilMeta(metadata))
	if err != nil {
		return 0, fmt.Errorf("%w: metadata not serializable: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_links (source_id, target_id, relation, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		source, target, string(relation), string(meta), fmtTime(s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("link %d->%d (%s): %w", source, target, relation, ErrDuplicate)
		}
		return 0, storageErr("link", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("link", err)
	}
	return id, nil
}

// Unlink removes one edge. Idempotent: false when the id is gone.
func (s *Store) Unlink(ctx context.Context, linkID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_links WHERE id = ?`, linkID)
	if err != nil {
		return false, storageErr("unlink", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("unlink", err)
	}
	return n > 0, nil
}

// Links returns the edges incident to a memory with the adjacent
// memory's summary attached, newest first.
func (s *Store) Links(ctx context.Context, memoryID int64, direction Direction, relation Relation) ([]LinkedMemory, error) {
	if direction == "" {
		direction = DirectionBoth
	}
	if ok, err := s.memoryExists(ctx, memoryID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("memory %d: %w", memoryID, ErrNotFound)
	}

	// First placeholder resolves the far endpoint in the join.
	var dirClause string
	args := []any{memoryID}
	switch direction {
	case DirectionOutgoing:
		dirClause = "l.source_id = ?"
		args = append(args, memoryID)
	case DirectionIncoming:
		dirClause = "l.target_id = ?"
		args = append(args, memoryID)
	case DirectionBoth:
		dirClause = "(l.source_id = ? OR l.target_id = ?)"
		args = append(args, memoryID, memoryID)
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, direction)
	}

	clauses := []string{dirClause}
	if relation != "" {
		clauses = append(clauses, "l.relation = ?")
		args = append(args, string(relation))
	}

	// The joined memory is the far endpoint of each edge.
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.source_id, l.target_id, l.relation, l.metadata, l.created_at,
			m.content, m.memory_type, m.importance
		FROM memory_links l
		JOIN memories m ON m.id = CASE WHEN l.source_id = ? THEN l.target_id ELSE l.source_id END
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY l.created_at DESC`, args...)
	if err != nil {
		return nil, storageErr("links", err)
	}
	defer rows.Close()

	var out []LinkedMemory
	for rows.Next() {
		var (
			lm      LinkedMemory
			rel     string
			meta    sql.NullString
			created sql.NullString
			typ     string
		)
		if err := rows.Scan(&lm.Link.ID, &lm.SourceID, &lm.TargetID, &rel, &meta, &created,
			&lm.Content, &typ, &lm.Importance); err != nil {
			return nil, storageErr("links", err)
		}
		lm.Relation = Relation(rel)
		lm.Type = Type(typ)
		lm.CreatedAt = parseTime(created.String)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &lm.Link.Metadata)
		}
		out = append(out, lm)
	}
	return out, rows.Err()
}

// GraphTraverse runs a breadth-first traversal from root, depth clamped
// to [1, maxGraphDepth]. Every node is visited at most once, every edge
// listed at most once, and all returned edges connect returned nodes.
func (s *Store) GraphTraverse(ctx context.Context, root int64, maxDepth int, relation Relation) (*Graph, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > maxGraphDepth {
		maxDepth = maxGraphDepth
	}

	rootNode, err := s.graphNode(ctx, root, 0)
	if err != nil {
		return nil, err
	}

	graph := &Graph{Root: root, Nodes: []GraphNode{*rootNode}}
	visited := map[int64]bool{root: true}
	seenEdges := map[int64]bool{}
	frontier := []int64{root}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, id := range frontier {
			edges, err := s.incidentEdges(ctx, id, relation)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				other := edge.TargetID
				if other == id {
					other = edge.SourceID
				}
				if !visited[other] {
					node, err := s.graphNode(ctx, other, depth)
					if err != nil {
						// Dangling endpoint (expired); skip the edge too.
						continue
					}
					visited[other] = true
					graph.Nodes = append(graph.Nodes, *node)
					next = append(next, other)
				}
				if !seenEdges[edge.ID] && visited[edge.SourceID] && visited[edge.TargetID] {
					seenEdges[edge.ID] = true
					graph.Edges = append(graph.Edges, edge)
				}
			}
		}
		frontier = next
	}
	return graph, nil
}

func (s *Store) graphNode(ctx context.Context, id int64, depth int) (*GraphNode, error) {
	var (
		node GraphNode
		typ  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, memory_type, importance FROM memories WHERE id = ? AND `+notExpired,
		id, fmtTime(s.now())).
		Scan(&node.ID, &node.Content, &typ, &node.Importance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("memory %d: %w", id, ErrNotFound)
		}
		return nil, storageErr("graph", err)
	}
	node.Type = Type(typ)
	node.Depth = depth
	// Truncate on rune boundaries so multi-byte content stays valid UTF-8.
	if r := []rune(node.Content); len(r) > graphContentLimit {
		node.Content = string(r[:graphContentLimit])
	}
	return &node, nil
}

func (s *Store) incidentEdges(ctx context.Context, id int64, relation Relation) ([]GraphEdge, error) {
	clauses := []string{"(source_id = ? OR target_id = ?)"}
	args := []any{id, id}
	if relation != "" {
		clauses = append(clauses, "relation = ?")
		args = append(args, string(relation))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relation FROM memory_links
		WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, storageErr("graph", err)
	}
	defer rows.Close()

	var edges []GraphEdge
	for rows.Next() {
		var e GraphEdge
		var rel string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &rel); err != nil {
			return nil, storageErr("graph", err)
		}
		e.Relation = Relation(rel)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// memoryExists checks visibility without touching access bookkeeping.
func (s *Store) memoryExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE id = ? AND `+notExpired,
		id, fmtTime(s.now())).Scan(&n)
	if err != nil {
		return false, storageErr("exists", err)
	}
	return n > 0, nil
}
