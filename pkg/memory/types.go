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

// Package memory implements the content-addressed memory store.
//
// Each tenant owns one Store backed by a single SQLite file with an FTS5
// index kept in lockstep via triggers. Memories are deduplicated on a
// SHA-256 content hash prefix, partitioned into namespaces, ranked by
// importance, and optionally carry a fixed-dimension embedding used for
// brute-force cosine search.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Type categorizes a memory entry.
type Type string

const (
	TypeFact       Type = "fact"
	TypePreference Type = "preference"
	TypeDecision   Type = "decision"
	TypeErrorFix   Type = "error_fix"
	TypePattern    Type = "pattern"
	TypeWorkflow   Type = "workflow"
	TypeSummary    Type = "summary"
	TypeCustom     Type = "custom"
)

// ParseType validates a memory type string at the adapter boundary.
// An empty string defaults to "fact"; unknown values are rejected.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeFact, TypePreference, TypeDecision, TypeErrorFix,
		TypePattern, TypeWorkflow, TypeSummary, TypeCustom:
		return Type(s), nil
	case "":
		return TypeFact, nil
	default:
		return "", fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, s)
	}
}

// Entry is a single memory unit.
//
// ContentHash is the first 16 hex characters of the SHA-256 digest of
// Content and is unique per store; it is the deduplication key.
type Entry struct {
	ID          int64          `json:"id"`
	Content     string         `json:"content"`
	Type        Type           `json:"memory_type"`
	Importance  int            `json:"importance"`
	Namespace   string         `json:"namespace"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	ContentHash string         `json:"content_hash"`
	Embedding   []float32      `json:"-"`
	DecayScore  float64        `json:"decay_score"`
	CreatedAt   time.Time      `json:"created_at"`
	AccessedAt  time.Time      `json:"accessed_at"`
	AccessCount int            `json:"access_count"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// Validate checks the invariants enforced at the core boundary.
func (e *Entry) Validate() error {
	if e.Content == "" {
		return fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
	}
	if e.Importance < 1 || e.Importance > 10 {
		return fmt.Errorf("%w: importance %d out of range [1,10]", ErrInvalidInput, e.Importance)
	}
	if e.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidInput)
	}
	if e.DecayScore < 0 || e.DecayScore > 1 {
		return fmt.Errorf("%w: decay_score %v out of range [0,1]", ErrInvalidInput, e.DecayScore)
	}
	if e.ExpiresAt != nil && !e.CreatedAt.IsZero() && !e.ExpiresAt.After(e.CreatedAt) {
		return fmt.Errorf("%w: expires_at must be after created_at", ErrInvalidInput)
	}
	return nil
}

// ContentHash returns the first 16 hex characters of the SHA-256 digest
// of text. The hash covers content only, never tags or metadata, so it
// is stable across processes.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// MatchType tags how a search result was found.
type MatchType string

const (
	MatchFTS      MatchType = "fts"
	MatchLike     MatchType = "like"
	MatchSemantic MatchType = "semantic"
)

// SearchResult is a search hit with relevance metadata.
type SearchResult struct {
	Memory    *Entry    `json:"memory"`
	Score     float64   `json:"score"`
	MatchType MatchType `json:"match_type"`
}

// Relation labels a directed edge between two memories.
type Relation string

const (
	RelationRelated     Relation = "related"
	RelationCausedBy    Relation = "caused_by"
	RelationDependsOn   Relation = "depends_on"
	RelationSupersedes  Relation = "supersedes"
	RelationContradicts Relation = "contradicts"
	RelationDerivedFrom Relation = "derived_from"
	RelationFollowUp    Relation = "follow_up"
)

// ParseRelation validates a relation string. Empty defaults to "related".
func ParseRelation(s string) (Relation, error) {
	switch Relation(s) {
	case RelationRelated, RelationCausedBy, RelationDependsOn, RelationSupersedes,
		RelationContradicts, RelationDerivedFrom, RelationFollowUp:
		return Relation(s), nil
	case "":
		return RelationRelated, nil
	default:
		return "", fmt.Errorf("%w: unknown relation %q", ErrInvalidInput, s)
	}
}

// Link is a directed edge between two memories, unique on
// (SourceID, TargetID, Relation).
type Link struct {
	ID        int64          `json:"id"`
	SourceID  int64          `json:"source_id"`
	TargetID  int64          `json:"target_id"`
	Relation  Relation       `json:"relation"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LinkedMemory is a link joined with the adjacent memory's summary fields.
type LinkedMemory struct {
	Link
	Content    string `json:"content"`
	Type       Type   `json:"memory_type"`
	Importance int    `json:"importance"`
}

// Direction selects which incident edges to return.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ParseDirection validates a direction string. Empty defaults to "both".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return Direction(s), nil
	case "":
		return DirectionBoth, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, s)
	}
}

// GraphNode is a node discovered during graph traversal.
// Content is truncated to 200 characters.
type GraphNode struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	Type       Type   `json:"memory_type"`
	Importance int    `json:"importance"`
	Depth      int    `json:"depth"`
}

// GraphEdge is an edge connecting two returned nodes.
type GraphEdge struct {
	ID       int64    `json:"id"`
	SourceID int64    `json:"source_id"`
	TargetID int64    `json:"target_id"`
	Relation Relation `json:"relation"`
}

// Graph is the result of a bounded breadth-first traversal from a root.
type Graph struct {
	Root  int64       `json:"root"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Stats aggregates store-level statistics.
type Stats struct {
	TotalMemories     int          `json:"total_memories"`
	ByType            map[Type]int `json:"by_type"`
	AverageImportance float64      `json:"average_importance"`
	WithEmbedding     int          `json:"with_embedding"`
	EmbeddingCoverage float64      `json:"embedding_coverage"`
	DBSizeMB          float64      `json:"db_size_mb"`
}

// ListFilter narrows a List call. Zero values mean "no constraint"
// except Limit, which defaults to 50.
type ListFilter struct {
	Namespace     string
	Type          Type
	MinImportance int
	Limit         int
	Offset        int
}
