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
	"encoding/json"
	"fmt"
	"strings"
)

// ExportFormat selects the export rendering.
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

// exportEntry is the portable subset of a memory: embeddings and
// access bookkeeping stay behind.
type exportEntry struct {
	Content    string         `json:"content"`
	Type       string         `json:"memory_type"`
	Importance int            `json:"importance"`
	Namespace  string         `json:"namespace"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

// Export serializes all memories in a namespace as JSON or Markdown.
func (s *Store) Export(ctx context.Context, namespace string, format ExportFormat) (string, error) {
	entries, err := s.List(ctx, ListFilter{Namespace: namespace, Limit: 10000})
	if err != nil {
		return "", err
	}

	switch format {
	case FormatMarkdown:
		var b strings.Builder
		fmt.Fprintf(&b, "# Engram Memory Export (%s)\n\n", fmtTime(s.now()))
		for _, e := range entries {
			fmt.Fprintf(&b, "## [%s] (importance: %d)\n", e.Type, e.Importance)
			b.WriteString(e.Content)
			b.WriteString("\n")
			if len(e.Tags) > 0 {
				fmt.Fprintf(&b, "Tags: %s\n", strings.Join(e.Tags, ", "))
			}
			b.WriteString("\n")
		}
		return b.String(), nil
	case FormatJSON, "":
		out := make([]exportEntry, len(entries))
		for i, e := range entries {
			out[i] = exportEntry{
				Content:    e.Content,
				Type:       string(e.Type),
				Importance: e.Importance,
				Namespace:  e.Namespace,
				Tags:       e.Tags,
				Metadata:   e.Metadata,
				CreatedAt:  fmtTime(e.CreatedAt),
			}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal export: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", ErrInvalidInput, format)
	}
}

// Import loads memories from a JSON export. Duplicates merge into
// existing rows; only genuinely new memories count toward the return.
// Importing the same export twice therefore reports 0 the second time.
func (s *Store) Import(ctx context.Context, data string) (int, error) {
	var items []exportEntry
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return 0, fmt.Errorf("%w: malformed import payload: %v", ErrInvalidInput, err)
	}

	count := 0
	for _, item := range items {
		typ, err := ParseType(item.Type)
		if err != nil {
			return count, err
		}
		entry := &Entry{
			Content:    item.Content,
			Type:       typ,
			Importance: item.Importance,
			Namespace:  item.Namespace,
			Tags:       item.Tags,
			Metadata:   item.Metadata,
		}
		_, duplicate, err := s.Store(ctx, entry)
		if err != nil {
			return count, err
		}
		if !duplicate {
			count++
		}
	}
	return count, nil
}
