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

package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engram-ai/engram/pkg/contextbuilder"
	"github.com/engram-ai/engram/pkg/embedder"
	"github.com/engram-ai/engram/pkg/extract"
	"github.com/engram-ai/engram/pkg/memory"
)

func (s *Server) registerMemoryTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("memory_store",
		mcp.WithDescription("Store a memory. Identical content is deduplicated and reported as a duplicate."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The memory text to store")),
		mcp.WithString("type", mcp.Description("Memory type: fact, preference, decision, error_fix, pattern, workflow, summary or custom")),
		mcp.WithNumber("importance", mcp.Description("Importance 1-10, higher survives recall and pruning")),
		mcp.WithString("namespace", mcp.Description("Namespace to store into, defaults to 'default'")),
		mcp.WithArray("tags", mcp.Description("Free-form tags"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithObject("metadata", mcp.Description("Arbitrary key-value metadata")),
		mcp.WithNumber("ttl_days", mcp.Description("Days until the memory expires, 0 keeps it forever")),
	), s.handleMemoryStore)

	srv.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Full-text search over stored memories. Set semantic=true to rank by embedding similarity."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, defaults to 10")),
		mcp.WithString("namespace", mcp.Description("Namespace to search, defaults to 'default'")),
		mcp.WithBoolean("semantic", mcp.Description("Use vector similarity instead of keyword match")),
	), s.handleMemorySearch)

	srv.AddTool(mcp.NewTool("memory_recall",
		mcp.WithDescription("Recall high-importance memories, most recently accessed first."),
		mcp.WithNumber("limit", mcp.Description("Maximum results, defaults to 20")),
		mcp.WithNumber("min_importance", mcp.Description("Importance floor, defaults to 7")),
		mcp.WithString("namespace", mcp.Description("Namespace to recall from, defaults to 'default'")),
	), s.handleMemoryRecall)

	srv.AddTool(mcp.NewTool("memory_get",
		mcp.WithDescription("Fetch a single memory by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
	), s.handleMemoryGet)

	srv.AddTool(mcp.NewTool("memory_update",
		mcp.WithDescription("Update fields of an existing memory. Omitted fields are left unchanged."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
		mcp.WithString("content", mcp.Description("Replacement content")),
		mcp.WithString("type", mcp.Description("Replacement memory type")),
		mcp.WithNumber("importance", mcp.Description("Replacement importance 1-10")),
		mcp.WithArray("tags", mcp.Description("Replacement tags"), mcp.Items(map[string]any{"type": "string"})),
	), s.handleMemoryUpdate)

	srv.AddTool(mcp.NewTool("memory_delete",
		mcp.WithDescription("Delete a memory by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
	), s.handleMemoryDelete)

	srv.AddTool(mcp.NewTool("memory_stats",
		mcp.WithDescription("Aggregate statistics for a namespace: counts by type, importance, embedding coverage."),
		mcp.WithString("namespace", mcp.Description("Namespace, defaults to 'default'")),
	), s.handleMemoryStats)

	srv.AddTool(mcp.NewTool("memory_extract",
		mcp.WithDescription("Mine conversation text for memory candidates (preferences, decisions, error fixes). Set store=true to persist them."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Conversation text to mine")),
		mcp.WithString("project", mcp.Description("Project tag attached to extracted memories")),
		mcp.WithString("namespace", mcp.Description("Namespace to store into, defaults to 'default'")),
		mcp.WithBoolean("store", mcp.Description("Persist the candidates instead of just returning them")),
	), s.handleMemoryExtract)

	srv.AddTool(mcp.NewTool("memory_context",
		mcp.WithDescription("Build a token-budgeted context block of relevant memories for a prompt."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The prompt to gather context for")),
		mcp.WithNumber("max_tokens", mcp.Description("Token budget for the assembled context")),
		mcp.WithString("namespace", mcp.Description("Namespace, defaults to 'default'")),
		mcp.WithNumber("min_importance", mcp.Description("Importance floor for the priority lane")),
	), s.handleMemoryContext)
}

func (s *Server) handleMemoryStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return errResult(err)
	}
	typ, err := memory.ParseType(req.GetString("type", ""))
	if err != nil {
		return errResult(err)
	}

	store, err := s.store()
	if err != nil {
		return errResult(err)
	}

	entry := &memory.Entry{
		Content:    content,
		Type:       typ,
		Importance: req.GetInt("importance", 0),
		Namespace:  namespaceArg(req),
		Tags:       stringSliceArg(req, "tags"),
		Metadata:   metadataArg(req),
	}
	if days := req.GetInt("ttl_days", 0); days > 0 {
		expires := time.Now().UTC().AddDate(0, 0, days)
		entry.ExpiresAt = &expires
	}
	if embedder.Enabled(s.embedder) {
		if vec, embErr := s.embedder.Embed(ctx, content); embErr == nil {
			entry.Embedding = vec
		}
	}

	id, duplicate, err := store.Store(ctx, entry)
	if err != nil {
		return errResult(err)
	}
	if duplicate {
		return jsonResult(map[string]any{"id": nil, "duplicate": true})
	}
	return jsonResult(map[string]any{"id": id, "duplicate": false})
}

func (s *Server) handleMemorySearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errResult(err)
	}
	limit := req.GetInt("limit", 10)
	ns := namespaceArg(req)

	store, err := s.store()
	if err != nil {
		return errResult(err)
	}

	var results []memory.SearchResult
	if req.GetBool("semantic", false) {
		if !embedder.Enabled(s.embedder) {
			return errResult(fmt.Errorf("semantic search requires an embedding provider"))
		}
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return errResult(fmt.Errorf("embedding provider unavailable: %w", err))
		}
		results, err = store.SearchVector(ctx, vec, ns, limit)
		if err != nil {
			return errResult(err)
		}
	} else {
		results, err = store.SearchText(ctx, query, ns, limit)
		if err != nil {
			return errResult(err)
		}
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return jsonResult(results)
}

func (s *Server) handleMemoryRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	entries, err := store.GetPriority(ctx, namespaceArg(req),
		req.GetInt("limit", 20), req.GetInt("min_importance", 7))
	if err != nil {
		return errResult(err)
	}
	if entries == nil {
		entries = []*memory.Entry{}
	}
	return jsonResult(entries)
}

func (s *Server) handleMemoryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return errResult(err)
	}
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	entry, err := store.Get(ctx, int64(id))
	if err != nil {
		return errResult(err)
	}
	return jsonResult(entry)
}

func (s *Server) handleMemoryUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return errResult(err)
	}
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}

	var patch memory.UpdatePatch
	args := req.GetArguments()
	if v, ok := args["content"].(string); ok {
		patch.Content = &v
	}
	if v, ok := args["type"].(string); ok {
		typ, err := memory.ParseType(v)
		if err != nil {
			return errResult(err)
		}
		patch.Type = &typ
	}
	if v, ok := args["importance"].(float64); ok {
		n := int(v)
		patch.Importance = &n
	}
	if _, ok := args["tags"]; ok {
		tags := stringSliceArg(req, "tags")
		patch.Tags = &tags
	}

	entry, err := store.Update(ctx, int64(id), patch)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(entry)
}

func (s *Server) handleMemoryDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return errResult(err)
	}
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	deleted, err := store.Delete(ctx, int64(id))
	if err != nil {
		return errResult(err)
	}
	if !deleted {
		return errResult(fmt.Errorf("memory %d not found", id))
	}
	return jsonResult(map[string]bool{"deleted": true})
}

func (s *Server) handleMemoryStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	stats, err := store.Stats(ctx, namespaceArg(req))
	if err != nil {
		return errResult(err)
	}
	return jsonResult(stats)
}

func (s *Server) handleMemoryExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return errResult(err)
	}

	candidates := extract.Extract(text, req.GetString("project", ""))
	if !req.GetBool("store", false) {
		return jsonResult(map[string]any{"candidates": candidates})
	}

	store, err := s.store()
	if err != nil {
		return errResult(err)
	}

	ns := namespaceArg(req)
	stored := 0
	for _, c := range candidates {
		entry := &memory.Entry{
			Content:    c.Content,
			Type:       c.Type,
			Importance: c.Importance,
			Namespace:  ns,
		}
		if c.Project != "" {
			entry.Metadata = map[string]any{"project": c.Project}
		}
		_, duplicate, err := store.Store(ctx, entry)
		if err != nil {
			return errResult(err)
		}
		if !duplicate {
			stored++
		}
	}
	return jsonResult(map[string]any{"candidates": candidates, "stored": stored})
}

func (s *Server) handleMemoryContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return errResult(err)
	}
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	builder, err := contextbuilder.New(store, s.embedder)
	if err != nil {
		return errResult(err)
	}
	result, err := builder.Build(ctx, contextbuilder.Request{
		Prompt:        prompt,
		MaxTokens:     req.GetInt("max_tokens", 0),
		Namespace:     namespaceArg(req),
		MinImportance: req.GetInt("min_importance", 0),
	})
	if err != nil {
		return errResult(err)
	}
	return jsonResult(result)
}
