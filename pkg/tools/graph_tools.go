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

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engram-ai/engram/pkg/memory"
)

func (s *Server) registerGraphTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("memory_link",
		mcp.WithDescription("Link two memories with a typed relation."),
		mcp.WithNumber("source_id", mcp.Required(), mcp.Description("Source memory id")),
		mcp.WithNumber("target_id", mcp.Required(), mcp.Description("Target memory id")),
		mcp.WithString("relation", mcp.Description("Relation type, defaults to 'related'")),
	), s.handleMemoryLink)

	srv.AddTool(mcp.NewTool("memory_unlink",
		mcp.WithDescription("Remove a link by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Link id")),
	), s.handleMemoryUnlink)

	srv.AddTool(mcp.NewTool("memory_links",
		mcp.WithDescription("List memories linked to a memory, optionally filtered by direction and relation."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memory id")),
		mcp.WithString("direction", mcp.Description("outgoing, incoming or both")),
		mcp.WithString("relation", mcp.Description("Restrict to one relation type")),
	), s.handleMemoryLinks)

	srv.AddTool(mcp.NewTool("memory_graph",
		mcp.WithDescription("Traverse the link graph from a root memory up to a depth."),
		mcp.WithNumber("root_id", mcp.Required(), mcp.Description("Root memory id")),
		mcp.WithNumber("max_depth", mcp.Description("Traversal depth, defaults to 2")),
		mcp.WithString("relation", mcp.Description("Restrict traversal to one relation type")),
	), s.handleMemoryGraph)
}

func (s *Server) handleMemoryLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireInt("source_id")
	if err != nil {
		return errResult(err)
	}
	target, err := req.RequireInt("target_id")
	if err != nil {
		return errResult(err)
	}
	relation, err := memory.ParseRelation(req.GetString("relation", ""))
	if err != nil {
		return errResult(err)
	}

	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	linkID, err := store.Link(ctx, int64(source), int64(target), relation, nil)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(map[string]any{"id": linkID, "relation": relation})
}

func (s *Server) handleMemoryUnlink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return errResult(err)
	}
	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	deleted, err := store.Unlink(ctx, int64(id))
	if err != nil {
		return errResult(err)
	}
	if !deleted {
		return errResult(fmt.Errorf("link %d not found", id))
	}
	return jsonResult(map[string]bool{"deleted": true})
}

func (s *Server) handleMemoryLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return errResult(err)
	}
	direction, err := memory.ParseDirection(req.GetString("direction", ""))
	if err != nil {
		return errResult(err)
	}
	var relation memory.Relation
	if v := req.GetString("relation", ""); v != "" {
		relation, err = memory.ParseRelation(v)
		if err != nil {
			return errResult(err)
		}
	}

	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	links, err := store.Links(ctx, int64(id), direction, relation)
	if err != nil {
		return errResult(err)
	}
	if links == nil {
		links = []memory.LinkedMemory{}
	}
	return jsonResult(links)
}

func (s *Server) handleMemoryGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireInt("root_id")
	if err != nil {
		return errResult(err)
	}
	var relation memory.Relation
	if v := req.GetString("relation", ""); v != "" {
		relation, err = memory.ParseRelation(v)
		if err != nil {
			return errResult(err)
		}
	}

	store, err := s.store()
	if err != nil {
		return errResult(err)
	}
	graph, err := store.GraphTraverse(ctx, int64(root), req.GetInt("max_depth", 2), relation)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(graph)
}
