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

	"github.com/engram-ai/engram/pkg/autosave"
	"github.com/engram-ai/engram/pkg/session"
)

func (s *Server) registerSessionTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("session_save",
		mcp.WithDescription("Save a session checkpoint: summary, key facts, open tasks and touched files."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("What happened this session")),
		mcp.WithString("project", mcp.Description("Project the session belongs to")),
		mcp.WithArray("key_facts", mcp.Description("Facts worth carrying forward"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("open_tasks", mcp.Description("Unfinished work"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("files_modified", mcp.Description("Files changed this session"), mcp.Items(map[string]any{"type": "string"})),
	), s.handleSessionSave)

	srv.AddTool(mcp.NewTool("session_latest",
		mcp.WithDescription("Load the most recent checkpoint for a project."),
		mcp.WithString("project", mcp.Description("Project to load from")),
		mcp.WithString("session_id", mcp.Description("Specific session, defaults to the active one")),
	), s.handleSessionLatest)

	srv.AddTool(mcp.NewTool("session_recover",
		mcp.WithDescription("Render the latest checkpoint as a markdown briefing for resuming work."),
		mcp.WithString("project", mcp.Description("Project to recover")),
	), s.handleSessionRecover)

	srv.AddTool(mcp.NewTool("session_end",
		mcp.WithDescription("End the active session, writing a final checkpoint when autosave policy asks for one."),
		mcp.WithString("project", mcp.Description("Project to end")),
	), s.handleSessionEnd)

	srv.AddTool(mcp.NewTool("autosave_status",
		mcp.WithDescription("Report autosave configuration and trigger counters."),
		mcp.WithString("project", mcp.Description("Project scope")),
	), s.handleAutoSaveStatus)

	srv.AddTool(mcp.NewTool("autosave_checkpoint",
		mcp.WithDescription("Force an autosave checkpoint now."),
		mcp.WithString("project", mcp.Description("Project scope")),
		mcp.WithString("reason", mcp.Description("Why the checkpoint was taken")),
	), s.handleAutoSaveCheckpoint)
}

func (s *Server) sessions() (*session.Store, error) {
	return s.registry.Sessions(LocalTenant)
}

func (s *Server) handleSessionSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := req.RequireString("summary")
	if err != nil {
		return errResult(err)
	}
	sessions, err := s.sessions()
	if err != nil {
		return errResult(err)
	}
	cp, err := sessions.SaveCheckpoint(ctx, session.SaveRequest{
		Project:       req.GetString("project", ""),
		Summary:       summary,
		KeyFacts:      stringSliceArg(req, "key_facts"),
		OpenTasks:     stringSliceArg(req, "open_tasks"),
		FilesModified: stringSliceArg(req, "files_modified"),
	})
	if err != nil {
		return errResult(err)
	}
	return jsonResult(cp)
}

func (s *Server) handleSessionLatest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.sessions()
	if err != nil {
		return errResult(err)
	}
	cp, err := sessions.LoadCheckpoint(ctx, req.GetString("project", ""), req.GetString("session_id", ""))
	if err != nil {
		return errResult(err)
	}
	return jsonResult(cp)
}

func (s *Server) handleSessionRecover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.sessions()
	if err != nil {
		return errResult(err)
	}
	md, err := sessions.RecoverContext(ctx, req.GetString("project", ""))
	if err != nil {
		return errResult(err)
	}
	return mcp.NewToolResultText(md), nil
}

func (s *Server) handleSessionEnd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	sessions, err := s.sessions()
	if err != nil {
		return errResult(err)
	}

	if as, err := s.registry.AutoSave(LocalTenant, project); err == nil {
		cfg := as.Config()
		if cfg.Enabled && cfg.OnSessionEnd {
			if _, err := as.Checkpoint(ctx, autosave.TriggerSessionEnd); err != nil {
				return errResult(fmt.Errorf("final checkpoint failed: %w", err))
			}
		}
	}

	ended, err := sessions.EndSession(ctx, project)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(map[string]bool{"ended": ended})
}

func (s *Server) handleAutoSaveStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	as, err := s.registry.AutoSave(LocalTenant, req.GetString("project", ""))
	if err != nil {
		return errResult(err)
	}
	return jsonResult(as.Status())
}

func (s *Server) handleAutoSaveCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	as, err := s.registry.AutoSave(LocalTenant, req.GetString("project", ""))
	if err != nil {
		return errResult(err)
	}
	result, err := as.Checkpoint(ctx, req.GetString("reason", ""))
	if err != nil {
		return errResult(err)
	}
	return jsonResult(result)
}
