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

// Package tools exposes the memory service as MCP tools over stdio,
// so agent runtimes can call the store without going through HTTP.
// The stdio surface is single-tenant: everything maps to the local
// tenant with the full feature set.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engram-ai/engram/pkg/embedder"
	"github.com/engram-ai/engram/pkg/memory"
	"github.com/engram-ai/engram/pkg/registry"
)

// LocalTenant is the tenant every stdio tool call is scoped to.
const LocalTenant = "local"

// Server bridges MCP tool calls onto the tenant registry.
type Server struct {
	registry *registry.Registry
	embedder embedder.Embedder
}

// New creates the tool surface over shared tenant storage.
func New(reg *registry.Registry, emb embedder.Embedder) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if emb == nil {
		emb = embedder.NewNoop()
	}
	return &Server{registry: reg, embedder: emb}, nil
}

// MCPServer assembles the MCP server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("engram", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerMemoryTools(srv)
	s.registerSessionTools(srv)
	s.registerGraphTools(srv)
	return srv
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio(version string) error {
	return server.ServeStdio(s.MCPServer(version))
}

// store resolves the local tenant's memory store.
func (s *Server) store() (*memory.Store, error) {
	return s.registry.Store(LocalTenant)
}

// jsonResult renders a payload as a JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errResult reports a tool-level failure without failing the protocol.
func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func namespaceArg(req mcp.CallToolRequest) string {
	return req.GetString("namespace", "default")
}

func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	return req.GetStringSlice(key, nil)
}

func metadataArg(req mcp.CallToolRequest) map[string]any {
	args := req.GetArguments()
	if raw, ok := args["metadata"].(map[string]any); ok {
		return raw
	}
	return nil
}
