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

package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/config"
	"github.com/engram-ai/engram/pkg/server"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	srv, err := server.New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Shutdown())
	})
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, ts, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestMemoryLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
		"content":    "prefers table-driven tests",
		"type":       "preference",
		"importance": 8,
		"tags":       []string{"testing"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, body["duplicate"].(bool))
	id := int64(body["id"].(float64))

	// The same content is deduplicated.
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
		"content": "prefers table-driven tests",
		"type":    "preference",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body["duplicate"].(bool))
	assert.Nil(t, body["id"])

	resp, body = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/v1/memories/%d", id), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "prefers table-driven tests", body["content"])
	assert.Equal(t, "preference", body["memory_type"])

	resp, body = doJSON(t, ts, http.MethodPut, fmt.Sprintf("/v1/memories/%d", id), map[string]any{
		"importance": 9,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 9, body["importance"])

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/memories", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/v1/memories/%d", id), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body["deleted"].(bool))

	resp, body = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/v1/memories/%d", id), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "detail")
}

func TestSearchAndRecall(t *testing.T) {
	ts := newTestServer(t, nil)

	seeds := []map[string]any{
		{"content": "sqlite uses write-ahead logging", "type": "fact", "importance": 9},
		{"content": "remember to rotate the api keys", "type": "workflow", "importance": 4},
	}
	for _, seed := range seeds {
		resp, _ := doJSON(t, ts, http.MethodPost, "/v1/memories", seed, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/search", map[string]any{
		"query": "sqlite logging",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Recall keeps only high-importance entries by default.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/recall", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp2, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var recalled []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&recalled))
	require.Len(t, recalled, 1)
	assert.Equal(t, "sqlite uses write-ahead logging", recalled[0]["content"])
}

func TestSemanticSearchWithoutEmbedder(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/search", map[string]any{
		"query":    "anything",
		"semantic": true,
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "detail")
}

func TestLinksAndGraph(t *testing.T) {
	ts := newTestServer(t, nil)

	var ids []int64
	for _, content := range []string{"chose sqlite", "because of single-binary deploys"} {
		resp, body := doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
			"content": content, "type": "decision", "importance": 8,
		}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ids = append(ids, int64(body["id"].(float64)))
	}

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/links", map[string]any{
		"source_id": ids[0], "target_id": ids[1], "relation": "caused_by",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "caused_by", body["relation"])

	// The same edge twice is a conflict.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/links", map[string]any{
		"source_id": ids[0], "target_id": ids[1], "relation": "caused_by",
	}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, ts, http.MethodPost, "/v1/graph", map[string]any{
		"root_id": ids[0],
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, ids[0], body["root"])
	assert.Len(t, body["nodes"], 2)
}

func TestSessionCheckpointFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/sessions/save", map[string]any{
		"project":   "engram",
		"summary":   "wired the link graph",
		"key_facts": []string{"fts5 works"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["session_id"])

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/sessions/latest?project=engram", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "wired the link graph", body["summary"])

	// Missing summary is rejected.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/sessions/save", map[string]any{
		"project": "engram",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, ts, http.MethodPost, "/v1/sessions/end", map[string]any{
		"project": "engram",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body["ended"].(bool))
}

func TestUsageAndStats(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
		"content": "one memory", "importance": 5,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_memories"])

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/usage", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "enterprise", body["tier"])
	assert.EqualValues(t, 1, body["memories_used"])
}

func TestLocalModeAPIKey(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.APIKey = "hunter2"
	})

	resp, body := doJSON(t, ts, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "detail")

	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/stats", nil, map[string]string{
		"X-API-Key": "hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNamespaceHeaderIsolation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
		"content": "scoped to work", "importance": 5,
	}, map[string]string{"X-Namespace": "work"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodGet, "/v1/stats", nil, map[string]string{
		"X-Namespace": "personal",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total_memories"])

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/stats", nil, map[string]string{
		"X-Namespace": "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_memories"])
}

func TestCloudModeAccountFlow(t *testing.T) {
	var cfg *config.Config
	ts := newTestServer(t, func(c *config.Config) {
		c.Auth.CloudMode = true
		c.Auth.JWTSecret = "test-secret"
		cfg = c
	})

	// The account database must live inside the per-test data dir, so
	// reruns start from an empty account table.
	require.Equal(t, filepath.Join(cfg.Storage.DataDir, "admin.db"), cfg.Auth.AdminDBPath)

	// Unauthenticated requests are rejected in cloud mode.
	resp, _ := doJSON(t, ts, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "dev@example.com",
		"password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)
	require.NotEmpty(t, access)
	assert.EqualValues(t, 900, body["expires_in"])

	// Duplicate email conflicts.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/auth/register", map[string]any{
		"email":    "dev@example.com",
		"password": "another password",
	}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	bearer := map[string]string{"Authorization": "Bearer " + access}

	resp, body = doJSON(t, ts, http.MethodGet, "/v1/auth/me", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dev@example.com", body["email"])
	assert.Equal(t, "free", body["tier"])

	// Mint an API key and use it against the memory surface.
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/auth/keys", map[string]any{
		"name": "ci",
	}, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	apiKey := body["key"].(string)
	require.NotEmpty(t, apiKey)

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
		"content": "stored via api key", "importance": 5,
	}, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Free tier has no sessions feature.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/sessions/save", map[string]any{
		"summary": "nope",
	}, bearer)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Refresh mints a new access token.
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": refresh,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])

	// Login round-trips the password.
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "dev@example.com",
		"password": "wrong",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "dev@example.com",
		"password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccountRoutesLocalMode(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/auth/register", map[string]any{
		"email": "dev@example.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSynapseDisabled(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/synapse/think", map[string]any{}, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "detail")
}

func TestDemoPlayground(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, ts, http.MethodGet, "/v1/demo/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "playground", body["namespace"])

	// Content above the cap is rejected.
	long := bytes.Repeat([]byte("x"), 201)
	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/demo/memories", map[string]any{
		"content": string(long),
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, ts, http.MethodPost, "/v1/demo/memories", map[string]any{
		"content": "trying out the playground", "importance": 5,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, body["duplicate"].(bool))

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/demo/search", map[string]any{
		"query": "playground",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportImportRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := doJSON(t, ts, http.MethodPost, "/v1/memories", map[string]any{
		"content": "export me", "importance": 6,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodPost, "/v1/export", map[string]any{
		"format": "json",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(string)
	require.NotEmpty(t, data)

	// Import into a different namespace-free tenant view; duplicates
	// collapse, so re-importing the same dump adds nothing.
	resp, body = doJSON(t, ts, http.MethodPost, "/v1/import", map[string]any{
		"data": data,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["imported"])
}
