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

package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/engram-ai/engram/pkg/memory"
	"github.com/engram-ai/engram/pkg/ratelimit"
)

// The demo playground is an unauthenticated shared sandbox with its
// own tenant, tight per-IP limits and hard content caps.
const (
	demoTenantID      = "demo"
	demoNamespace     = "playground"
	demoMaxMemories   = 500
	demoMaxContentLen = 200
)

var demoSeedMemories = []struct {
	content    string
	memType    memory.Type
	importance int
	tags       []string
}{
	{"Engram stores memories as content-addressed rows, so storing the same text twice is a no-op.", memory.TypeFact, 8, []string{"engram", "dedup"}},
	{"Prefer table-driven tests over one function per case.", memory.TypePreference, 7, []string{"testing", "style"}},
	{"Chose SQLite with FTS5 over Postgres for the storage layer to keep single-binary deploys.", memory.TypeDecision, 9, []string{"storage", "architecture"}},
	{"Fixed: websocket writes from multiple goroutines need a mutex around the connection.", memory.TypeErrorFix, 8, []string{"websocket", "concurrency"}},
	{"Handlers validate input first, then check quotas, then touch storage.", memory.TypePattern, 6, []string{"http", "validation"}},
	{"Release workflow: tag, changelog, build, publish.", memory.TypeWorkflow, 5, []string{"release"}},
	{"Week 12: shipped link graph traversal and session checkpoints.", memory.TypeSummary, 6, []string{"changelog"}},
	{"Importance runs 1-10; recall defaults to a floor of 7.", memory.TypeFact, 7, []string{"engram", "recall"}},
}

var demoSeedOnce sync.Once

// mountDemoRoutes exposes a read-mostly playground without auth. A
// dedicated limiter keyed by client IP keeps it from being abused.
func (s *Server) mountDemoRoutes(r chi.Router) {
	demoLimiter := ratelimit.NewLimiter()
	r.Use(ratelimit.Middleware(demoLimiter, demoRateKey))

	r.Post("/memories", s.handleDemoStore)
	r.Get("/memories", s.handleDemoList)
	r.Post("/search", s.handleDemoSearch)
	r.Get("/stats", s.handleDemoStats)
}

func demoRateKey(r *http.Request) (string, []ratelimit.Limit) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "demo:" + host, []ratelimit.Limit{
		{Window: ratelimit.WindowMinute, Max: 10},
	}
}

// demoStore resolves the playground store, seeding it on first use.
func (s *Server) demoStore(ctx context.Context) (*memory.Store, error) {
	store, err := s.registry.Store(demoTenantID)
	if err != nil {
		return nil, err
	}
	demoSeedOnce.Do(func() {
		count, err := store.CountMemories(ctx)
		if err != nil || count > 0 {
			return
		}
		for _, seed := range demoSeedMemories {
			entry := &memory.Entry{
				Content:    seed.content,
				Type:       seed.memType,
				Importance: seed.importance,
				Namespace:  demoNamespace,
				Tags:       seed.tags,
			}
			if _, _, err := store.Store(ctx, entry); err != nil {
				slog.Warn("demo seed failed", "error", err)
				return
			}
		}
	})
	return store, nil
}

func (s *Server) handleDemoStore(w http.ResponseWriter, r *http.Request) {
	var body storeRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Content == "" {
		writeDetail(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(body.Content) > demoMaxContentLen {
		writeDetail(w, http.StatusBadRequest, "demo content is capped at 200 characters")
		return
	}

	memType, err := memory.ParseType(body.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	store, err := s.demoStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := store.CountMemories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if count >= demoMaxMemories {
		writeDetail(w, http.StatusForbidden, "demo playground is full")
		return
	}

	entry := &memory.Entry{
		Content:    body.Content,
		Type:       memType,
		Importance: body.Importance,
		Namespace:  demoNamespace,
		Tags:       body.Tags,
	}
	memID, duplicate, err := store.Store(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := storeResponse{Duplicate: duplicate}
	if !duplicate {
		resp.ID = &memID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDemoList(w http.ResponseWriter, r *http.Request) {
	store, err := s.demoStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeDetail(w, http.StatusBadRequest, "limit must be 1-100")
			return
		}
		limit = n
	}

	entries, err := store.List(r.Context(), memory.ListFilter{
		Namespace: demoNamespace,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*memory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDemoSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" {
		writeDetail(w, http.StatusBadRequest, "query is required")
		return
	}
	if body.Limit == 0 {
		body.Limit = 10
	}
	if body.Limit < 1 || body.Limit > 50 {
		writeDetail(w, http.StatusBadRequest, "limit must be 1-50")
		return
	}

	store, err := s.demoStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := store.SearchText(r.Context(), body.Query, demoNamespace, body.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDemoStats(w http.ResponseWriter, r *http.Request) {
	store, err := s.demoStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := store.Stats(r.Context(), demoNamespace)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, Namespace: demoNamespace})
}
