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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engram-ai/engram/pkg/auth"
	"github.com/engram-ai/engram/pkg/contextbuilder"
	"github.com/engram-ai/engram/pkg/embedder"
	"github.com/engram-ai/engram/pkg/hub"
	"github.com/engram-ai/engram/pkg/memory"
	"github.com/engram-ai/engram/pkg/tiers"
)

type storeRequest struct {
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Importance int            `json:"importance"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
	Namespace  string         `json:"namespace"`
	TTLDays    int            `json:"ttl_days"`
}

type storeResponse struct {
	ID        *int64 `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body storeRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ns := body.Namespace
	if ns == "" {
		ns = auth.Namespace(r)
	}

	typ, err := memory.ParseType(body.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	limits := limitsOf(r)
	if err := s.registry.CheckWriteQuota(r.Context(), id.UserID, ns, limits); err != nil {
		writeError(w, err)
		return
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	entry := &memory.Entry{
		Content:    body.Content,
		Type:       typ,
		Importance: body.Importance,
		Namespace:  ns,
		Tags:       body.Tags,
		Metadata:   body.Metadata,
	}
	if body.TTLDays < 0 {
		writeDetail(w, http.StatusBadRequest, "ttl_days must not be negative")
		return
	}
	if body.TTLDays > 0 {
		expires := time.Now().UTC().AddDate(0, 0, body.TTLDays)
		entry.ExpiresAt = &expires
	}
	if limits.Has(tiers.FeatureSemanticSearch) && embedder.Enabled(s.embedder) {
		if vec, err := s.embedder.Embed(r.Context(), body.Content); err != nil {
			slog.Warn("Embedding failed, storing without vector", "error", err)
		} else {
			entry.Embedding = vec
		}
	}

	memID, duplicate, err := store.Store(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := storeResponse{Duplicate: duplicate}
	if !duplicate {
		resp.ID = &memID
		s.hub.Broadcast(eventChannel(id.UserID, ns), hub.EventMemoryStored, map[string]any{"id": memID})
		if as, err := s.registry.AutoSave(id.UserID, ""); err == nil {
			as.TrackStore(memID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	store, memID, ok := s.storeAndID(w, r)
	if !ok {
		return
	}
	entry, err := store.Get(r.Context(), memID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	f := memory.ListFilter{Namespace: auth.Namespace(r), Limit: 50}
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		typ, err := memory.ParseType(v)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Type = typ
	}
	if v := q.Get("min_importance"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			writeDetail(w, http.StatusBadRequest, "min_importance must be 1-10")
			return
		}
		f.MinImportance = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeDetail(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "offset must not be negative")
			return
		}
		f.Offset = n
	}

	entries, err := store.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*memory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type updateRequest struct {
	Content    *string         `json:"content"`
	Type       *string         `json:"type"`
	Importance *int            `json:"importance"`
	Tags       *[]string       `json:"tags"`
	Metadata   *map[string]any `json:"metadata"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	store, memID, ok := s.storeAndID(w, r)
	if !ok {
		return
	}

	var body updateRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := memory.UpdatePatch{
		Content:    body.Content,
		Importance: body.Importance,
		Tags:       body.Tags,
		Metadata:   body.Metadata,
	}
	if body.Type != nil {
		typ, err := memory.ParseType(*body.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.Type = &typ
	}

	entry, err := store.Update(r.Context(), memID, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Broadcast(eventChannel(id.UserID, entry.Namespace), hub.EventMemoryUpdated, map[string]any{"id": memID})
	if as, err := s.registry.AutoSave(id.UserID, ""); err == nil {
		as.TrackUpdate(memID)
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	store, memID, ok := s.storeAndID(w, r)
	if !ok {
		return
	}

	deleted, err := store.Delete(r.Context(), memID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeDetail(w, http.StatusNotFound, "memory not found")
		return
	}

	s.hub.Broadcast(eventChannel(id.UserID, auth.Namespace(r)), hub.EventMemoryDeleted, map[string]any{"id": memID})
	if as, err := s.registry.AutoSave(id.UserID, ""); err == nil {
		as.TrackDelete(memID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type searchRequest struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
	Namespace string `json:"namespace"`
	Semantic  bool   `json:"semantic"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body searchRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Limit == 0 {
		body.Limit = 10
	}
	if body.Limit < 1 || body.Limit > 100 {
		writeDetail(w, http.StatusBadRequest, "limit must be 1-100")
		return
	}
	ns := body.Namespace
	if ns == "" {
		ns = auth.Namespace(r)
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	var results []memory.SearchResult
	if body.Semantic {
		if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureSemanticSearch); err != nil {
			writeError(w, err)
			return
		}
		if !embedder.Enabled(s.embedder) {
			writeDetail(w, http.StatusBadRequest, "semantic search requires an embedding provider")
			return
		}
		vec, err := s.embedder.Embed(r.Context(), body.Query)
		if err != nil {
			writeDetail(w, http.StatusServiceUnavailable, "embedding provider unavailable")
			return
		}
		results, err = store.SearchVector(r.Context(), vec, ns, body.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		results, err = store.SearchText(r.Context(), body.Query, ns, body.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

type recallRequest struct {
	Limit         int    `json:"limit"`
	Namespace     string `json:"namespace"`
	MinImportance int    `json:"min_importance"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body recallRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Limit == 0 {
		body.Limit = 20
	}
	if body.MinImportance == 0 {
		body.MinImportance = 7
	}
	if body.Limit < 1 || body.Limit > 100 || body.MinImportance < 1 || body.MinImportance > 10 {
		writeDetail(w, http.StatusBadRequest, "limit must be 1-100 and min_importance 1-10")
		return
	}
	ns := body.Namespace
	if ns == "" {
		ns = auth.Namespace(r)
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := store.GetPriority(r.Context(), ns, body.Limit, body.MinImportance)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*memory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type contextRequest struct {
	Prompt        string `json:"prompt"`
	MaxTokens     int    `json:"max_tokens"`
	Namespace     string `json:"namespace"`
	MinImportance int    `json:"min_importance"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body contextRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := body.Namespace
	if ns == "" {
		ns = auth.Namespace(r)
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	// The semantic lane only runs for tiers that include it.
	emb := s.embedder
	if !limitsOf(r).Has(tiers.FeatureSemanticSearch) {
		emb = embedder.NewNoop()
	}
	builder, err := contextbuilder.New(store, emb)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := builder.Build(r.Context(), contextbuilder.Request{
		Prompt:        body.Prompt,
		MaxTokens:     body.MaxTokens,
		Namespace:     ns,
		MinImportance: body.MinImportance,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statsResponse struct {
	*memory.Stats
	Namespace string `json:"namespace"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	ns := auth.Namespace(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := store.Stats(r.Context(), ns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, Namespace: ns})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	limits := limitsOf(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	memories, err := store.CountMemories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	namespaces, err := store.CountNamespaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	_, rateLimits := s.rateLimitKey(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"tier":            limits.Name,
		"limits":          limits,
		"memories_used":   memories,
		"namespaces_used": namespaces,
		"requests":        s.limiter.Usage(id.UserID, rateLimits),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureAnalytics); err != nil {
		writeError(w, err)
		return
	}
	ns := auth.Namespace(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := store.Stats(r.Context(), ns)
	if err != nil {
		writeError(w, err)
		return
	}
	top, err := store.GetPriority(r.Context(), ns, 10, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if top == nil {
		top = []*memory.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace":          ns,
		"total_memories":     stats.TotalMemories,
		"by_type":            stats.ByType,
		"average_importance": stats.AverageImportance,
		"embedding_coverage": stats.EmbeddingCoverage,
		"db_size_mb":         stats.DBSizeMB,
		"top_memories":       top,
	})
}

type exportRequest struct {
	Namespace string `json:"namespace"`
	Format    string `json:"format"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body exportRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Format == "" {
		body.Format = string(memory.FormatJSON)
	}
	ns := body.Namespace
	if ns == "" {
		ns = auth.Namespace(r)
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := store.Export(r.Context(), ns, memory.ExportFormat(body.Format))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"data": data, "format": body.Format})
}

type importRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body importRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := store.Import(r.Context(), body.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

const backfillBatchSize = 100

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureSemanticSearch); err != nil {
		writeError(w, err)
		return
	}
	if !embedder.Enabled(s.embedder) {
		writeDetail(w, http.StatusBadRequest, "backfill requires an embedding provider")
		return
	}
	ns := auth.Namespace(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	embedded := 0
	for {
		entries, err := store.ListWithoutEmbeddings(r.Context(), ns, backfillBatchSize, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(entries) == 0 {
			break
		}
		progressed := false
		for _, e := range entries {
			vec, err := s.embedder.Embed(r.Context(), e.Content)
			if err != nil {
				slog.Warn("Backfill embedding failed", "id", e.ID, "error", err)
				continue
			}
			if err := store.UpdateEmbedding(r.Context(), e.ID, vec); err != nil {
				writeError(w, err)
				return
			}
			embedded++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"embedded": embedded})
}

func (s *Server) handleCleanupExpired(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	removed, err := store.CleanupExpired(r.Context(), auth.Namespace(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

type pruneRequest struct {
	Days          int    `json:"days"`
	MinImportance int    `json:"min_importance"`
	Namespace     string `json:"namespace"`
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	var body pruneRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Days == 0 {
		body.Days = 30
	}
	if body.MinImportance == 0 {
		body.MinImportance = 3
	}
	ns := body.Namespace
	if ns == "" {
		ns = auth.Namespace(r)
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	pruned, err := store.Prune(r.Context(), body.Days, body.MinImportance, ns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pruned": pruned})
}

// storeAndID resolves the tenant store and the {id} path parameter.
func (s *Server) storeAndID(w http.ResponseWriter, r *http.Request) (*memory.Store, int64, bool) {
	id := identityOf(r)
	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return nil, 0, false
	}
	memID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid memory id")
		return nil, 0, false
	}
	return store, memID, true
}
