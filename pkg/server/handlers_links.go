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
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/engram-ai/engram/pkg/auth"
	"github.com/engram-ai/engram/pkg/hub"
	"github.com/engram-ai/engram/pkg/memory"
	"github.com/engram-ai/engram/pkg/tiers"
)

func (s *Server) checkLinksFeature(w http.ResponseWriter, r *http.Request) bool {
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureLinks); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

type linkRequest struct {
	SourceID int64          `json:"source_id"`
	TargetID int64          `json:"target_id"`
	Relation string         `json:"relation"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleLinkCreate(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	if !s.checkLinksFeature(w, r) {
		return
	}

	var body linkRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	relation, err := memory.ParseRelation(body.Relation)
	if err != nil {
		writeError(w, err)
		return
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	linkID, err := store.Link(r.Context(), body.SourceID, body.TargetID, relation, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Broadcast(eventChannel(id.UserID, auth.Namespace(r)), hub.EventLinkCreated,
		map[string]any{"id": linkID, "source_id": body.SourceID, "target_id": body.TargetID})
	if as, err := s.registry.AutoSave(id.UserID, ""); err == nil {
		as.TrackLink(linkID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": linkID, "relation": relation})
}

func (s *Server) handleLinkDelete(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	if !s.checkLinksFeature(w, r) {
		return
	}

	linkID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid link id")
		return
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	deleted, err := store.Unlink(r.Context(), linkID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeDetail(w, http.StatusNotFound, "link not found")
		return
	}

	s.hub.Broadcast(eventChannel(id.UserID, auth.Namespace(r)), hub.EventLinkDeleted,
		map[string]any{"id": linkID})
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleMemoryLinks(w http.ResponseWriter, r *http.Request) {
	if !s.checkLinksFeature(w, r) {
		return
	}
	store, memID, ok := s.storeAndID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	direction, err := memory.ParseDirection(q.Get("direction"))
	if err != nil {
		writeError(w, err)
		return
	}
	var relation memory.Relation
	if v := q.Get("relation"); v != "" {
		relation, err = memory.ParseRelation(v)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	links, err := store.Links(r.Context(), memID, direction, relation)
	if err != nil {
		writeError(w, err)
		return
	}
	if links == nil {
		links = []memory.LinkedMemory{}
	}
	writeJSON(w, http.StatusOK, links)
}

type graphRequest struct {
	RootID   int64  `json:"root_id"`
	MaxDepth int    `json:"max_depth"`
	Relation string `json:"relation"`
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	if !s.checkLinksFeature(w, r) {
		return
	}

	var body graphRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.MaxDepth == 0 {
		body.MaxDepth = 2
	}

	var relation memory.Relation
	if body.Relation != "" {
		var err error
		relation, err = memory.ParseRelation(body.Relation)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	store, err := s.registry.Store(id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	graph, err := store.GraphTraverse(r.Context(), body.RootID, body.MaxDepth, relation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}
