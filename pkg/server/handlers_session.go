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

	"github.com/engram-ai/engram/pkg/auth"
	"github.com/engram-ai/engram/pkg/autosave"
	"github.com/engram-ai/engram/pkg/hub"
	"github.com/engram-ai/engram/pkg/session"
	"github.com/engram-ai/engram/pkg/tiers"
)

// sessionStore gates the sessions feature and resolves the tenant's
// session store.
func (s *Server) sessionStore(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	id := identityOf(r)
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureSessions); err != nil {
		writeError(w, err)
		return nil, false
	}
	sessions, err := s.registry.Sessions(id.UserID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sessions, true
}

type sessionSaveRequest struct {
	Project       string   `json:"project"`
	Summary       string   `json:"summary"`
	KeyFacts      []string `json:"key_facts"`
	OpenTasks     []string `json:"open_tasks"`
	FilesModified []string `json:"files_modified"`
}

func (s *Server) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	sessions, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var body sessionSaveRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Summary == "" {
		writeDetail(w, http.StatusBadRequest, "summary is required")
		return
	}

	cp, err := sessions.SaveCheckpoint(r.Context(), session.SaveRequest{
		Project:       body.Project,
		Summary:       body.Summary,
		KeyFacts:      body.KeyFacts,
		OpenTasks:     body.OpenTasks,
		FilesModified: body.FilesModified,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.Broadcast(eventChannel(id.UserID, auth.Namespace(r)), hub.EventCheckpointCreated,
		map[string]any{"session_id": cp.SessionID, "checkpoint_num": cp.CheckpointNum})
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleSessionLatest(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	cp, err := sessions.LoadCheckpoint(r.Context(), q.Get("project"), q.Get("session_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeDetail(w, http.StatusBadRequest, "limit must be 1-100")
			return
		}
		limit = n
	}

	list, err := sessions.ListSessions(r.Context(), r.URL.Query().Get("project"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

type sessionProjectRequest struct {
	Project string `json:"project"`
}

func (s *Server) handleSessionRecover(w http.ResponseWriter, r *http.Request) {
	sessions, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var body sessionProjectRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	md, err := sessions.RecoverContext(r.Context(), body.Project)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": md})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	sessions, ok := s.sessionStore(w, r)
	if !ok {
		return
	}

	var body sessionProjectRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A final checkpoint is written first when the policy asks for it.
	if as, err := s.registry.AutoSave(id.UserID, body.Project); err == nil {
		cfg := as.Config()
		if cfg.Enabled && cfg.OnSessionEnd {
			if _, err := as.Checkpoint(r.Context(), autosave.TriggerSessionEnd); err != nil {
				writeError(w, err)
				return
			}
		}
	}

	ended, err := sessions.EndSession(r.Context(), body.Project)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ended": ended})
}
