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

	"github.com/engram-ai/engram/pkg/autosave"
	"github.com/engram-ai/engram/pkg/tiers"
)

// autoSaveOf gates the autosave feature and resolves the tenant's
// per-project state machine.
func (s *Server) autoSaveOf(w http.ResponseWriter, r *http.Request, project string) (*autosave.AutoSave, bool) {
	id := identityOf(r)
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureAutoSave); err != nil {
		writeError(w, err)
		return nil, false
	}
	as, err := s.registry.AutoSave(id.UserID, project)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return as, true
}

type autoSaveConfigureRequest struct {
	Project string          `json:"project"`
	Config  autosave.Config `json:"config"`
}

func (s *Server) handleAutoSaveConfigure(w http.ResponseWriter, r *http.Request) {
	var body autoSaveConfigureRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	as, ok := s.autoSaveOf(w, r, body.Project)
	if !ok {
		return
	}
	applied := as.Configure(body.Config)
	writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleAutoSaveStatus(w http.ResponseWriter, r *http.Request) {
	as, ok := s.autoSaveOf(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, as.Status())
}

type autoSaveCheckpointRequest struct {
	Project string `json:"project"`
	Reason  string `json:"reason"`
}

func (s *Server) handleAutoSaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	var body autoSaveCheckpointRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	as, ok := s.autoSaveOf(w, r, body.Project)
	if !ok {
		return
	}
	result, err := as.Checkpoint(r.Context(), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type autoSaveRestoreRequest struct {
	Project   string `json:"project"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleAutoSaveRestore(w http.ResponseWriter, r *http.Request) {
	var body autoSaveRestoreRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	as, ok := s.autoSaveOf(w, r, body.Project)
	if !ok {
		return
	}
	cp, err := as.Restore(r.Context(), body.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}
