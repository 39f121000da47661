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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/engram-ai/engram/pkg/auth"
	"github.com/engram-ai/engram/pkg/memory"
	"github.com/engram-ai/engram/pkg/registry"
	"github.com/engram-ai/engram/pkg/session"
)

// detailResponse is the error body shape for every failed request.
type detailResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("Response encoding failed", "error", err)
		}
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, session.ErrNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrDuplicate):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrQuotaExceeded), errors.Is(err, registry.ErrFeatureNotEnabled):
		writeDetail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, memory.ErrInvalidInput), errors.Is(err, registry.ErrInvalidTenant):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidAPIKey), errors.Is(err, auth.ErrInvalidCredentials):
		writeDetail(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrKeyLimitReached):
		writeDetail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrKeyNotFound), errors.Is(err, auth.ErrUserNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody parses a JSON request body into v. An empty body leaves
// v at its zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
