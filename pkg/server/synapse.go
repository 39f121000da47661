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
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/engram-ai/engram/pkg/tiers"
)

// hopHeaders are stripped when relaying to the synapse backend.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// handleSynapseProxy relays /v1/synapse/* to the configured synapse
// service, passing status and body through verbatim.
func (s *Server) handleSynapseProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureSynapse); err != nil {
		writeError(w, err)
		return
	}
	if !s.cfg.Synapse.Enabled {
		writeDetail(w, http.StatusServiceUnavailable, "synapse integration is not enabled")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/synapse")
	target := strings.TrimRight(s.cfg.Synapse.BaseURL, "/") + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid synapse request")
		return
	}
	req.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	client := &http.Client{Timeout: time.Duration(s.cfg.Synapse.TimeoutSeconds) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("synapse backend unreachable", "target", target, "error", err)
		writeDetail(w, http.StatusServiceUnavailable, "synapse service unreachable")
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("synapse response relay interrupted", "error", err)
	}
}
