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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/engram-ai/engram/pkg/tiers"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSubscriber bridges a websocket connection into the event hub.
// Writes are serialized; the hub drops the subscriber on first failure.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	if err := s.registry.CheckFeature(limitsOf(r), tiers.FeatureWebSocket); err != nil {
		writeError(w, err)
		return
	}

	namespace := chi.URLParam(r, "namespace")
	if namespace == "" {
		namespace = "default"
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	channel := eventChannel(id.UserID, namespace)
	sub := &wsSubscriber{conn: conn}
	s.hub.Subscribe(channel, sub)
	slog.Debug("websocket subscribed", "tenant", id.UserID, "namespace", namespace)

	defer func() {
		s.hub.Unsubscribe(channel, sub)
		conn.Close()
	}()

	// Read loop exists only to observe pings and disconnects; clients
	// never send payloads we act on.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
