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

// Package hub fans out change events to per-namespace subscribers.
//
// Delivery is best-effort: a subscriber whose send fails is removed
// silently and never blocks the publisher or its peers.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event names broadcast by the service.
const (
	EventMemoryStored      = "memory_stored"
	EventMemoryUpdated     = "memory_updated"
	EventMemoryDeleted     = "memory_deleted"
	EventLinkCreated       = "link_created"
	EventLinkDeleted       = "link_deleted"
	EventCheckpointCreated = "checkpoint_created"
)

// Subscriber receives raw JSON event envelopes. Send must not block
// indefinitely; an error drops the subscriber.
type Subscriber interface {
	Send(message []byte) error
}

// Hub is a per-namespace broadcast table. Subscriber keys are scoped
// as (tenant, namespace) by the caller building the namespace string.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: map[string][]Subscriber{}}
}

// Subscribe registers a subscriber on a namespace channel.
func (h *Hub) Subscribe(namespace string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[namespace] = append(h.subs[namespace], sub)
}

// Unsubscribe removes a subscriber from a namespace channel.
func (h *Hub) Unsubscribe(namespace string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.subs[namespace]
	for i, s := range conns {
		if s == sub {
			h.subs[namespace] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.subs[namespace]) == 0 {
		delete(h.subs, namespace)
	}
}

// SubscriberCount reports how many subscribers a namespace has.
func (h *Hub) SubscriberCount(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[namespace])
}

// Broadcast sends {"event": event, ...data} to every subscriber of the
// namespace. Failed subscribers are dropped; broadcast iterates a copy
// so subscribers may unsubscribe from within Send.
func (h *Hub) Broadcast(namespace, event string, data map[string]any) {
	envelope := map[string]any{"event": event}
	for k, v := range data {
		envelope[k] = v
	}
	message, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("Event envelope not serializable", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	conns := append([]Subscriber(nil), h.subs[namespace]...)
	h.mu.RUnlock()

	for _, sub := range conns {
		if err := sub.Send(message); err != nil {
			h.Unsubscribe(namespace, sub)
		}
	}
}
