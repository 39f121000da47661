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

package hub_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/hub"
)

type recordingSub struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
}

func (r *recordingSub) Send(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("connection gone")
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingSub) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.messages...)
}

func TestBroadcastEnvelope(t *testing.T) {
	h := hub.New()
	sub := &recordingSub{}
	h.Subscribe("t1:default", sub)

	h.Broadcast("t1:default", hub.EventMemoryStored, map[string]any{"id": 7, "duplicate": false})

	msgs := sub.received()
	require.Len(t, msgs, 1)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &envelope))
	assert.Equal(t, "memory_stored", envelope["event"])
	assert.EqualValues(t, 7, envelope["id"])
	assert.Equal(t, false, envelope["duplicate"])
}

func TestBroadcastScopedToNamespace(t *testing.T) {
	h := hub.New()
	a := &recordingSub{}
	b := &recordingSub{}
	h.Subscribe("t1:work", a)
	h.Subscribe("t1:home", b)

	h.Broadcast("t1:work", hub.EventMemoryDeleted, map[string]any{"id": 1})

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())
}

func TestFailedSubscriberDropped(t *testing.T) {
	h := hub.New()
	good := &recordingSub{}
	bad := &recordingSub{fail: true}
	h.Subscribe("ns", bad)
	h.Subscribe("ns", good)

	h.Broadcast("ns", hub.EventLinkCreated, nil)
	assert.Equal(t, 1, h.SubscriberCount("ns"), "failed subscriber removed silently")
	assert.Len(t, good.received(), 1, "healthy peers unaffected")

	h.Broadcast("ns", hub.EventLinkDeleted, nil)
	assert.Len(t, good.received(), 2)
}

func TestUnsubscribe(t *testing.T) {
	h := hub.New()
	sub := &recordingSub{}
	h.Subscribe("ns", sub)
	require.Equal(t, 1, h.SubscriberCount("ns"))

	h.Unsubscribe("ns", sub)
	assert.Zero(t, h.SubscriberCount("ns"))

	h.Broadcast("ns", hub.EventMemoryStored, nil)
	assert.Empty(t, sub.received())
}

func TestConcurrentBroadcast(t *testing.T) {
	h := hub.New()
	sub := &recordingSub{}
	h.Subscribe("ns", sub)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Broadcast("ns", hub.EventMemoryStored, map[string]any{"id": i})
		}(i)
	}
	wg.Wait()
	assert.Len(t, sub.received(), 20)
}
