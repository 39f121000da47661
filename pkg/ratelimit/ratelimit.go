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

// Package ratelimit provides a fixed-window request limiter keyed by
// tenant. Windows reset when they expire; counters live in memory.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Window is a rate limiting time window.
type Window string

const (
	WindowSecond Window = "second"
	WindowMinute Window = "minute"
	WindowMonth  Window = "month"
)

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return time.Second
	}
}

// Limit caps requests inside one window. Max <= 0 means unlimited.
type Limit struct {
	Window Window
	Max    int64
}

// Usage is the current state of one limit for one identifier.
type Usage struct {
	Window    Window    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	WindowEnd time.Time `json:"window_end"`
}

// CheckResult is the outcome of a limiter check.
type CheckResult struct {
	Allowed    bool           `json:"allowed"`
	Reason     string         `json:"reason,omitempty"`
	Usages     []Usage        `json:"usages"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
}

type bucket struct {
	count     int64
	windowEnd time.Time
}

// Limiter counts requests per (identifier, window) in memory.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return NewLimiterWithClock(time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock.
func NewLimiterWithClock(now func() time.Time) *Limiter {
	return &Limiter{buckets: map[string]*bucket{}, now: now}
}

func bucketKey(identifier string, w Window) string {
	return identifier + "|" + string(w)
}

// CheckAndRecord atomically checks every limit and, when all allow,
// records the request against each window.
func (l *Limiter) CheckAndRecord(identifier string, limits []Limit) *CheckResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	result := &CheckResult{Allowed: true}

	var earliestRetry time.Time
	active := make([]*bucket, 0, len(limits))
	for _, limit := range limits {
		if limit.Max <= 0 {
			active = append(active, nil)
			continue
		}

		b := l.buckets[bucketKey(identifier, limit.Window)]
		if b == nil || !b.windowEnd.After(now) {
			b = &bucket{windowEnd: now.Add(limit.Window.Duration())}
			l.buckets[bucketKey(identifier, limit.Window)] = b
		}
		active = append(active, b)

		remaining := limit.Max - b.count
		if remaining < 0 {
			remaining = 0
		}
		result.Usages = append(result.Usages, Usage{
			Window:    limit.Window,
			Current:   b.count,
			Limit:     limit.Max,
			Remaining: remaining,
			WindowEnd: b.windowEnd,
		})

		if b.count >= limit.Max {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("rate limit exceeded for %s window (%d/%d)",
					limit.Window, b.count, limit.Max)
			}
			if earliestRetry.IsZero() || b.windowEnd.Before(earliestRetry) {
				earliestRetry = b.windowEnd
			}
		}
	}

	if !result.Allowed {
		retry := earliestRetry.Sub(now)
		if retry < 0 {
			retry = 0
		}
		result.RetryAfter = &retry
		return result
	}

	for _, b := range active {
		if b != nil {
			b.count++
		}
	}
	// Reflect the recorded request in the reported usage.
	for i := range result.Usages {
		result.Usages[i].Current++
		if result.Usages[i].Remaining > 0 {
			result.Usages[i].Remaining--
		}
	}
	return result
}

// Usage reports the current state without recording anything.
func (l *Limiter) Usage(identifier string, limits []Limit) []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	usages := make([]Usage, 0, len(limits))
	for _, limit := range limits {
		if limit.Max <= 0 {
			continue
		}
		var count int64
		windowEnd := now.Add(limit.Window.Duration())
		if b := l.buckets[bucketKey(identifier, limit.Window)]; b != nil && b.windowEnd.After(now) {
			count = b.count
			windowEnd = b.windowEnd
		}
		remaining := limit.Max - count
		if remaining < 0 {
			remaining = 0
		}
		usages = append(usages, Usage{
			Window:    limit.Window,
			Current:   count,
			Limit:     limit.Max,
			Remaining: remaining,
			WindowEnd: windowEnd,
		})
	}
	return usages
}

// Reset clears all windows for an identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range []Window{WindowSecond, WindowMinute, WindowMonth} {
		delete(l.buckets, bucketKey(identifier, w))
	}
}

// Sweep drops buckets whose windows have ended. Call periodically to
// bound memory on long-running processes.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if !b.windowEnd.After(now) {
			delete(l.buckets, key)
		}
	}
}
