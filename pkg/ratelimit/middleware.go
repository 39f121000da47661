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

package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
)

// KeyFunc resolves a request to a limiter identifier and its limits.
// An empty identifier skips limiting for the request.
type KeyFunc func(r *http.Request) (identifier string, limits []Limit)

// Middleware enforces per-identifier limits. Rejections answer 429
// with a Retry-After header and a {detail} body.
func Middleware(limiter *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, limits := keyFn(r)
			if identifier == "" || len(limits) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			result := limiter.CheckAndRecord(identifier, limits)
			setUsageHeaders(w, result)

			if !result.Allowed {
				if result.RetryAfter != nil {
					secs := int(math.Ceil(result.RetryAfter.Seconds()))
					if secs < 1 {
						secs = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"detail":%q}`, result.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setUsageHeaders exposes the tightest window's state to clients.
func setUsageHeaders(w http.ResponseWriter, result *CheckResult) {
	if len(result.Usages) == 0 {
		return
	}
	u := result.Usages[0]
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(u.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(u.Remaining, 10))
}
